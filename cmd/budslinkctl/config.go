package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/openbuds/budslink/internal/protocol"
)

// appConfig carries the tool-wide settings a config file may override.
type appConfig struct {
	Address         string
	Model           protocol.Model
	Profile         protocol.Profile
	RecoveryDir     string
	SessionTimeout  time.Duration
	ControlTimeout  time.Duration
	TransferTimeout time.Duration
	MinBattery      int
	AllowDowngrade  bool
}

type fileConfig struct {
	Address         string `toml:"address"`
	Model           string `toml:"model"`
	Profile         string `toml:"profile"`
	RecoveryDir     string `toml:"recovery_dir"`
	SessionTimeout  string `toml:"session_timeout"`
	ControlTimeout  string `toml:"control_timeout"`
	TransferTimeout string `toml:"transfer_timeout"`
	MinBattery      int    `toml:"min_battery"`
	AllowDowngrade  bool   `toml:"allow_downgrade"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		Model:           protocol.ModelBudsPlus,
		Profile:         protocol.ProfileStandard,
		RecoveryDir:     "recovery",
		SessionTimeout:  20 * time.Second,
		ControlTimeout:  20 * time.Second,
		TransferTimeout: 10 * time.Minute,
		MinBattery:      30,
	}
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("model") {
		m, err := parseModel(raw.Model)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Model = m
	}
	if meta.IsDefined("profile") {
		switch strings.TrimSpace(strings.ToLower(raw.Profile)) {
		case "", "standard":
			cfg.Profile = protocol.ProfileStandard
		case "alternative":
			cfg.Profile = protocol.ProfileAlternative
		default:
			return appConfig{}, fmt.Errorf("parse profile: unknown %q", raw.Profile)
		}
	}
	if meta.IsDefined("recovery_dir") {
		dir := strings.TrimSpace(raw.RecoveryDir)
		if dir != "" {
			cfg.RecoveryDir = dir
		}
	}
	if meta.IsDefined("session_timeout") {
		if cfg.SessionTimeout, err = parseTimeout("session_timeout", raw.SessionTimeout); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("control_timeout") {
		if cfg.ControlTimeout, err = parseTimeout("control_timeout", raw.ControlTimeout); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("transfer_timeout") {
		if cfg.TransferTimeout, err = parseTimeout("transfer_timeout", raw.TransferTimeout); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("min_battery") {
		if raw.MinBattery < 0 || raw.MinBattery > 100 {
			return appConfig{}, fmt.Errorf("min_battery %d out of range", raw.MinBattery)
		}
		cfg.MinBattery = raw.MinBattery
	}
	if meta.IsDefined("allow_downgrade") {
		cfg.AllowDowngrade = raw.AllowDowngrade
	}

	return cfg, nil
}

func parseTimeout(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", name)
	}
	return d, nil
}

// parseModel accepts either the model name ("buds-plus") or the build
// codename ("R175").
func parseModel(raw string) (protocol.Model, error) {
	v := strings.TrimSpace(raw)
	if m, ok := protocol.ModelByCodename(strings.ToUpper(v)); ok {
		return m, nil
	}
	for _, m := range protocol.AllModels() {
		if strings.EqualFold(m.String(), v) {
			return m, nil
		}
	}
	return protocol.ModelUnknown, fmt.Errorf("parse model: unknown %q", raw)
}
