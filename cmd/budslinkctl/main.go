// budslinkctl inspects firmware images, runs the pre-transfer integrity gate
// and manages the on-disk recovery state.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openbuds/budslink/internal/firmware"
	"github.com/openbuds/budslink/internal/logging"
	"github.com/openbuds/budslink/internal/recovery"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: budslinkctl <command> [flags]

commands:
  inspect <image>    parse a firmware image and print its layout
  verify <image>     run the integrity gate against a firmware image
  recovery status    show the pending recovery record, if any
  recovery clear     delete the recovery record and persisted binaries
`)
}

func main() {
	logging.ConfigureRuntime()

	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "inspect":
		err = runInspect(args[1:])
	case "verify":
		err = runVerify(args[1:])
	case "recovery":
		err = runRecovery(args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "budslinkctl: %v\n", err)
		os.Exit(1)
	}
}

func loadImage(fs *flag.FlagSet, buildName string) (*firmware.Binary, error) {
	path := fs.Arg(0)
	if path == "" {
		return nil, errors.New("missing image path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if buildName == "" {
		buildName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return firmware.Parse(raw, buildName)
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	buildName := fs.String("build", "", "build name override (defaults to the file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	bin, err := loadImage(fs, *buildName)
	if err != nil {
		return err
	}

	fmt.Printf("build:      %s\n", bin.BuildName)
	fmt.Printf("model:      %s\n", bin.Model)
	fmt.Printf("version:    %s\n", bin.Version)
	fmt.Printf("build date: %s\n", bin.BuildDate)
	fmt.Printf("total size: %d bytes\n", bin.TotalSize)
	fmt.Printf("image crc:  %08X\n", bin.ImageCRC32)
	fmt.Printf("sha-256:    %s\n", bin.Checksum)
	fmt.Printf("segments:   %d\n", len(bin.Segments))
	for _, seg := range bin.Segments {
		fmt.Printf("  id=%d offset=%d size=%d crc32=%08X\n", seg.ID, seg.Offset, seg.Size, seg.CRC32)
	}
	if firmware.VerifyHeaderStructure(bin) {
		fmt.Println("structure:  ok")
	} else {
		fmt.Println("structure:  INVALID")
	}
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a budslinkctl config file")
	modelFlag := fs.String("model", "", "connected device model (name or codename)")
	deviceVersion := fs.String("device-version", "", "firmware version the device currently reports")
	buildName := fs.String("build", "", "build name override (defaults to the file name)")
	allowDowngrade := fs.Bool("allow-downgrade", false, "accept images older than the device firmware")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := defaultAppConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadAppConfig(*configPath); err != nil {
			return err
		}
	}
	if *modelFlag != "" {
		m, err := parseModel(*modelFlag)
		if err != nil {
			return err
		}
		cfg.Model = m
	}

	bin, err := loadImage(fs, *buildName)
	if err != nil {
		return err
	}
	bin.AllowDowngrade = *allowDowngrade || cfg.AllowDowngrade

	if *deviceVersion == "" {
		if !firmware.VerifyHeaderStructure(bin) {
			return errors.New("image failed structural verification")
		}
		fmt.Println("structure ok (no device version given, compatibility gate skipped)")
		return nil
	}
	dev := firmware.DeviceInfo{Model: cfg.Model, FirmwareVersion: *deviceVersion}
	if !firmware.Verify(bin, dev) {
		return fmt.Errorf("image rejected for %s running %s", dev.Model, dev.FirmwareVersion)
	}
	fmt.Printf("image ok for %s running %s\n", dev.Model, dev.FirmwareVersion)
	return nil
}

func runRecovery(args []string) error {
	fs := flag.NewFlagSet("recovery", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a budslinkctl config file")
	dir := fs.String("dir", "", "recovery directory override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sub := fs.Arg(0)

	cfg := defaultAppConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadAppConfig(*configPath); err != nil {
			return err
		}
	}
	if *dir != "" {
		cfg.RecoveryDir = *dir
	}

	// Record bookkeeping needs no device link.
	rm := recovery.NewManager(cfg.RecoveryDir, nil, nil)
	switch sub {
	case "status":
		rec, err := rm.Load()
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("no pending recovery record")
			return nil
		}
		fmt.Printf("id:        %s\n", rec.ID)
		fmt.Printf("saved:     %s\n", rec.Timestamp.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("build:     %s\n", rec.BuildName)
		fmt.Printf("version:   %s\n", rec.Version)
		fmt.Printf("model:     %s\n", rec.Model)
		fmt.Printf("checksum:  %s\n", rec.Checksum)
		fmt.Printf("binary:    %s\n", rec.BinaryPath)
		return nil
	case "clear":
		if err := rm.Clear(); err != nil {
			return err
		}
		fmt.Println("recovery state cleared")
		return nil
	default:
		return fmt.Errorf("unknown recovery subcommand %q (want status or clear)", sub)
	}
}
