// Package recovery persists in-flight transfer metadata so an update that
// died mid-flight can be detected and resumed on the next connect. One record
// at a time: starting a new transfer overwrites whatever came before it.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openbuds/budslink/internal/connection"
	"github.com/openbuds/budslink/internal/firmware"
	"github.com/openbuds/budslink/internal/transfer"
)

const (
	recordFile       = "pending.json"
	connectAttempts  = 3
	// versionRecoveryMarker shows up in the reported firmware version while
	// a device is stuck mid-update.
	versionRecoveryMarker = "FOTA"
)

var (
	ErrNoRecovery       = errors.New("recovery: no pending record")
	ErrBinaryCorrupt    = errors.New("recovery: persisted binary does not match its record")
	ErrRecoveryTimedOut = errors.New("recovery: transfer did not complete in time")
)

// Record is the durable bookkeeping written before a transfer starts.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	BuildName  string    `json:"build_name"`
	Version    string    `json:"version"`
	Model      string    `json:"model"`
	Checksum   string    `json:"checksum"`
	BinaryPath string    `json:"binary_path"`
}

// Installer is the slice of the transfer manager recovery needs.
// *transfer.Manager satisfies it.
type Installer interface {
	Install(ctx context.Context, bin *firmware.Binary) error
	Events() *transfer.Bus
	EnterRecoveryMode() bool
	ExitRecoveryMode()
}

// Manager owns one recovery directory. It doubles as the transfer manager's
// RecoveryStore.
type Manager struct {
	dir       string
	link      *connection.Manager
	installer Installer

	completionTimeout time.Duration
}

// Option is a functional option for NewManager.
type Option func(*Manager)

// WithCompletionTimeout bounds how long StartRecovery waits for the resumed
// transfer to finish.
func WithCompletionTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.completionTimeout = d
		}
	}
}

func NewManager(dir string, link *connection.Manager, installer Installer, opts ...Option) *Manager {
	m := &Manager{
		dir:               dir,
		link:              link,
		installer:         installer,
		completionTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) recordPath() string { return filepath.Join(m.dir, recordFile) }

// Save persists the raw image and its metadata record. Implements
// transfer.RecoveryStore; the transfer manager calls it right before opening
// a session.
func (m *Manager) Save(bin *firmware.Binary) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("recovery: create dir: %w", err)
	}
	id := uuid.NewString()
	binPath := filepath.Join(m.dir, id+".bin")
	if err := os.WriteFile(binPath, bin.Data, 0o644); err != nil {
		return fmt.Errorf("recovery: persist binary: %w", err)
	}
	rec := Record{
		ID:         id,
		Timestamp:  time.Now().UTC(),
		BuildName:  bin.BuildName,
		Version:    bin.Version,
		Model:      bin.Model.String(),
		Checksum:   bin.Checksum,
		BinaryPath: binPath,
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("recovery: encode record: %w", err)
	}
	// Write-then-rename so a crash never leaves a half-written record.
	tmp := m.recordPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("recovery: write record: %w", err)
	}
	if err := os.Rename(tmp, m.recordPath()); err != nil {
		return fmt.Errorf("recovery: commit record: %w", err)
	}
	log.Info().Str("id", id).Str("build", bin.BuildName).Msg("recovery: record saved")
	return nil
}

// Load reads the pending record, or returns (nil, nil) when there is none.
func (m *Manager) Load() (*Record, error) {
	raw, err := os.ReadFile(m.recordPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("recovery: decode record: %w", err)
	}
	return &rec, nil
}

// DetectInterrupted reports whether an earlier update looks unfinished: a
// pending record on disk, the device flagging an open update session, or a
// firmware version string carrying the recovery marker.
func (m *Manager) DetectInterrupted() bool {
	if rec, err := m.Load(); err == nil && rec != nil {
		return true
	}
	st, ok := m.link.Status()
	if !ok {
		return false
	}
	if st.InFotaSession {
		return true
	}
	return strings.Contains(strings.ToUpper(st.FirmwareVersion), versionRecoveryMarker)
}

// StartRecovery resumes the persisted transfer: reload and re-verify the
// image, reconnect if the link is down, run the normal install path and wait
// for the outcome. The record is cleared only on success.
func (m *Manager) StartRecovery(ctx context.Context) error {
	rec, err := m.Load()
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNoRecovery
	}

	raw, err := os.ReadFile(rec.BinaryPath)
	if err != nil {
		return fmt.Errorf("recovery: read binary: %w", err)
	}
	bin, err := firmware.Parse(raw, rec.BuildName)
	if err != nil {
		return fmt.Errorf("recovery: reparse binary: %w", err)
	}
	if bin.Checksum != rec.Checksum {
		return ErrBinaryCorrupt
	}
	if !firmware.VerifyHeaderStructure(bin) {
		return ErrBinaryCorrupt
	}

	entered := m.installer.EnterRecoveryMode()
	if m.link.States().State() != connection.StateConnected {
		if err := m.link.ConnectWithBackoff(ctx, connectAttempts); err != nil {
			if entered {
				m.installer.ExitRecoveryMode()
			}
			return fmt.Errorf("recovery: reconnect: %w", err)
		}
	}

	events, unsub := m.installer.Events().Subscribe()
	defer unsub()

	if entered {
		m.installer.ExitRecoveryMode()
	}
	log.Info().Str("id", rec.ID).Str("build", rec.BuildName).Msg("recovery: resuming transfer")
	if err := m.installer.Install(ctx, bin); err != nil {
		return fmt.Errorf("recovery: reinstall: %w", err)
	}

	deadline := time.After(m.completionTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrRecoveryTimedOut
		case e, ok := <-events:
			if !ok {
				return ErrRecoveryTimedOut
			}
			switch e.Type {
			case transfer.EventFinished:
				if err := m.Clear(); err != nil {
					log.Warn().Err(err).Msg("recovery: clear after success failed")
				}
				return nil
			case transfer.EventError:
				return e.Err
			}
		}
	}
}

// Clear removes the record and every persisted binary in the directory.
func (m *Manager) Clear() error {
	if err := os.Remove(m.recordPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("recovery: remove record: %w", err)
	}
	bins, err := filepath.Glob(filepath.Join(m.dir, "*.bin"))
	if err != nil {
		return fmt.Errorf("recovery: scan binaries: %w", err)
	}
	for _, p := range bins {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("recovery: remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}
