// Package daemon tracks a background server process through a state file.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrNotRunning is returned when no live daemon is recorded.
var ErrNotRunning = errors.New("daemon not running")

// State is what a running server records about itself.
type State struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

// URL returns the base http URL of the recorded address.
func (s *State) URL() string {
	return "http://" + s.Addr
}

// PIDFile manages the daemon state file.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process as serving on addr.
func (p *PIDFile) Write(addr string) error {
	return p.WriteState(State{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()})
}

// WriteState atomically replaces the state file.
func (p *PIDFile) WriteState(s State) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.Path)
}

// Read loads the recorded state. A missing file yields ErrNotRunning.
func (p *PIDFile) Read() (*State, error) {
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotRunning
	}
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid PID file content: %w", err)
	}
	if s.PID <= 0 {
		return nil, fmt.Errorf("invalid PID file content: pid %d", s.PID)
	}
	return &s, nil
}

// Remove deletes the state file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	err := os.Remove(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Status returns the recorded state when the process is alive. A state
// file left behind by a dead process is removed.
func (p *PIDFile) Status() (*State, error) {
	s, err := p.Read()
	if err != nil {
		return nil, err
	}
	if !processAlive(s.PID) {
		_ = p.Remove()
		return nil, ErrNotRunning
	}
	return s, nil
}

// Stop asks the daemon to terminate and waits up to timeout for it to exit.
func (p *PIDFile) Stop(timeout time.Duration) (*State, error) {
	s, err := p.Status()
	if err != nil {
		return nil, err
	}
	if err := terminate(s.PID); err != nil {
		return s, fmt.Errorf("signal pid %d: %w", s.PID, err)
	}

	deadline := time.Now().Add(timeout)
	for processAlive(s.PID) {
		if time.Now().After(deadline) {
			return s, fmt.Errorf("pid %d still running after %s", s.PID, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return s, p.Remove()
}
