// Package state persists the call the user was in, so that restarting the
// client rejoins the same room with the same toggles.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Saved is what survives a restart.
type Saved struct {
	Room      string `mapstructure:"room"`
	Name      string `mapstructure:"name"`
	MicMuted  bool   `mapstructure:"mic_muted"`
	CameraOff bool   `mapstructure:"camera_off"`
}

// CanRejoin reports whether enough was saved to rejoin without prompting.
func (s Saved) CanRejoin() bool {
	return s.Room != "" && s.Name != ""
}

// Store reads and writes Saved as a YAML file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by path. The file is created on first Save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the saved state; ok is false when nothing was saved.
func (s *Store) Load() (saved Saved, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Saved{}, false, nil
		}
		return Saved{}, false, fmt.Errorf("read state %s: %w", s.path, err)
	}
	if err := v.Unmarshal(&saved); err != nil {
		return Saved{}, false, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	return saved, true, nil
}

// Save overwrites the state file.
func (s *Store) Save(saved Saved) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("room", saved.Room)
	v.Set("name", saved.Name)
	v.Set("mic_muted", saved.MicMuted)
	v.Set("camera_off", saved.CameraOff)
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write state %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the state file. Clearing twice is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}
