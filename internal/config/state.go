package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soundkeeplab/michold/internal/capture"
)

// persistedState is the daemon state written through to disk so UI
// collaborators and the next daemon run can read it.
type persistedState struct {
	LastMechanism string `yaml:"last_mechanism"`
	UpdatedAt     string `yaml:"updated_at"`
}

// StateFile persists small cross-run state as YAML. It implements
// capture.PreferenceStore.
type StateFile struct {
	path string
}

// NewStateFile creates a state store at the given path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// SaveLastMechanism records the mechanism that last acquired successfully.
func (s *StateFile) SaveLastMechanism(m capture.Mechanism) error {
	state, _ := s.read()
	state.LastMechanism = string(m)
	state.UpdatedAt = time.Now().Format(time.RFC3339)
	return s.write(state)
}

// LastMechanism returns the last persisted mechanism, if any.
func (s *StateFile) LastMechanism() (capture.Mechanism, bool) {
	state, err := s.read()
	if err != nil || state.LastMechanism == "" {
		return "", false
	}
	return capture.Mechanism(state.LastMechanism), true
}

func (s *StateFile) read() (persistedState, error) {
	var state persistedState

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := yaml.Unmarshal(data, &state); err != nil {
		return persistedState{}, fmt.Errorf("failed to parse state file: %w", err)
	}

	return state, nil
}

func (s *StateFile) write(state persistedState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}
