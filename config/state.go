package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"squadstream/log"
)

const StateFileName = "state.json"

// RunStorage keeps the runs of the last invocation.
type RunStorage interface {
	// SaveRuns saves the raw run data
	SaveRuns(runsJSON json.RawMessage) error
	// GetRuns returns the raw run data
	GetRuns() json.RawMessage
	// DeleteAllRuns removes all stored runs
	DeleteAllRuns() error
}

// AppState handles application-level state
type AppState interface {
	// GetHelpScreensSeen returns the bitmask of seen help screens
	GetHelpScreensSeen() uint32
	// SetHelpScreensSeen updates the bitmask of seen help screens
	SetHelpScreensSeen(seen uint32) error
}

// StateManager combines run storage and app state management
type StateManager interface {
	RunStorage
	AppState
}

// State represents the application state that persists between sessions
type State struct {
	// HelpScreensSeen is a bitmask tracking which help screens have been shown
	HelpScreensSeen uint32 `json:"help_screens_seen"`
	// RunsData stores the serialized runs as raw JSON
	RunsData json.RawMessage `json:"runs"`

	path string
}

// DefaultState returns the default state
func DefaultState() *State {
	return &State{
		HelpScreensSeen: 0,
		RunsData:        json.RawMessage("[]"),
	}
}

// LoadState loads the state from the config directory. If it cannot be done, we return
// the default state.
func LoadState() *State {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultState()
	}
	return LoadStateFrom(filepath.Join(configDir, StateFileName))
}

// LoadStateFrom loads the state from statePath. Saving the returned state writes it back
// to the same path.
func LoadStateFrom(statePath string) *State {
	state := DefaultState()
	state.path = statePath

	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default state if file doesn't exist
			if saveErr := state.save(); saveErr != nil {
				log.WarningLog.Printf("failed to save default state: %v", saveErr)
			}
		} else {
			log.WarningLog.Printf("failed to get state file: %v", err)
		}
		return state
	}

	if err := json.Unmarshal(data, state); err != nil {
		log.ErrorLog.Printf("failed to parse state file: %v", err)
		state = DefaultState()
		state.path = statePath
	}
	return state
}

func (s *State) save() error {
	if s.path == "" {
		configDir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to get config directory: %w", err)
		}
		s.path = filepath.Join(configDir, StateFileName)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0644)
}

// SaveRuns saves the raw run data
func (s *State) SaveRuns(runsJSON json.RawMessage) error {
	s.RunsData = runsJSON
	return s.save()
}

// GetRuns returns the raw run data
func (s *State) GetRuns() json.RawMessage {
	return s.RunsData
}

// DeleteAllRuns removes all stored runs
func (s *State) DeleteAllRuns() error {
	s.RunsData = json.RawMessage("[]")
	return s.save()
}

// GetHelpScreensSeen returns the bitmask of seen help screens
func (s *State) GetHelpScreensSeen() uint32 {
	return s.HelpScreensSeen
}

// SetHelpScreensSeen updates the bitmask of seen help screens
func (s *State) SetHelpScreensSeen(seen uint32) error {
	s.HelpScreensSeen = seen
	return s.save()
}
