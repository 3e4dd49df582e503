package app

import (
	"encoding/json"
	"fmt"

	"squadstream/config"
)

// SaveRuns stores runs so a later invocation without runs can start them again.
func SaveRuns(storage config.RunStorage, runs []RunSpec) error {
	data, err := json.Marshal(runs)
	if err != nil {
		return fmt.Errorf("failed to marshal runs: %w", err)
	}
	return storage.SaveRuns(data)
}

// LoadRuns returns the runs stored by SaveRuns.
func LoadRuns(storage config.RunStorage) ([]RunSpec, error) {
	var runs []RunSpec
	if err := json.Unmarshal(storage.GetRuns(), &runs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal runs: %w", err)
	}
	return runs, nil
}
