package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tabrecall/tabrecall/internal/config"
	"github.com/tabrecall/tabrecall/internal/event"
)

// State is the client's single persisted blob: the pending event
// buffer, the tab snapshot table, the agent config in effect, the last
// successful sync time, and the auth credential.
type State struct {
	Events       []event.Event       `json:"events"`
	TabInfo      map[int]TabInfo     `json:"tab_info"`
	Config       *config.AgentConfig `json:"config,omitempty"`
	LastSync     time.Time           `json:"last_sync"`
	AuthToken    string              `json:"auth_token,omitempty"`
	RefreshToken string              `json:"refresh_token,omitempty"`
	Evicted      uint64              `json:"evicted"`
}

// LoadState reads the state blob at path. A missing file yields an
// empty state, not an error.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &State{TabInfo: make(map[int]TabInfo)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if st.TabInfo == nil {
		st.TabInfo = make(map[int]TabInfo)
	}
	return &st, nil
}

// Save writes the state blob atomically: a temp file in the same
// directory, then rename. A crash mid-write leaves the previous blob
// intact.
func (st *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
