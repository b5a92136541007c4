package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/tabrecall/tabrecall/internal/agent"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version       string `json:"version"`
	AgentRunning  bool   `json:"agent_running"`
	Pending       int    `json:"pending"`
	Evicted       uint64 `json:"evicted"`
	LastSync      string `json:"last_sync,omitempty"`
	Authenticated bool   `json:"authenticated"`
	StatePath     string `json:"state_path"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
// It asks the running agent first and falls back to the state blob when
// the agent is down.
func (c *StatusCommand) Execute(args []string) error {
	cfg, _, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	out := statusJSON{Version: c.version, StatePath: cfg.Agent.StatePath}

	if live, ok := c.queryAgent(fmt.Sprintf("http://%s:%d/status", cfg.Agent.Host, cfg.Agent.Port)); ok {
		out.AgentRunning = true
		out.Pending = live.Pending
		out.Evicted = live.Evicted
		out.Authenticated = live.Authenticated
		if !live.LastSync.IsZero() {
			out.LastSync = live.LastSync.UTC().Format(time.RFC3339)
		}
	} else {
		state, err := agent.LoadState(cfg.Agent.StatePath)
		if err != nil {
			return err
		}
		out.Pending = len(state.Events)
		out.Evicted = state.Evicted
		out.Authenticated = state.AuthToken != ""
		if !state.LastSync.IsZero() {
			out.LastSync = state.LastSync.UTC().Format(time.RFC3339)
		}
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println("Tabrecall Status")
	fmt.Println("================")
	fmt.Printf("Version:        %s\n", c.version)
	if out.AgentRunning {
		fmt.Println("Agent:          running")
	} else {
		fmt.Println("Agent:          not running")
	}
	fmt.Printf("Pending:        %d\n", out.Pending)
	if out.Evicted > 0 {
		fmt.Printf("Evicted:        %d (buffer overflow, events lost)\n", out.Evicted)
	}
	if out.LastSync != "" {
		fmt.Printf("Last sync:      %s\n", out.LastSync)
	} else {
		fmt.Println("Last sync:      never")
	}
	if out.Authenticated {
		fmt.Println("Credentials:    present")
	} else {
		fmt.Println("Credentials:    none (run \"tabrecall login\")")
	}
	return nil
}

type liveStatus struct {
	Pending       int       `json:"pending"`
	Evicted       uint64    `json:"evicted"`
	LastSync      time.Time `json:"last_sync"`
	Authenticated bool      `json:"authenticated"`
}

func (c *StatusCommand) queryAgent(url string) (*liveStatus, bool) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var env struct {
		Data liveStatus `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, false
	}
	return &env.Data, true
}
