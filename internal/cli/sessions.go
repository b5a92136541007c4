package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tabrecall/tabrecall/internal/agent"
	"github.com/tabrecall/tabrecall/internal/remote"
)

// Execute implements the go-flags Commander interface for SessionsCommand.
func (c *SessionsCommand) Execute(args []string) error {
	if c.Mode != "" && c.Mode != "strict" && c.Mode != "loose" {
		return fmt.Errorf("--mode must be %q or %q", "strict", "loose")
	}

	query := remote.SessionQuery{Limit: c.Limit, Offset: c.Offset, Mode: c.Mode}
	for _, tf := range []struct {
		flag  string
		value string
		dst   *time.Time
	}{
		{"--from", c.From, &query.From},
		{"--to", c.To, &query.To},
	} {
		if tf.value == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, tf.value)
		if err != nil {
			return fmt.Errorf("%s must be an RFC3339 timestamp: %w", tf.flag, err)
		}
		*tf.dst = ts
	}

	cfg, _, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}

	state, err := agent.LoadState(cfg.Agent.StatePath)
	if err != nil {
		return err
	}
	if state.AuthToken == "" {
		return fmt.Errorf("%w: run %q first", agent.ErrNoCredential, "tabrecall login")
	}

	client := remote.New(cfg.Agent.ServerURL)
	client.SetToken(state.AuthToken)

	sessions, err := client.ListSessions(context.Background(), query)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions yet.")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-40s  %2d tabs  %s\n",
			s.LastActiveAt.Local().Format("2006-01-02 15:04"),
			truncateTitle(s.Title, 40),
			s.TabCount,
			s.Mode,
		)
		if s.Summary != "" {
			fmt.Printf("                    %s\n", truncateTitle(s.Summary, 72))
		}
	}
	return nil
}

func truncateTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
