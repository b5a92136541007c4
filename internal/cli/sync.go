package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tabrecall/tabrecall/internal/agent"
	"github.com/tabrecall/tabrecall/internal/logging"
	"github.com/tabrecall/tabrecall/internal/remote"
)

// Execute implements the go-flags Commander interface for SyncCommand.
// It runs one sync cycle against the persisted agent state, refreshing
// the token once if the server rejects it.
func (c *SyncCommand) Execute(args []string) error {
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

	store := agent.NewStore(cfg.Agent.BufferCapacity)
	store.Restore(state)

	client := remote.New(cfg.Agent.ServerURL)
	client.SetToken(state.AuthToken)
	engine := agent.NewEngine(store, client, cfg.Agent.BatchSize)

	ctx := context.Background()
	report, err := engine.Sync(ctx)
	if err != nil {
		return err
	}

	if report.AuthRequired && state.RefreshToken != "" {
		logging.Infof("access token rejected, refreshing")
		creds, err := client.Refresh(ctx, state.RefreshToken)
		if err != nil {
			return fmt.Errorf("refresh credentials: %w (run %q again)", err, "tabrecall login")
		}
		state.AuthToken = creds.AccessToken
		state.RefreshToken = creds.RefreshToken

		report, err = engine.Sync(ctx)
		if err != nil {
			return err
		}
	}

	store.Export(state)
	if report.Synced > 0 || report.Dropped > 0 {
		state.LastSync = report.CompletedAt
	}
	if err := state.Save(cfg.Agent.StatePath); err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Synced:    %d\n", report.Synced)
	if report.Dropped > 0 {
		fmt.Printf("Dropped:   %d (rejected by server)\n", report.Dropped)
	}
	fmt.Printf("Remaining: %d\n", report.Remaining)
	if report.AuthRequired {
		fmt.Println("Credentials rejected; run \"tabrecall login\" again.")
	} else if report.Error != "" {
		fmt.Printf("Stopped early: %s\n", report.Error)
	}
	return nil
}
