package cli

import (
	"context"
	"fmt"

	"github.com/tabrecall/tabrecall/internal/agent"
	"github.com/tabrecall/tabrecall/internal/config"
	"github.com/tabrecall/tabrecall/internal/remote"
)

// Execute implements the go-flags Commander interface for LoginCommand.
func (c *LoginCommand) Execute(args []string) error {
	return obtainCredentials(c.globals, c.Email, c.Password, false)
}

// Execute implements the go-flags Commander interface for RegisterCommand.
func (c *RegisterCommand) Execute(args []string) error {
	return obtainCredentials(c.globals, c.Email, c.Password, true)
}

// obtainCredentials logs in (or registers), then stores the issued
// token pair in the agent state blob.
func obtainCredentials(globals *GlobalFlags, email, password string, register bool) error {
	if email == "" {
		return fmt.Errorf("--email is required")
	}

	cfg, _, err := loadConfig(globals)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}

	password, err = readPassword(password)
	if err != nil {
		return err
	}

	client := remote.New(cfg.Agent.ServerURL)
	ctx := context.Background()

	var creds *remote.Credentials
	if register {
		creds, err = client.Register(ctx, email, password)
	} else {
		creds, err = client.Login(ctx, email, password)
	}
	if err != nil {
		return err
	}

	if err := saveCredentials(cfg, creds); err != nil {
		return err
	}

	if register {
		fmt.Printf("Registered %s\n", email)
	} else {
		fmt.Printf("Logged in as %s\n", email)
	}
	return nil
}

func saveCredentials(cfg *config.Config, creds *remote.Credentials) error {
	state, err := agent.LoadState(cfg.Agent.StatePath)
	if err != nil {
		return err
	}
	state.AuthToken = creds.AccessToken
	state.RefreshToken = creds.RefreshToken
	return state.Save(cfg.Agent.StatePath)
}
