package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tabrecall/tabrecall/internal/agent"
	"github.com/tabrecall/tabrecall/internal/logging"
)

// Execute implements the go-flags Commander interface for AgentCommand.
func (c *AgentCommand) Execute(args []string) error {
	cfg, _, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if c.Port > 0 {
		cfg.Agent.Port = c.Port
	}
	if c.LogLevel != "" {
		logging.SetLevel(logging.ParseLevel(c.LogLevel))
	}
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}

	daemon, err := agent.NewDaemon(*cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return daemon.Run(ctx)
}
