package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tabrecall/tabrecall/internal/config"
	"github.com/tabrecall/tabrecall/internal/logging"
	"github.com/tabrecall/tabrecall/internal/server"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg, cfgPath, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if c.Port > 0 {
		cfg.Server.Port = c.Port
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	store, db, err := openServerStore(cfg.Server.SQLiteFile)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	srv, err := server.New(*cfg, store)
	if err != nil {
		return err
	}

	// Weight tuning takes effect without a restart.
	watcher, err := config.WatchWeights(cfgPath, srv.ReloadWeights)
	if err != nil {
		logging.Warnf("config watcher disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
