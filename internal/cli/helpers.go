package cli

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tabrecall/tabrecall/internal/config"
	"github.com/tabrecall/tabrecall/internal/logging"
	"github.com/tabrecall/tabrecall/internal/storage"
)

// loadConfig resolves the config for a command and applies the global
// logging flags. Returns the config and the path it was loaded from.
func loadConfig(globals *GlobalFlags) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if globals != nil && globals.Config != "" {
		path = globals.Config
		cfg, err = config.LoadOrCreateAt(path)
	} else {
		if path, err = config.ExpandPath(config.DefaultConfigPath); err != nil {
			return nil, "", err
		}
		cfg, err = config.LoadOrCreate()
	}
	if err != nil {
		return nil, "", err
	}

	if cfg.Agent.StatePath, err = config.ExpandPath(cfg.Agent.StatePath); err != nil {
		return nil, "", err
	}
	if cfg.Server.SQLiteFile, err = config.ExpandPath(cfg.Server.SQLiteFile); err != nil {
		return nil, "", err
	}

	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	if globals != nil && globals.Verbose {
		logging.SetVerbose(true)
	}
	return cfg, path, nil
}

// openServerStore opens the server database, runs migrations, and
// returns a ready-to-use store and the underlying *sql.DB.
func openServerStore(sqliteFile string) (*storage.SQLiteStore, *sql.DB, error) {
	if dir := filepath.Dir(sqliteFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", sqliteFile+"?_foreign_keys=on")
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	if err := storage.NewMigrationRunner(db).Run(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create store: %w", err)
	}
	return store, db, nil
}

// readPassword returns the flag value or reads one line from stdin.
func readPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
