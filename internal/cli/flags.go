package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand — run the ingestion and session API server.
type ServeCommand struct {
	Port int `long:"port" description:"Override server port"`

	globals *GlobalFlags
	version string
}

// AgentCommand — run the local capture agent (local HTTP service).
type AgentCommand struct {
	Port     int    `long:"port" description:"Override agent port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// SyncCommand — drain the local event buffer to the server once.
type SyncCommand struct {
	globals *GlobalFlags
	version string
}

// LoginCommand — obtain credentials and store them in agent state.
type LoginCommand struct {
	Email    string `long:"email" description:"Account email (required)"`
	Password string `long:"password" description:"Account password (read from stdin if omitted)"`

	globals *GlobalFlags
	version string
}

// RegisterCommand — create an account and store its credentials.
type RegisterCommand struct {
	Email    string `long:"email" description:"Account email (required)"`
	Password string `long:"password" description:"Account password (read from stdin if omitted)"`

	globals *GlobalFlags
	version string
}

// SessionsCommand — list inferred sessions from the server.
type SessionsCommand struct {
	Limit  int    `long:"limit" description:"Maximum results" default:"20"`
	Offset int    `long:"offset" description:"Skip first N results" default:"0"`
	Mode   string `long:"mode" description:"Filter by clustering mode: strict | loose"`
	From   string `long:"from" description:"Only sessions active at or after this RFC3339 time"`
	To     string `long:"to" description:"Only sessions started at or before this RFC3339 time"`

	globals *GlobalFlags
	version string
}

// StatusCommand — show agent health, queue depth, and sync state.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}
