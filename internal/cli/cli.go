package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve    *ServeCommand
	Agent    *AgentCommand
	Sync     *SyncCommand
	Login    *LoginCommand
	Register *RegisterCommand
	Sessions *SessionsCommand
	Status   *StatusCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "tabrecall"
	parser.LongDescription = "Capture browser tab activity locally, sync it to a server, and recall it as inferred sessions."

	cmds := &commands{
		Serve:    &ServeCommand{globals: &globals, version: version},
		Agent:    &AgentCommand{globals: &globals, version: version},
		Sync:     &SyncCommand{globals: &globals, version: version},
		Login:    &LoginCommand{globals: &globals, version: version},
		Register: &RegisterCommand{globals: &globals, version: version},
		Sessions: &SessionsCommand{globals: &globals, version: version},
		Status:   &StatusCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Run the API server", "Run the ingestion and session API server.", cmds.Serve)
	parser.AddCommand("agent", "Run the capture agent", "Run the local capture agent the browser extension talks to.", cmds.Agent)
	parser.AddCommand("sync", "Sync pending events now", "Drain the local event buffer to the server once.", cmds.Sync)
	parser.AddCommand("login", "Log in to the server", "Obtain credentials and store them in agent state.", cmds.Login)
	parser.AddCommand("register", "Create an account", "Create an account on the server and store its credentials.", cmds.Register)
	parser.AddCommand("sessions", "List inferred sessions", "List inferred browsing sessions from the server.", cmds.Sessions)
	parser.AddCommand("status", "Show agent status", "Show agent health, queue depth, and last sync time.", cmds.Status)

	return parser, &globals, cmds
}

// Run is the main entry point for the tabrecall CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("tabrecall %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
