package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omniusstudio/pms-keyrotation/cmd/keyrot/commands"
	"github.com/omniusstudio/pms-keyrotation/internal/config"
	"github.com/omniusstudio/pms-keyrotation/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		stateDir   string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "keyrot",
		Short: "Automated encryption-key rotation for tenant KMS keys",
		Long: `keyrot schedules and executes encryption-key rotations against your
KMS provider, driven by per-tenant rotation policies, with an auditable
and reversible record of every cycle.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			logger := logging.New(debug, noColor)

			cfg.Path = configFile
			cfg.Logger = logger
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "keyrot.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory (default: $XDG_DATA_HOME/keyrot/state)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// Add commands
	rootCmd.AddCommand(
		commands.NewServeCommand(cfg, &stateDir),
		commands.NewPolicyCommand(cfg, &stateDir),
		commands.NewKeysCommand(cfg, &stateDir),
		commands.NewRotateCommand(cfg, &stateDir),
		commands.NewRollbackCommand(cfg, &stateDir),
		commands.NewAuditCommand(cfg, &stateDir),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
