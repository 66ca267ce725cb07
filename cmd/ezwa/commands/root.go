// Package commands implements the ezwa command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zevanoo/baileys-ez/cmd/internal/app"
)

// Set with -ldflags "-X github.com/zevanoo/baileys-ez/cmd/ezwa/commands.version=..."
var version = "dev"

// flags override the EZWA_* environment.
type rootFlags struct {
	sessionDir string
	logLevel   string
	logFormat  string
}

// Execute runs the root command with os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var (
		flags rootFlags
		cfg   app.Config
	)

	root := &cobra.Command{
		Use:          "ezwa",
		Short:        "Multi-session messaging host",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg = app.LoadConfig()
			pf := cmd.Flags()
			if pf.Changed("session-dir") {
				cfg.SessionDir = flags.sessionDir
			}
			if pf.Changed("log-level") {
				cfg.LogLevel = flags.logLevel
			}
			if pf.Changed("log-format") {
				cfg.LogFormat = flags.logFormat
			}
			return nil
		},
	}
	root.SetVersionTemplate("ezwa {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&flags.sessionDir, "session-dir", "", "session base directory (env EZWA_SESSION_DIR)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (env EZWA_LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "pretty or json (env EZWA_LOG_FORMAT)")

	cfgFn := func() *app.Config { return &cfg }
	root.AddCommand(serveCmd(cfgFn), sessionsCmd(cfgFn), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ezwa %s\n", version)
		},
	}
}
