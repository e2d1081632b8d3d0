// Package commands implements the catalogctl command tree.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

// globalFlags holds values shared by every subcommand.
type globalFlags struct {
	configPath string
	server     string
	token      string
	dbPath     string
	output     string
	logLevel   string
}

// NewRootCmd builds the catalogctl command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "catalogctl",
		Short: "Query and sync a media library catalog",
		Long: `catalogctl reads a media library catalog through a caching,
request-collapsing data layer. It talks to a media server when api.base_url
is set (or --server is given) and to the local SQLite store otherwise.

Every configuration key can be overridden with an environment variable:
CATALOGOPS_<SECTION>_<KEY>, e.g. CATALOGOPS_API_BASE_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/catalogops/config.yaml)")
	pf.StringVar(&flags.server, "server", "", "media server URL (overrides api.base_url)")
	pf.StringVar(&flags.token, "token", "", "auth token or secretref (overrides api.auth_token)")
	pf.StringVar(&flags.dbPath, "db", "", "local database path (overrides store.path)")
	pf.StringVarP(&flags.output, "output", "o", "table", "output format (table|json|yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	root.AddCommand(
		newListCmd(flags),
		newCountCmd(flags),
		newSearchCmd(flags),
		newRecentCmd(flags),
		newFetchCmd(flags),
		newProgressCmd(flags),
		newImportCmd(flags),
		newMaintainCmd(flags),
		newStatsCmd(flags),
		newHealthCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("catalogctl %s (commit: %s)\n", Version, Commit)
		},
	}
}
