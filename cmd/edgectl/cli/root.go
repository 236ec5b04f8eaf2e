// Package cli wires the edgectl command tree.
package cli

import (
	"github.com/edgeops/edgectl/internal/config"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree. Persistent flags are bound to a
// fresh viper instance so flag, EDGECTL_* environment and config file values
// resolve in that order.
func NewRootCommand(version string) *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:   "edgectl",
		Short: "Bulk property operations for CDN configurations",
		Long: `edgectl searches, versions, patches and activates CDN property
configurations in bulk. Every stage writes a workbook that the next stage can
read, and every remote job can be reviewed again by its id.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("edgerc", "", "Path to the credential file (default ~/.edgerc)")
	pf.String("section", config.DefaultSection, "Credential file section")
	pf.String("account-key", "", "Account switch key")
	pf.Int("workers", config.DefaultWorkers, "Concurrent lookups (1-10)")
	pf.String("output-dir", "output", "Root directory for workbooks and snapshots")
	pf.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")

	bind(v, pf.Lookup("edgerc"), config.KeyEdgerc)
	bind(v, pf.Lookup("section"), config.KeySection)
	bind(v, pf.Lookup("account-key"), config.KeyAccountSwitchKey)
	bind(v, pf.Lookup("workers"), config.KeyWorkers)
	bind(v, pf.Lookup("output-dir"), config.KeyOutputDir)
	bind(v, pf.Lookup("log-level"), config.KeyLogLevel)

	RegisterBulkCommands(rootCmd, v)
	return rootCmd
}
