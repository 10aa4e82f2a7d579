package cli

import (
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-amdsmi",
	Short: "MCP Streamable HTTP server for AMD GPU monitoring",
	Long: `mcp-amdsmi serves the Model Context Protocol over Streamable HTTP,
exposing AMD GPU monitoring tools to MCP clients. It manages session
lifecycle, JSON-RPC dispatch, and server-push event streams.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}
