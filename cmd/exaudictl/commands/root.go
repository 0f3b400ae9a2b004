package commands

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/exaudilabs/exaudi-core/internal/catalog"
	"github.com/exaudilabs/exaudi-core/internal/config"
)

var (
	// Global flags
	cfgPath    string
	serverURL  string
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "exaudictl",
	Short: "Operator CLI for the exaudi runtime",
	Long: `exaudictl inspects and manages an exaudi deployment.

Catalog, routing, defaults, and usage commands work directly against
the local configuration and data files. Session commands talk to a
running exaudid over its admin API.

Examples:
  # List voices available for Spanish
  exaudictl voices list --language es-ES

  # Show which voice an org's listeners would get
  exaudictl voices resolve --org acme --language de-DE

  # Pin a voice for an org and language
  exaudictl defaults set --org acme --language de-DE --voice de-DE-Chirp3-HD-Kore

  # Inspect a running daemon
  exaudictl sessions list --server http://localhost:8080

  # Read billing events
  exaudictl usage --metric listening_seconds --limit 20`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "runtime config file (built-in defaults plus EXA_* env when unset)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of a running exaudid")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")

	rootCmd.AddCommand(voicesCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(defaultsCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(usageCmd)
}

// loadConfig resolves the effective runtime configuration. An empty
// --config falls back to built-in defaults plus environment overrides,
// so catalog commands work without a config file on disk.
func loadConfig() (config.Config, error) {
	return config.Load(cfgPath)
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	return catalog.Load(cfg.Catalog.Dir, cfg.Catalog.SupportedLocales)
}

// cliLogger keeps library warnings visible without polluting stdout.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
