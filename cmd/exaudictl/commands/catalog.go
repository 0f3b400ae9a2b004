package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exaudilabs/exaudi-core/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Validate voice catalog files",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Parse catalog files and report coverage",
	Long: `Parse the catalog family files and report how many voices loaded,
per provider, plus any configured locale no voice can serve. Without a
directory argument the configured catalog directory (or the embedded
data set) is used.

Examples:
  exaudictl catalog validate
  exaudictl catalog validate ./voices`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := cfg.Catalog.Dir
		if len(args) == 1 {
			dir = args[0]
		}

		cat, err := catalog.Load(dir, cfg.Catalog.SupportedLocales)
		if err != nil {
			return fmt.Errorf("catalog invalid: %w", err)
		}

		var missing []string
		for _, locale := range cfg.Catalog.SupportedLocales {
			if _, ok := cat.DefaultVoice(locale, nil); !ok {
				missing = append(missing, locale)
			}
		}

		if outputJSON {
			return printJSON(map[string]any{
				"voices":          cat.Len(),
				"google":          len(cat.ByProvider("google")),
				"elevenlabs":      len(cat.ByProvider("elevenlabs")),
				"missing_locales": missing,
			})
		}

		fmt.Printf("Voices: %d (google %d, elevenlabs %d)\n",
			cat.Len(), len(cat.ByProvider("google")), len(cat.ByProvider("elevenlabs")))
		if len(missing) > 0 {
			fmt.Printf("Locales with no voice: %v\n", missing)
			return fmt.Errorf("%d configured locale(s) have no voice", len(missing))
		}
		fmt.Println("All configured locales covered")
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
}
