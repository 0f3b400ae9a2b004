package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
)

var (
	routeLanguage string
	routeTier     string
	routeVoice    string
	routeMode     string
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Explain synthesis routing decisions",
}

var routeExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Show the synthesis route for a request",
	Long: `Resolve a synthesis route the same way the runtime does and print
the provider, engine, voice, and the reason the route was chosen.

Examples:
  exaudictl route explain --language es-ES
  exaudictl route explain --language de-DE --tier chirp3_hd
  exaudictl route explain --language ja-JP --voice ja-JP-Neural2-B --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if routeLanguage == "" {
			return fmt.Errorf("--language is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		mode := routeMode
		if mode == "" {
			mode = cfg.TTS.SynthesisMode
		}

		router := ttsroute.NewRouter(cat, cfg.TTS.DefaultTier, cfg.TTS.VertexAIEnabled)
		route, err := router.Route(ttsroute.Request{
			Tier:         routeTier,
			Voice:        routeVoice,
			Language:     routeLanguage,
			Mode:         mode,
			AllowedTiers: cfg.TTS.AllowedTiers,
		})
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(route)
		}

		fmt.Printf("Provider: %s\n", route.Provider)
		fmt.Printf("Tier: %s\n", route.Tier)
		fmt.Printf("Engine: %s\n", route.Engine)
		if route.Model != "" {
			fmt.Printf("Model: %s\n", route.Model)
		}
		fmt.Printf("Language: %s\n", route.LanguageCode)
		fmt.Printf("Voice: %s (%s)\n", route.VoiceName, route.VoiceID)
		fmt.Printf("Encoding: %s\n", route.AudioEncoding)
		if route.FallbackFrom != nil {
			fmt.Printf("Fell back from: %s (%s)\n", route.FallbackFrom.Tier, route.FallbackFrom.Reason)
		}
		fmt.Printf("Reason: %s\n", route.Reason)
		return nil
	},
}

func init() {
	routeExplainCmd.Flags().StringVar(&routeLanguage, "language", "", "BCP-47 language tag, e.g. es-ES")
	routeExplainCmd.Flags().StringVar(&routeTier, "tier", "", "requested tier (empty uses the configured default)")
	routeExplainCmd.Flags().StringVar(&routeVoice, "voice", "", "requested voice id or name")
	routeExplainCmd.Flags().StringVar(&routeMode, "mode", "", "synthesis mode: unary or streaming")

	routeCmd.AddCommand(routeExplainCmd)
}
