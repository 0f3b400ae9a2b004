package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
	"github.com/exaudilabs/exaudi-core/internal/voiceprefs"
)

var (
	voicesLanguage string
	voicesTier     string
	resolveOrg     string
	resolveVoice   string
	resolveTier    string
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Inspect the voice catalog and resolve voice selections",
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog voices for a language",
	Long: `List the voices the catalog offers for a language, optionally
restricted to one tier.

Examples:
  exaudictl voices list --language es-ES
  exaudictl voices list --language de-DE --tier chirp3_hd --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if voicesLanguage == "" {
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

		var tiers []string
		if voicesTier != "" {
			tiers = []string{voicesTier}
		} else {
			tiers = cfg.TTS.AllowedTiers
		}

		voices, err := cat.VoicesFor(voicesLanguage, tiers)
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(voices)
		}

		if len(voices) == 0 {
			fmt.Printf("No voices for %s\n", voicesLanguage)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTIER\tPROVIDER\tGENDER\tLANGUAGES")
		for _, v := range voices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				v.ID, v.Name, v.Tier, v.Provider, v.Gender, strings.Join(v.LanguageCodes, ","))
		}
		return w.Flush()
	},
}

var voicesResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show which voice a listener would get",
	Long: `Resolve the voice selection for an organization and language the
same way the runtime does: user preference, then org default, then
catalog default, then fallbacks.

Examples:
  exaudictl voices resolve --org acme --language de-DE
  exaudictl voices resolve --language ja-JP --voice ja-JP-Neural2-B`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if voicesLanguage == "" {
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
		prefs, err := voiceprefs.Open(cfg.TTS.DefaultsPath)
		if err != nil {
			return err
		}

		var user *ttsroute.Preference
		if resolveVoice != "" {
			user = &ttsroute.Preference{Tier: resolveTier, Voice: resolveVoice}
		}

		resolver := ttsroute.NewResolver(cat, prefs, cliLogger())
		sel := resolver.Resolve(resolveOrg, voicesLanguage, user, cfg.TTS.AllowedTiers)

		if outputJSON {
			return printJSON(sel)
		}

		fmt.Printf("Voice: %s (%s)\n", sel.VoiceName, sel.VoiceID)
		fmt.Printf("Tier: %s\n", sel.Tier)
		fmt.Printf("Reason: %s\n", sel.Reason)
		return nil
	},
}

func init() {
	voicesListCmd.Flags().StringVar(&voicesLanguage, "language", "", "BCP-47 language tag, e.g. es-ES")
	voicesListCmd.Flags().StringVar(&voicesTier, "tier", "", "restrict to one tier")

	voicesResolveCmd.Flags().StringVar(&voicesLanguage, "language", "", "BCP-47 language tag, e.g. es-ES")
	voicesResolveCmd.Flags().StringVar(&resolveOrg, "org", "", "organization id")
	voicesResolveCmd.Flags().StringVar(&resolveVoice, "voice", "", "user-preferred voice id or name")
	voicesResolveCmd.Flags().StringVar(&resolveTier, "tier", "", "tier of the user-preferred voice")

	voicesCmd.AddCommand(voicesListCmd)
	voicesCmd.AddCommand(voicesResolveCmd)
}
