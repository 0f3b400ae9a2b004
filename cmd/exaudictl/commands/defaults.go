package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/exaudilabs/exaudi-core/internal/voiceprefs"
)

var (
	defaultsOrg      string
	defaultsLanguage string
	defaultsVoice    string
	defaultsTier     string
)

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Manage per-organization voice defaults",
	Long: `Manage the org-level voice defaults the resolver consults when a
listener has no explicit preference. Defaults live in the runtime's
voice defaults file and take effect without a restart.`,
}

var defaultsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show an org's voice defaults",
	Long: `Show the stored voice defaults for an organization, for one
language or all of them.

Examples:
  exaudictl defaults get --org acme
  exaudictl defaults get --org acme --language de-DE`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if defaultsOrg == "" {
			return fmt.Errorf("--org is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		prefs, err := voiceprefs.Open(cfg.TTS.DefaultsPath)
		if err != nil {
			return err
		}

		if defaultsLanguage != "" {
			pref, ok := prefs.Get(defaultsOrg, defaultsLanguage)
			if !ok {
				return fmt.Errorf("no default for org %q language %q", defaultsOrg, defaultsLanguage)
			}
			if outputJSON {
				return printJSON(pref)
			}
			fmt.Printf("Voice: %s (%s)\n", pref.VoiceName, pref.VoiceID)
			fmt.Printf("Tier: %s\n", pref.Tier)
			return nil
		}

		all := prefs.All(defaultsOrg)
		if outputJSON {
			return printJSON(all)
		}
		if len(all) == 0 {
			fmt.Printf("No defaults for org %q\n", defaultsOrg)
			return nil
		}
		langs := make([]string, 0, len(all))
		for lang := range all {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LANGUAGE\tTIER\tVOICE_ID\tVOICE_NAME")
		for _, lang := range langs {
			pref := all[lang]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", lang, pref.Tier, pref.VoiceID, pref.VoiceName)
		}
		return w.Flush()
	},
}

var defaultsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Pin a voice for an org and language",
	Long: `Pin the default voice an organization's listeners get for a
language. The voice must exist in the catalog and support the
language at its tier.

Examples:
  exaudictl defaults set --org acme --language de-DE --voice de-DE-Chirp3-HD-Kore
  exaudictl defaults set --org acme --language es-ES --voice es-ES-Neural2-A --tier neural2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if defaultsOrg == "" || defaultsLanguage == "" || defaultsVoice == "" {
			return fmt.Errorf("--org, --language, and --voice are required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		v, ok := cat.Lookup(defaultsVoice)
		if !ok {
			return fmt.Errorf("unknown voice %q", defaultsVoice)
		}
		tier := defaultsTier
		if tier == "" {
			tier = v.Tier
		}
		if !cat.IsValid(defaultsVoice, defaultsLanguage, tier) {
			return fmt.Errorf("voice %q does not serve %s at tier %s", defaultsVoice, defaultsLanguage, tier)
		}

		prefs, err := voiceprefs.Open(cfg.TTS.DefaultsPath)
		if err != nil {
			return err
		}
		pref := voiceprefs.Pref{Tier: tier, VoiceID: v.ID, VoiceName: v.Name}
		if err := prefs.Set(defaultsOrg, defaultsLanguage, pref); err != nil {
			return err
		}

		fmt.Printf("Set %s default for org %q to %s (%s)\n", defaultsLanguage, defaultsOrg, v.Name, tier)
		return nil
	},
}

var defaultsRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove an org's default for a language",
	Long: `Remove the stored default so the org falls back to the catalog
default for that language.

Examples:
  exaudictl defaults remove --org acme --language de-DE`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if defaultsOrg == "" || defaultsLanguage == "" {
			return fmt.Errorf("--org and --language are required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		prefs, err := voiceprefs.Open(cfg.TTS.DefaultsPath)
		if err != nil {
			return err
		}
		if err := prefs.Remove(defaultsOrg, defaultsLanguage); err != nil {
			return err
		}

		fmt.Printf("Removed %s default for org %q\n", defaultsLanguage, defaultsOrg)
		return nil
	},
}

func init() {
	defaultsCmd.PersistentFlags().StringVar(&defaultsOrg, "org", "", "organization id")
	defaultsCmd.PersistentFlags().StringVar(&defaultsLanguage, "language", "", "BCP-47 language tag, e.g. de-DE")
	defaultsSetCmd.Flags().StringVar(&defaultsVoice, "voice", "", "catalog voice id or name")
	defaultsSetCmd.Flags().StringVar(&defaultsTier, "tier", "", "tier to pin (defaults to the voice's tier)")

	defaultsCmd.AddCommand(defaultsGetCmd)
	defaultsCmd.AddCommand(defaultsSetCmd)
	defaultsCmd.AddCommand(defaultsRemoveCmd)
}
