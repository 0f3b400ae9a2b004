package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/exaudilabs/exaudi-core/internal/store"
)

var (
	usageMetric string
	usageLimit  int
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Read recorded billing usage events",
	Long: `Read usage events from the runtime's store, newest first. The
runtime records listening_seconds per listening span and
tts_characters per synthesized segment.

Examples:
  exaudictl usage
  exaudictl usage --metric tts_characters --limit 50 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		st, err := store.Open(ctx, cfg.Store, cliLogger())
		if err != nil {
			return err
		}
		defer st.Close()

		events, err := st.UsageEvents(ctx, usageMetric, usageLimit)
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(events)
		}

		if len(events) == 0 {
			fmt.Printf("No %s events\n", usageMetric)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tQUANTITY\tCREATED\tMETADATA")
		for _, e := range events {
			meta := ""
			if len(e.Metadata) > 0 {
				data, err := json.Marshal(e.Metadata)
				if err == nil {
					meta = string(data)
				}
			}
			fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n",
				e.IdempotencyKey, e.Quantity, e.CreatedAt.Format(time.RFC3339), meta)
		}
		return w.Flush()
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageMetric, "metric", "listening_seconds", "metric name: listening_seconds or tts_characters")
	usageCmd.Flags().IntVar(&usageLimit, "limit", 20, "maximum events to return")
}
