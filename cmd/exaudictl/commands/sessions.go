package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/exaudilabs/exaudi-core/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect live sessions on a running exaudid",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	Long: `List the sessions currently active on a running daemon.

Examples:
  exaudictl sessions list
  exaudictl sessions list --server http://prod-host:8080 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := strings.TrimRight(serverURL, "/") + "/api/sessions"
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("reach %s: %w", serverURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s returned %s", url, resp.Status)
		}

		var infos []session.Info
		if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
			return fmt.Errorf("decode session list: %w", err)
		}

		if outputJSON {
			return printJSON(infos)
		}

		if len(infos) == 0 {
			fmt.Println("No active sessions")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tORG\tSOURCE\tLISTENERS\tSTARTED\tLAST_SEEN")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				info.ID, info.OrgID, info.SourceLang, info.Listeners,
				info.CreatedAt.Format(time.RFC3339),
				info.LastSeenAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
}
