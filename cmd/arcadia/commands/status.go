package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/playforge/arcadia/internal/cli/output"
	"github.com/playforge/arcadia/pkg/apiclient"
)

var (
	statusServer string
	statusToken  string
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status and subsystem statistics",
	Long: `Display the current status of the arcadia server.

This command calls the operational API health and stats endpoints and
shows per-subsystem counters: cache, locks, sync engine, transactions,
sessions, and the broadcast router.

Examples:
  # Check status of a local server
  arcadia status

  # Check a remote server with a bearer token
  arcadia status --server http://game-1.internal:8080 --token $TOKEN

  # Output as JSON
  arcadia status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "Operational API base URL")
	statusCmd.Flags().StringVar(&statusToken, "token", "", "Bearer token for the stats endpoints")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	client := apiclient.New(statusServer)
	if statusToken != "" {
		client = client.WithToken(statusToken)
	}

	ready, err := client.Ready()
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", statusServer, err)
	}

	report, err := client.Status()
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, statusDocument{Checks: ready, Stats: report})
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, statusDocument{Checks: ready, Stats: report})
	default:
		printStatusTable(ready, report)
	}
	return nil
}

// statusDocument is the machine-readable status shape.
type statusDocument struct {
	Checks map[string]string       `json:"checks" yaml:"checks"`
	Stats  *apiclient.StatusReport `json:"stats" yaml:"stats"`
}

func printStatusTable(ready map[string]string, report *apiclient.StatusReport) {
	fmt.Println()
	fmt.Println("Arcadia Server Status")
	fmt.Println("=====================")
	fmt.Println()

	for store, state := range ready {
		fmt.Printf("  %-8s %s\n", store+":", state)
	}
	fmt.Println()

	table := output.NewTableData("SUBSYSTEM", "DETAIL")
	if report.Sessions != nil {
		table.AddRow("sessions", fmt.Sprintf("%d connected", report.Sessions.Count))
	}
	if report.Router != nil {
		table.AddRow("router", fmt.Sprintf("%d processed, %d failed, %d receivers",
			report.Router.Processed, report.Router.Failed, report.Router.Receivers))
	}
	if report.Cache != nil {
		table.AddRow("cache", fmt.Sprintf("%.1f%% hit rate, %d keys tracked",
			report.Cache.HitRate*100, report.Cache.TrackedKeys))
	}
	if report.Lock != nil {
		table.AddRow("locks", fmt.Sprintf("%d acquired, %d active, %d timed out",
			report.Lock.Acquired, report.Lock.Active, report.Lock.TimedOut))
	}
	if report.Sync != nil {
		table.AddRow("sync", fmt.Sprintf("%d pending, %d flushed, %d dropped",
			report.Sync.Pending, report.Sync.Flushed, report.Sync.Dropped))
	}
	if report.Txn != nil {
		table.AddRow("txn", fmt.Sprintf("%d committed, %d rolled back, %d active",
			report.Txn.Committed, report.Txn.RolledBack, report.Txn.Active))
	}

	_ = output.PrintTable(os.Stdout, table)
	fmt.Println()
}
