package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/omniusstudio/pms-keyrotation/internal/audit"
	"github.com/omniusstudio/pms-keyrotation/internal/config"
)

// NewAuditCommand creates the parent 'audit' command.
func NewAuditCommand(cfg *config.Config, stateDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the rotation audit trail",
		Long: `View and export the append-only record of rotation cycles and
rollbacks.

Examples:
  # Most recent records for a tenant
  keyrot audit list --tenant acme --limit 20

  # Only failures, as JSON
  keyrot audit list --tenant acme --status failed --format json

  # Export everything for offline review
  keyrot audit export --tenant acme audit-acme.json`,
	}

	cmd.AddCommand(
		newAuditListCmd(cfg, stateDir),
		newAuditExportCmd(cfg, stateDir),
	)

	return cmd
}

func newAuditListCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var (
		tenantID   string
		keyID      string
		policyID   string
		listStatus string
		listKind   string
		listLimit  int
		listFormat string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			records, err := rt.state.Trail().List(cmd.Context(), tenantID, audit.Filter{
				KeyID:    keyID,
				PolicyID: policyID,
				Status:   audit.Status(listStatus),
				Kind:     audit.Kind(listKind),
			}, listLimit)
			if err != nil {
				return err
			}

			switch listFormat {
			case "json":
				return outputJSON(records)
			case "yaml":
				return outputYAML(records)
			default:
				return outputAuditTable(records)
			}
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to list records for")
	cmd.Flags().StringVar(&keyID, "key", "", "Filter by key id")
	cmd.Flags().StringVar(&policyID, "policy", "", "Filter by policy id")
	cmd.Flags().StringVar(&listStatus, "status", "", "Filter by status: pending, succeeded, failed, rolled_back")
	cmd.Flags().StringVar(&listKind, "kind", "", "Filter by kind: rotation, rollback")
	cmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of records to show (0 for all)")
	cmd.Flags().StringVar(&listFormat, "format", "table", "Output format: table, json, yaml")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newAuditExportCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export a tenant's full audit trail to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			records, err := rt.state.Trail().List(cmd.Context(), tenantID, audit.Filter{}, 0)
			if err != nil {
				return err
			}

			out, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			defer out.Close()

			if err := writeAuditExport(out, tenantID, records); err != nil {
				return err
			}
			fmt.Printf("Exported %d record(s) to %s\n", len(records), args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to export records for")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func outputAuditTable(records []*audit.Record) error {
	if len(records) == 0 {
		fmt.Println("No audit records found matching criteria")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "STARTED\tID\tKIND\tKEY\tSTATUS\tERROR")
	fmt.Fprintln(w, "-------\t--\t----\t---\t------\t-----")
	for _, rec := range records {
		errorMsg := "-"
		if rec.ErrorMessage != "" {
			errorMsg = rec.ErrorMessage
			if len(errorMsg) > 50 {
				errorMsg = errorMsg[:47] + "..."
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			rec.ID,
			rec.Kind,
			rec.KeyID,
			formatRecordStatus(rec.Status),
			errorMsg,
		)
	}

	fmt.Printf("\nShowing %d record(s)\n", len(records))
	return nil
}

func writeAuditExport(out *os.File, tenantID string, records []*audit.Record) error {
	doc := map[string]interface{}{
		"tenant_id":   tenantID,
		"exported_at": time.Now().UTC().Format(time.RFC3339),
		"count":       len(records),
		"records":     records,
	}
	return writeJSONFile(out, doc)
}
