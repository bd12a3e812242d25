package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omniusstudio/pms-keyrotation/internal/config"
	"github.com/omniusstudio/pms-keyrotation/internal/logging"
	"github.com/omniusstudio/pms-keyrotation/internal/rotation/rollback"
)

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(cfg *config.Config, stateDir *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "rollback <record-id>",
		Short: "Revert a succeeded rotation to its previous key",
		Long: `Revert the rotation recorded under the given audit record id.

Rollback only succeeds while the policy's rollback window is open and the
previous key identifier has not passed its purge-eligible date. The revert
itself is recorded as a new audit entry; history is never rewritten.`,
		Example: `  # Find the record id, then roll it back
  keyrot audit list --tenant acme --status succeeded
  keyrot rollback --tenant acme RECORD_ID`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()
			rt.notifier.Start(cmd.Context())

			manager := rollback.NewManager(rollback.ManagerOptions{
				Policies:  rt.state.Policies(),
				Registry:  rt.state.Registry(),
				Trail:     rt.state.Trail(),
				Providers: rt.providers,
				Notifier:  rt.notifier,
				Logger:    cfg.Logger,
				Locks:     rt.executor.Locks(),
			})

			rec, err := manager.Rollback(cmd.Context(), tenantID, args[0])
			if err != nil {
				return err
			}
			if err := rt.state.Save(); err != nil {
				return err
			}

			fmt.Printf("Rolled back key %s to %s (record %s)\n",
				rec.KeyID,
				logging.KeyID(rec.PreviousKMSKeyID),
				rec.ID,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant that owns the record")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
