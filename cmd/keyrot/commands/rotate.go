package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omniusstudio/pms-keyrotation/internal/config"
	"github.com/omniusstudio/pms-keyrotation/internal/logging"
)

// NewRotateCommand creates the rotate command for operator-driven
// rotations outside the schedule.
func NewRotateCommand(cfg *config.Config, stateDir *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "rotate <key-id>",
		Short: "Rotate one key immediately",
		Long: `Rotate a single key now, outside its schedule.

The key must be bound to a policy; the policy's provider, retention, and
rollback settings apply exactly as they would on a scheduled cycle. The
rotation is recorded in the audit trail like any other.`,
		Example: `  # Rotate a key ahead of schedule
  keyrot rotate --tenant acme KEY_ID`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()
			rt.notifier.Start(cmd.Context())

			key, err := rt.state.Registry().Get(cmd.Context(), tenantID, args[0])
			if err != nil {
				return err
			}
			if key.RotationPolicyID == nil {
				return fmt.Errorf("key %s is not bound to a policy", key.ID)
			}
			pol, err := rt.state.Policies().Get(cmd.Context(), tenantID, *key.RotationPolicyID)
			if err != nil {
				return err
			}

			rec, err := rt.executor.Rotate(cmd.Context(), pol, key)
			if saveErr := rt.state.Save(); saveErr != nil {
				return saveErr
			}
			if err != nil {
				if rec != nil {
					return fmt.Errorf("rotation failed (record %s): %w", rec.ID, err)
				}
				return err
			}

			fmt.Printf("Rotated key %s: %s -> %s (record %s)\n",
				key.ID,
				logging.KeyID(rec.PreviousKMSKeyID),
				logging.KeyID(rec.NewKMSKeyID),
				rec.ID,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant that owns the key")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
