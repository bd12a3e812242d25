package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/omniusstudio/pms-keyrotation/internal/config"
	"github.com/omniusstudio/pms-keyrotation/internal/registry"
)

// NewKeysCommand creates the parent 'keys' command.
func NewKeysCommand(cfg *config.Config, stateDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage registered encryption keys",
		Long: `Register keys in the rotation registry and bind them to policies.

A key is never auto-rotated until it is bound to a policy.

Examples:
  # Register an existing provider key
  keyrot keys register --tenant acme --name patient-records \
    --type PHI_DATA --provider prod-kms --kms-key-id arn:aws:kms:... --region us-east-1

  # Bind the key to a policy
  keyrot keys bind --tenant acme KEY_ID POLICY_ID`,
	}

	cmd.AddCommand(
		newKeysRegisterCmd(cfg, stateDir),
		newKeysBindCmd(cfg, stateDir),
		newKeysListCmd(cfg, stateDir),
	)

	return cmd
}

func newKeysRegisterCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var draft registry.Draft

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an existing provider key for rotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			key, err := rt.state.Registry().Register(cmd.Context(), draft)
			if err != nil {
				return err
			}
			if err := rt.state.Save(); err != nil {
				return err
			}
			fmt.Printf("Registered key %s (%s)\n", key.ID, key.KeyName)
			return nil
		},
	}

	cmd.Flags().StringVar(&draft.TenantID, "tenant", "", "Tenant that owns the key")
	cmd.Flags().StringVar(&draft.KeyName, "name", "", "Human-readable key name")
	cmd.Flags().StringVar(&draft.KeyType, "type", "", "Semantic key type, e.g. PHI_DATA")
	cmd.Flags().StringVar(&draft.KMSProvider, "provider", "", "Configured KMS provider name")
	cmd.Flags().StringVar(&draft.KMSKeyID, "kms-key-id", "", "Current provider-side key identifier")
	cmd.Flags().StringVar(&draft.KMSRegion, "region", "", "Provider region")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("kms-key-id")

	return cmd
}

func newKeysBindCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "bind <key-id> [policy-id]",
		Short: "Bind a key to a rotation policy (omit policy-id to unbind)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			var policyID *string
			if len(args) == 2 {
				// The policy must exist in the same tenant before binding.
				if _, err := rt.state.Policies().Get(cmd.Context(), tenantID, args[1]); err != nil {
					return err
				}
				policyID = &args[1]
			}

			key, err := rt.state.Registry().BindPolicy(cmd.Context(), tenantID, args[0], policyID)
			if err != nil {
				return err
			}
			if err := rt.state.Save(); err != nil {
				return err
			}
			if policyID != nil {
				fmt.Printf("Bound key %s to policy %s\n", key.ID, *policyID)
			} else {
				fmt.Printf("Unbound key %s\n", key.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant that owns the key")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newKeysListCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var (
		tenantID   string
		listFormat string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's registered keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			all, _ := rt.state.Registry().Snapshot()
			var keys []*registry.Key
			for _, key := range all {
				if key.TenantID == tenantID {
					keys = append(keys, key)
				}
			}

			switch listFormat {
			case "json":
				return outputJSON(keys)
			case "yaml":
				return outputYAML(keys)
			default:
				return outputKeyTable(keys)
			}
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to list keys for")
	cmd.Flags().StringVar(&listFormat, "format", "table", "Output format: table, json, yaml")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func outputKeyTable(keys []*registry.Key) error {
	if len(keys) == 0 {
		fmt.Println("No keys found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tTYPE\tPROVIDER\tPOLICY\tSTATUS")
	fmt.Fprintln(w, "--\t----\t----\t--------\t------\t------")
	for _, key := range keys {
		policyID := "-"
		if key.RotationPolicyID != nil {
			policyID = *key.RotationPolicyID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			key.ID,
			key.KeyName,
			key.KeyType,
			key.KMSProvider,
			policyID,
			key.Status,
		)
	}
	return nil
}
