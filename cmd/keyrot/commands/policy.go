package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/omniusstudio/pms-keyrotation/internal/config"
	"github.com/omniusstudio/pms-keyrotation/internal/policy"
)

// NewPolicyCommand creates the parent 'policy' command.
func NewPolicyCommand(cfg *config.Config, stateDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage rotation policies",
		Long: `Create, inspect, and control rotation policies.

Policies are tenant-scoped rules that decide when bound keys rotate and
whether a completed rotation can be rolled back.

Examples:
  # Import policies from a JSON document
  keyrot policy import --tenant acme policies.json

  # List a tenant's policies
  keyrot policy list --tenant acme

  # Pause all rotation under one policy
  keyrot policy suspend --tenant acme POLICY_ID`,
	}

	cmd.AddCommand(
		newPolicyImportCmd(cfg, stateDir),
		newPolicyListCmd(cfg, stateDir),
		newPolicyShowCmd(cfg, stateDir),
		newPolicySuspendCmd(cfg, stateDir),
		newPolicyActivateCmd(cfg, stateDir),
	)

	return cmd
}

func newPolicyImportCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import policies from a JSON document",
		Long: `Validate a JSON policy document against the policy schema and create
every policy it contains. Validation failures reject the whole document;
no partial import occurs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read policy document: %w", err)
			}

			drafts, err := policy.ParseDrafts(data)
			if err != nil {
				return err
			}

			var created []*policy.Policy
			for _, draft := range drafts {
				if draft.TenantID == "" {
					draft.TenantID = tenantID
				}
				pol, err := rt.state.Policies().Create(cmd.Context(), draft)
				if err != nil {
					return fmt.Errorf("policy %q: %w", draft.Name, err)
				}
				created = append(created, pol)
			}

			if err := rt.state.Save(); err != nil {
				return err
			}

			for _, pol := range created {
				fmt.Printf("Created policy %s (%s), next rotation %s\n",
					pol.ID, pol.Name, formatTimePtr(pol.NextRotationAt))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant for drafts that omit tenant_id")

	return cmd
}

func newPolicyListCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var (
		tenantID   string
		listStatus string
		listFormat string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's rotation policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			policies, err := rt.state.Policies().List(cmd.Context(), tenantID, policy.Filter{
				Status: policy.Status(listStatus),
			})
			if err != nil {
				return err
			}

			switch listFormat {
			case "json":
				return outputJSON(policies)
			case "yaml":
				return outputYAML(policies)
			default:
				return outputPolicyTable(policies)
			}
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to list policies for")
	cmd.Flags().StringVar(&listStatus, "status", "", "Filter by status: active, suspended")
	cmd.Flags().StringVar(&listFormat, "format", "table", "Output format: table, json, yaml")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newPolicyShowCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "show <policy-id>",
		Short: "Show one policy in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			pol, err := rt.state.Policies().Get(cmd.Context(), tenantID, args[0])
			if err != nil {
				return err
			}
			return outputYAML(pol)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant that owns the policy")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newPolicySuspendCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "suspend <policy-id>",
		Short: "Suspend a policy so its keys stop rotating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			pol, err := rt.state.Policies().Suspend(cmd.Context(), tenantID, args[0])
			if err != nil {
				return err
			}
			if err := rt.state.Save(); err != nil {
				return err
			}
			fmt.Printf("Suspended policy %s (%s)\n", pol.ID, pol.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant that owns the policy")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newPolicyActivateCmd(cfg *config.Config, stateDir *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "activate <policy-id>",
		Short: "Reactivate a suspended policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			pol, err := rt.state.Policies().Activate(cmd.Context(), tenantID, args[0])
			if err != nil {
				return err
			}
			if err := rt.state.Save(); err != nil {
				return err
			}
			fmt.Printf("Activated policy %s (%s), next rotation %s\n",
				pol.ID, pol.Name, formatTimePtr(pol.NextRotationAt))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant that owns the policy")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func outputPolicyTable(policies []*policy.Policy) error {
	if len(policies) == 0 {
		fmt.Println("No policies found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tKEY TYPE\tTRIGGER\tSTATUS\tNEXT ROTATION")
	fmt.Fprintln(w, "--\t----\t--------\t-------\t------\t-------------")
	for _, pol := range policies {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			pol.ID,
			pol.Name,
			pol.KeyType,
			pol.Trigger.Type,
			pol.Status,
			formatTimePtr(pol.NextRotationAt),
		)
	}
	return nil
}
