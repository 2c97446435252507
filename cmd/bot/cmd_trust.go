package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"botnerd/internal/config"
	"botnerd/internal/store"
	"botnerd/internal/trust"
	"botnerd/internal/types"
)

// trustCmd groups trust store inspection and management
var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Inspect and manage the trust store",
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every trust record",
	RunE:  trustList,
}

var trustShowCmd = &cobra.Command{
	Use:   "show [identity]",
	Short: "Show one trust record",
	Args:  cobra.ExactArgs(1),
	RunE:  trustShow,
}

var trustSetCmd = &cobra.Command{
	Use:   "set [identity] [level]",
	Short: "Set an identity's trust level as the configured owner",
	Long: `Sets the trust level for an identity, authorized as the configured
owner. Promotion and demotion are the same operation.

Example:
  bot trust set gary known`,
	Args: cobra.ExactArgs(2),
	RunE: trustSet,
}

func init() {
	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustShowCmd)
	trustCmd.AddCommand(trustSetCmd)
}

// openTrustStore opens the store for the trust subcommands.
func openTrustStore() (*config.Config, *store.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Trust.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, st, nil
}

func trustList(cmd *cobra.Command, args []string) error {
	_, st, err := openTrustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Trust().List()
	if err != nil {
		return fmt.Errorf("failed to list trust records: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No trust records. Run 'bot run' once or 'bot enroll' to create some.")
		return nil
	}

	fmt.Printf("%-20s %-20s %-8s %-16s %s\n", "IDENTITY", "NAME", "LEVEL", "REGISTERED BY", "UPDATED")
	for _, rec := range records {
		fmt.Printf("%-20s %-20s %-8s %-16s %s\n",
			rec.IdentityID, rec.DisplayName, rec.Level, rec.RegisteredBy,
			rec.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func trustShow(cmd *cobra.Command, args []string) error {
	_, st, err := openTrustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	identityID := args[0]
	rec, ok := st.Trust().Get(identityID)
	if !ok {
		// Absence is a valid state, not an error: unknown trust.
		fmt.Printf("%s: not registered (trust level %s)\n", identityID, types.TrustUnknown)
		return nil
	}

	fmt.Printf("Identity:      %s\n", rec.IdentityID)
	fmt.Printf("Display name:  %s\n", rec.DisplayName)
	fmt.Printf("Trust level:   %s\n", rec.Level)
	fmt.Printf("Registered by: %s\n", rec.RegisteredBy)
	fmt.Printf("Created:       %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:       %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func trustSet(cmd *cobra.Command, args []string) error {
	cfg, st, err := openTrustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	identityID := args[0]
	level, err := types.ParseTrustLevel(args[1])
	if err != nil {
		return err
	}

	displayName := identityID
	if rec, ok := st.Trust().Get(identityID); ok && rec.DisplayName != "" {
		displayName = rec.DisplayName
	}

	registrar := trust.NewRegistrar(st.Trust())
	if err := registrar.Bootstrap(cfg.Trust.Owner); err != nil {
		return err
	}
	if err := registrar.Register(identityID, displayName, level, cfg.Trust.Owner); err != nil {
		var authErr *types.AuthorizationError
		if errors.As(err, &authErr) {
			return fmt.Errorf("not authorized: %s", authErr.Reason)
		}
		return err
	}

	fmt.Printf("%s is now %s\n", identityID, level)
	return nil
}
