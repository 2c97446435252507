package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"botnerd/internal/store"
	"botnerd/internal/trust"
	"botnerd/internal/types"
)

var (
	enrollName  string
	enrollLevel string
)

// enrollCmd registers an identity as the configured owner
var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Register an identity in the trust store",
	Long: `Creates or updates a trust record, authorized as the configured owner
identity. Re-enrolling the same name updates the record in place.

Face samples are captured through the spoken registration flow while the
robot runs; this command only writes the trust record.

Example:
  bot enroll --name "Nora" --level guest`,
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().StringVar(&enrollName, "name", "", "Display name to register (required)")
	enrollCmd.Flags().StringVar(&enrollLevel, "level", "guest", "Trust level: unknown, guest, known, owner")
	enrollCmd.MarkFlagRequired("name")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	level, err := types.ParseTrustLevel(enrollLevel)
	if err != nil {
		return err
	}
	identityID := types.IdentityID(enrollName)
	if identityID == "" {
		return fmt.Errorf("name %q yields an empty identity id", enrollName)
	}

	st, err := store.Open(cfg.Trust.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	registrar := trust.NewRegistrar(st.Trust())
	if err := registrar.Bootstrap(cfg.Trust.Owner); err != nil {
		return err
	}

	logger.Info("Enrolling identity",
		zap.String("identity", identityID),
		zap.String("level", level.String()),
		zap.String("by", cfg.Trust.Owner))

	if err := registrar.Register(identityID, enrollName, level, cfg.Trust.Owner); err != nil {
		var authErr *types.AuthorizationError
		if errors.As(err, &authErr) {
			return fmt.Errorf("not authorized: %s", authErr.Reason)
		}
		return err
	}

	fmt.Printf("Registered %s (%s) at trust level %s\n", enrollName, identityID, level)
	return nil
}
