package main

import (
	"encoding/json"
	"fmt"
	"os"

	"ambassadorbonus/config"
	"ambassadorbonus/internal/auth"
	"ambassadorbonus/internal/database"
	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/router"
	"ambassadorbonus/internal/service"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bonusctl",
		Short: "Operator tooling for the ambassador bonus engine",
	}
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(runBatchCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID uint
		email  string
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			switch role {
			case domain.RoleAdmin, domain.RoleAmbassador, domain.RoleCustomer:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := auth.GenerateAccessToken(&cfg.JWT, userID, email, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", domain.RoleAdmin, "role claim (ADMIN, AMBASSADOR, CUSTOMER)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-batch",
		Short: "Run the monthly payout batch now",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, err := openApp()
			if err != nil {
				return err
			}
			summary, err := app.Payouts.RunMonthlyBatch(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch [block|commission] [id]",
		Short: "Dispatch a single unpaid record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := service.ParseRecordKind(args[0])
			if err != nil {
				return err
			}
			var id uint
			if _, err := fmt.Sscanf(args[1], "%d", &id); err != nil || id == 0 {
				return fmt.Errorf("invalid id %q", args[1])
			}
			app, _, err := openApp()
			if err != nil {
				return err
			}
			res, err := app.Payouts.DispatchOne(cmd.Context(), service.RecordRef{Kind: kind, ID: id})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openApp()
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func openApp() (*router.App, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	return router.NewApp(cfg, db), db, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
