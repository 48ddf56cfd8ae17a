// cmd/puzzlectl/commands.go
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	app "puzzlebounty/internal"
	"puzzlebounty/internal/auth"
	"puzzlebounty/internal/config"
	"puzzlebounty/pkg/db"
)

var errInconsistent = errors.New("ledger audit found inconsistent accounts")

func loadApp(cmd *cobra.Command) (*app.Application, error) {
	application := app.NewApplication()
	if err := application.Initialize(cmd.Context()); err != nil {
		return nil, err
	}
	return application, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			conn, err := db.NewPostgresDB(cfg.DB)
			if err != nil {
				return err
			}
			defer conn.Close()

			if status, _ := cmd.Flags().GetBool("status"); status {
				return db.MigrationStatus(conn.DB)
			}
			if err := db.Migrate(conn.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().Bool("status", false, "Only print migration status")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale deposits and match inbound chain transfers once",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer application.Shutdown(cmd.Context())

			report, err := application.Sweeper.RunOnce(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
				return perr
			}
			return err
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare stored balances with the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer application.Shutdown(cmd.Context())

			userID, _ := cmd.Flags().GetInt64("user")
			if userID != 0 {
				report, err := application.Accounts.AuditAccount(cmd.Context(), userID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Consistent {
					return errInconsistent
				}
				return nil
			}

			reports, err := application.Accounts.AuditAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			for _, r := range reports {
				if !r.Consistent {
					return errInconsistent
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "Audit a single account")
	return cmd
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create [username]",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer application.Shutdown(cmd.Context())

			acc, err := application.Accounts.CreateAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc)
		},
	})
	return cmd
}

func refundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refund-deposit [deposit-id]",
		Short: "Reverse a completed deposit after a chargeback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer application.Shutdown(cmd.Context())

			reason, _ := cmd.Flags().GetString("reason")
			entry, err := application.Deposits.RefundDeposit(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		},
	}
	cmd.Flags().String("reason", "chargeback", "Reason recorded on the entry")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := auth.IssueToken(cfg.JWTSecret, userID, time.Now(), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
