package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/app"
	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/pkg/config"
	"github.com/noah-isme/academy-portal-api/pkg/logger"
)

var container *app.Container

func main() {
	ctx := context.Background()

	rootCmd := &cobra.Command{
		Use:           "portal-cli",
		Short:         "Academy portal operator tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			container, err = app.Build(cmd.Context(), cfg, logr)
			return err
		},
	}

	rootCmd.AddCommand(sweepRejectedCmd())
	rootCmd.AddCommand(intentsCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(adminsCmd())
	rootCmd.AddCommand(tokenCmd())

	err := rootCmd.ExecuteContext(ctx)
	if container != nil {
		container.Close()
		_ = container.Logger.Sync()
	}
	if err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func sweepRejectedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep-rejected",
		Short: "Delete rejected requests older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			retention, _ := cmd.Flags().GetDuration("retention")
			if retention <= 0 {
				retention = container.Config.Sweep.Retention
			}
			n, err := container.Requests.PurgeRejected(cmd.Context(), retention)
			if err != nil {
				return err
			}
			container.Logger.Info("rejected requests purged", zap.Int64("count", n), zap.Duration("retention", retention))
			fmt.Printf("Purged %d rejected requests older than %s\n", n, retention)
			return nil
		},
	}
	cmd.Flags().Duration("retention", 0, "Override the configured retention")
	return cmd
}

func intentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intents",
		Short: "Inspect and retry workflow side effects",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List intents, FAILED ones by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, _ := cmd.Flags().GetStringSlice("status")
			limit, _ := cmd.Flags().GetInt("limit")
			filter := models.IntentFilter{Limit: limit}
			for _, s := range statuses {
				filter.Status = append(filter.Status, models.IntentStatus(strings.ToUpper(s)))
			}
			intents, err := container.Dispatcher.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Printf("Found %d intents:\n\n", len(intents))
			for _, intent := range intents {
				lastErr := ""
				if intent.LastError != nil {
					lastErr = " - " + *intent.LastError
				}
				fmt.Printf("- %s %-24s %-11s attempts=%d%s\n", intent.ID, intent.Kind, intent.Status, intent.Attempts, lastErr)
			}
			return nil
		},
	}
	list.Flags().StringSlice("status", []string{string(models.IntentStatusFailed)}, "Statuses to include")
	list.Flags().Int("limit", 100, "Maximum rows")

	retry := &cobra.Command{
		Use:   "retry <intent_id>",
		Short: "Re-execute a FAILED intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := container.Dispatcher.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Intent %s is now %s\n", intent.ID, intent.Status)
			return nil
		},
	}

	cmd.AddCommand(list, retry)
	return cmd
}

func slotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slots [date]",
		Short: "Show free slots of a day (defaults to today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC().Format("2006-01-02")
			if len(args) > 0 {
				date = args[0]
			}
			available, err := container.Scheduler.AvailableSlots(cmd.Context(), date)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d free slots\n", date, len(available))
			for _, label := range available {
				fmt.Printf("  %s\n", label)
			}
			return nil
		},
	}
}

func adminsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admins",
		Short: "Administrator directory maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active administrators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			admins, err := container.Admins.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range admins {
				fmt.Printf("- %s %s <%s>\n", a.ID, a.FullName(), a.Email)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh-cache",
		Short: "Drop cached administrator lookups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := container.Admins.InvalidateCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Administrator cache cleared")
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <admin_id>",
		Short: "Issue an access token for an active administrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			issued, err := container.Auth.IssueToken(cmd.Context(), args[0], models.UserRole(strings.ToUpper(role)))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(issued, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().String("role", string(models.RoleAdmin), "Token role (ADMIN or SUPERADMIN)")
	return cmd
}
