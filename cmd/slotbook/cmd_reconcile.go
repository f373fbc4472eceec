package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/slotbook/internal/repo"
	"github.com/tbourn/slotbook/internal/services"
)

var (
	reconcileBatch     int
	reconcileReminders bool
	reconcilePurge     bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one pass of side-effect retries and housekeeping",
	Long: `Retry calendar, reminder and notification steps that failed after
their booking was confirmed, then optionally deliver due reminders and purge
expired idempotency records. Suitable for cron when serve is not running the
background workers.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileBatch, "batch", 100, "Maximum side effects to retry")
	reconcileCmd.Flags().BoolVar(&reconcileReminders, "reminders", true, "Also deliver due reminders")
	reconcileCmd.Flags().BoolVar(&reconcilePurge, "purge-idempotency", true, "Also delete expired idempotency records")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	db, err := openDatabase()
	if err != nil {
		return err
	}
	rt, err := buildApp(db)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	r := &services.Reconciler{Bookings: rt.svc, BatchSize: reconcileBatch, Logger: logger}
	done, failed, err := r.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	ev := logger.Info().Int("done", done).Int("failed", failed)

	if reconcileReminders {
		sent, err := rt.reminder.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("reminders: %w", err)
		}
		ev = ev.Int("reminders_sent", sent)
	}
	if reconcilePurge {
		purged, err := repo.PurgeExpiredIdempotency(ctx, db, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("purge idempotency: %w", err)
		}
		ev = ev.Int64("idempotency_purged", purged)
	}
	ev.Msg("reconcile pass complete")
	return nil
}
