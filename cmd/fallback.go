package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/metrics"
)

var fallbackCmd = &cobra.Command{
	Use:   "fallback",
	Short: "Inspect and replay undelivered attendance events",
}

var fallbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events waiting in the fallback log",
	RunE:  runFallbackList,
}

var fallbackReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send events from the fallback log to the attendance system",
	Long: `Try to deliver every event of the fallback log once. Delivered events are
removed from the log; the rest stay for the next attempt.`,
	RunE: runFallbackReplay,
}

func init() {
	rootCmd.AddCommand(fallbackCmd)
	fallbackCmd.AddCommand(fallbackListCmd, fallbackReplayCmd)

	fallbackListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runFallbackList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	events, err := attendance.NewFallbackLog(cfg.Attendance.FallbackPath).Entries()
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(events)
	}
	for _, ev := range events {
		fmt.Printf("%s  %-9s  %-10s  %s  %s\n", ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Type, ev.EmployeeID, ev.CameraID, ev.ID)
	}
	fmt.Printf("%d events pending in %s\n", len(events), cfg.Attendance.FallbackPath)
	return nil
}

func runFallbackReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Attendance.APIURL == "" {
		return fmt.Errorf("ATTENDANCE_API_URL environment variable is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.Metrics.StatsdAddr, []string{"service:facetrack"})
	defer m.Close()
	delivery, err := newDelivery(cfg, m)
	if err != nil {
		return err
	}

	delivered, remaining, err := delivery.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	fmt.Printf("Delivered %d events, %d remain in %s\n", delivered, remaining, cfg.Attendance.FallbackPath)
	return nil
}
