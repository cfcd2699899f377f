package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/analyzer"
	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/capture/gocvcam"
	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/metrics"
	"github.com/kozaktomas/facetrack/internal/tracking"
	"github.com/kozaktomas/facetrack/internal/web"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run the camera tracking service",
	Long: `Open every configured camera, recognize faces and report attendance events
when an employee crosses a tripwire.

Camera topology comes from CAMERAS_CONFIG (YAML) or the built-in default.
Events that cannot be delivered are written to ATTENDANCE_FALLBACK_PATH and
retried in the background.

Examples:
  # Run all cameras
  facetrack track

  # Run a subset of cameras with the status server
  STATUS_PORT=8090 facetrack track --camera entrance --camera exit`,
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)

	trackCmd.Flags().StringSlice("camera", nil, "Only run the cameras with these IDs")
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if only := mustGetStringSlice(cmd, "camera"); len(only) > 0 {
		cfg.Cameras = slices.DeleteFunc(cfg.Cameras, func(c config.CameraConfig) bool {
			return !slices.Contains(only, c.ID)
		})
		if len(cfg.Cameras) == 0 {
			return fmt.Errorf("no configured camera matches %v", only)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New(cfg.Metrics.StatsdAddr, []string{"service:facetrack"})
	defer m.Close()

	delivery, err := newDelivery(cfg, m)
	if err != nil {
		return err
	}
	var enqueuer attendance.Enqueuer
	if delivery != nil {
		enqueuer = delivery
	}
	var audit *attendance.AuditLog
	if cfg.Attendance.AuditCSVPath != "" {
		audit = attendance.NewAuditLog(cfg.Attendance.AuditCSVPath)
	}
	recorder := attendance.NewRecorder(store, audit, enqueuer, m, attendance.RecorderConfig{
		CheckoutLookback: cfg.Attendance.CheckoutLookback,
		Debounce:         cfg.Attendance.EventDebounce,
	})

	index := loadIndex(ctx, cfg, store)
	app, err := tracking.NewApp(cfg, tracking.Deps{
		Store:    store,
		Index:    index,
		Analyzer: analyzer.NewClient(cfg.Analyzer.URL, cfg.Analyzer.Model, cfg.Analyzer.MaxWidth),
		Opener:   gocvcam.Opener{},
		Sink:     recorder,
		Delivery: delivery,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.Status.Port > 0 {
		srv := web.NewServer(cfg.Status, app, store, cfg.Attendance.CheckoutLookback)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	log.Info().Int("cameras", len(cfg.Cameras)).Msg("tracking started")
	err = app.Run(ctx)
	wg.Wait()
	saveIndex(cfg, index)
	log.Info().Msg("tracking stopped")
	return err
}

// newDelivery builds the outbound delivery pipeline, or returns nil when no
// attendance API is configured.
func newDelivery(cfg *config.Config, m *metrics.Client) (*attendance.Delivery, error) {
	ac := cfg.Attendance
	if ac.APIURL == "" {
		log.Warn().Msg("ATTENDANCE_API_URL not set, events are recorded locally only")
		return nil, nil
	}
	client, err := attendance.NewClient(ac)
	if err != nil {
		return nil, err
	}
	return attendance.NewDelivery(client, attendance.NewFallbackLog(ac.FallbackPath), m, attendance.DeliveryConfig{
		SweepInterval: ac.SweepInterval,
		RatePerSecond: ac.RatePerSecond,
	}), nil
}
