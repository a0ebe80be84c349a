package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/soundkeeplab/michold/internal/arbiter"
	"github.com/soundkeeplab/michold/internal/capture"
	"github.com/soundkeeplab/michold/internal/config"
	"github.com/soundkeeplab/michold/internal/platform"
	"github.com/soundkeeplab/michold/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the arbitration daemon",
	Long: `Run starts the holding loop and keeps it alive until interrupted.

The daemon registers for recording-activity and screen-state notifications,
serves the control API when enabled, and picks up config file edits without
a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stateFile := config.NewStateFile(cfg.StateFile)

		// The last mechanism that actually worked wins over the configured
		// preference on the next boot.
		if m, ok := stateFile.LastMechanism(); ok {
			slog.Info("resuming with last known good mechanism", "mechanism", string(m))
			cfg.Capture.PreferredMechanism = string(m)
		}

		pw := platform.NewPipeWire(cfg.Capture.Device)
		rec := platform.NewRecorder(cfg.Capture.Device)
		selector := capture.NewSelector(pw, rec, pw, stateFile)

		engine := arbiter.New(cfg, selector, platform.NewSessionWatcher())

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return engine.Run(ctx)
		})

		if cfg.Server.Enabled {
			srv := server.New(engine, cfgFile, cfg.Server.Addr)
			g.Go(func() error {
				return srv.Run(ctx)
			})
		}

		g.Go(func() error {
			screen, err := platform.NewScreenWatcher()
			if err != nil {
				// No session bus means no screen transitions; holding still
				// works, it just never pauses for the display.
				slog.Warn("screen watching unavailable", "error", err)
				return nil
			}
			defer screen.Close()
			return screen.Watch(ctx, engine.ScreenOff, engine.ScreenOn)
		})

		config.Watch(cfgFile, func(next *config.Config) {
			slog.Info("config file changed, applying")
			engine.Reconfigure(next)
		})

		engine.Start(false)

		return g.Wait()
	},
}
