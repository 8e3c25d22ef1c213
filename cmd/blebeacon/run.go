package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blebeacon/internal/ble"
	"github.com/chaz8081/blebeacon/internal/config"
	"github.com/chaz8081/blebeacon/internal/publish"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Advertise the configured GATT profile and publish notifications",
	Args:  cobra.NoArgs,
	RunE:  runBeacon,
}

func runBeacon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	logger := newLogger(cfg, logLevel)
	slog.SetDefault(logger)
	printBanner(cmd.OutOrStdout(), cfg)

	stack, err := ble.NewStack(cfg.Device.Backend)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, stack, logger)
}

// serve brings the peripheral up and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, stack ble.Stack, logger *slog.Logger) error {
	p, err := setupPeripheral(cfg, stack, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.StopAdvertising(); err != nil {
			logger.Warn("Stop advertising failed", "error", err)
		}
	}()

	logger.Info("Ready! Waiting for a central. Ctrl+C to quit.", "name", p.Name())

	if cfg.Publish.Enabled {
		pub, err := publish.New(p, publish.Options{
			Characteristic: cfg.Publish.Characteristic,
			Schedule:       cfg.Publish.Schedule,
			Messages:       cfg.Publish.Messages,
			MaxChunk:       cfg.Publish.MaxChunk,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		if err := publish.WaitForClient(ctx, p, cfg.Publish.WaitPoll, logger); err != nil {
			return shutdownErr(err, logger)
		}
		if err := pub.Start(ctx); err != nil {
			return err
		}
		defer pub.Stop()
	}

	<-ctx.Done()
	return shutdownErr(ctx.Err(), logger)
}

// shutdownErr treats cancellation as a clean exit.
func shutdownErr(err error, logger *slog.Logger) error {
	if errors.Is(err, context.Canceled) {
		logger.Info("Shutting down...")
		return nil
	}
	return err
}

// setupPeripheral initializes the stack, registers every configured
// service and characteristic, and starts advertising.
func setupPeripheral(cfg *config.Config, stack ble.Stack, logger *slog.Logger) (*ble.Peripheral, error) {
	p := ble.NewPeripheral(cfg.Device.Name, stack, ble.WithLogger(logger))
	if err := p.Begin(); err != nil {
		return nil, err
	}

	for _, svc := range cfg.Services {
		if err := p.AddService(svc.UUID); err != nil {
			return nil, err
		}
		for _, char := range svc.Characteristics {
			if err := p.AddCharacteristic(char, svc.UUID); err != nil {
				return nil, err
			}
			uuid := char
			if err := p.OnWrite(uuid, func(data []byte) {
				logger.Info("Characteristic written", "uuid", uuid, "value", string(data))
			}); err != nil {
				return nil, err
			}
		}
	}

	if err := p.StartAdvertising(); err != nil {
		return nil, err
	}
	return p, nil
}

// printBanner displays the startup configuration summary.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "=== blebeacon ===")
	fmt.Fprintf(w, "  Name:     %s\n", cfg.Device.Name)
	fmt.Fprintf(w, "  Backend:  %s\n", cfg.Device.Backend)
	for _, svc := range cfg.Services {
		fmt.Fprintf(w, "  Service:  %s (%d characteristics)\n", svc.UUID, len(svc.Characteristics))
	}
	if cfg.Publish.Enabled {
		fmt.Fprintf(w, "  Publish:  %s every %s\n", cfg.Publish.Characteristic, cfg.Publish.Schedule)
	} else {
		fmt.Fprintln(w, "  Publish:  disabled")
	}
	fmt.Fprintf(w, "  Log:      %s\n", cfg.LogLevel)
	fmt.Fprintln(w, "=================")
}
