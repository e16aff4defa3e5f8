package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/gatts/sim"
	"github.com/srg/otgi/internal/groutine"
	"github.com/srg/otgi/internal/obd"
	"github.com/srg/otgi/internal/stackfactory"
	"github.com/srg/otgi/internal/telemetry"
	"github.com/srg/otgi/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve telemetry over Bluetooth LE",
	Long: `Brings up the attribute server, then samples the vehicle and indicates the fuel used
to every connected peer until interrupted.

Examples:
  # Fully simulated: simulated radio, simulated ECU, one simulated subscriber
  otgi run --sim-peer --duration 30s

  # Real adapter and vehicle
  otgi run --stack ble --can can0

  # Custom schema and sampling
  otgi run --config otgi.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runStack    string
	runCAN      string
	runDuration time.Duration
	runSimPeer  bool
	runReady    time.Duration
)

func init() {
	runCmd.Flags().StringVar(&runStack, "stack", "", "Radio stack: sim or ble (overrides config)")
	runCmd.Flags().StringVar(&runCAN, "can", "", "CAN interface, or loopback for the simulated vehicle (overrides config)")
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	runCmd.Flags().BoolVar(&runSimPeer, "sim-peer", false, "Attach a simulated subscriber that logs every indication (sim stack only)")
	runCmd.Flags().DurationVar(&runReady, "ready-timeout", 10*time.Second, "How long to wait for the attribute table")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runStack != "" {
		cfg.Stack = runStack
	}
	if runCAN != "" {
		cfg.CAN.Interface = runCAN
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if runSimPeer && cfg.Stack != stackfactory.KindSim {
		return fmt.Errorf("--sim-peer needs the sim stack, got %s", cfg.Stack)
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	runCount, err := telemetry.NewRunCounter(cfg.RunCountPath).Next()
	if err != nil {
		return err
	}
	session := uuid.New().String()
	logger.WithFields(logrus.Fields{"session": session, "runcount": runCount}).Info("Starting")

	schema, err := cfg.Schema.ServerConfiguration(map[string][]byte{
		config.RoleRunCount: telemetry.Uint64LE(runCount),
	})
	if err != nil {
		return err
	}

	server, stack, err := startServer(ctx, cfg, schema, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop radio stack")
		}
	}()

	if runSimPeer {
		attachSimPeer(ctx, stack.Sim, server, logger)
	}

	bus, closeBus, err := openBus(ctx, cfg.CAN.Interface, logger)
	if err != nil {
		return err
	}
	defer closeBus()
	logger.WithField("bus", describeBus(cfg.CAN.Interface)).Info("Vehicle bus open")

	extra, err := cfg.ExtraPIDs()
	if err != nil {
		return err
	}
	fuelUUID, _ := cfg.Schema.RoleUUID(config.RoleFuelUsage)
	snapshotUUID, _ := cfg.Schema.RoleUUID(config.RoleSnapshot)

	loop, err := telemetry.NewLoop(
		obd.NewDriver(bus, &obd.Options{Timeout: cfg.CAN.Timeout, Logger: logger}),
		server,
		telemetry.Config{
			FuelUUID:        fuelUUID,
			SnapshotUUID:    snapshotUUID,
			SessionID:       session,
			RunCount:        runCount,
			ShortTrimPeriod: cfg.Sampling.ShortTrimPeriod,
			LongTrimPeriod:  cfg.Sampling.LongTrimPeriod,
			QueryGap:        cfg.Sampling.QueryGap,
			Extra:           extra,
			Logger:          logger,
			OnDTCs: func(codes []obd.DTC) {
				for _, c := range codes {
					fmt.Fprintf(cmd.OutOrStdout(), "DTC %s\n", c)
				}
			},
		},
	)
	if err != nil {
		return err
	}

	if err := loop.Run(ctx); err != nil {
		return err
	}

	stats := loop.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %.4f L over %d ticks, %d indications, %d failed\n",
		session, loop.Liters(), stats.Ticks, stats.Published, stats.PublishErrors)
	return nil
}

// startServer brings up the stack and the attribute server and waits for the table.
func startServer(ctx context.Context, cfg *config.Config, schema gatts.ServerConfiguration, logger *logrus.Logger) (*gatts.Server, *stackfactory.Stack, error) {
	stack, err := stackfactory.StackFactory(stackfactory.Options{
		Kind:           cfg.Stack,
		ConfirmLatency: cfg.Server.ConfirmLatency,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := stack.Start(ctx); err != nil {
		_ = stack.Stop()
		return nil, nil, err
	}

	opts := cfg.ServerOptions(logger)
	opts.OnFault = func(err error) {
		if gatts.IsSetupError(err) {
			logger.WithError(err).Error("Attribute server setup failed")
			return
		}
		logger.WithError(err).Error("Attribute server invariant violated")
	}
	server, err := gatts.NewServer(stack.GAP, stack.GATTS, schema, opts)
	if err != nil {
		_ = stack.Stop()
		return nil, nil, err
	}
	if err := server.Start(); err != nil {
		_ = stack.Stop()
		return nil, nil, err
	}

	timer := time.NewTimer(runReady)
	defer timer.Stop()
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-server.Ready():
			logger.WithField("name", schema.Name).Info("Attribute server ready")
			return server, stack, nil
		case <-poll.C:
			if err := server.Err(); err != nil {
				_ = stack.Stop()
				return nil, nil, err
			}
		case <-timer.C:
			_ = stack.Stop()
			return nil, nil, ErrServerNotReady
		case <-ctx.Done():
			_ = stack.Stop()
			return nil, nil, ctx.Err()
		}
	}
}

// attachSimPeer connects a simulated central that subscribes to every indicating
// characteristic and logs what it receives.
func attachSimPeer(ctx context.Context, stack *sim.Stack, server *gatts.Server, logger *logrus.Logger) {
	peer, err := stack.Connect(sim.RandomAddr())
	if err != nil {
		logger.WithError(err).Warn("Failed to attach simulated peer")
		return
	}
	log := logger.WithField("peer", peer.Addr().String())

	groutine.Go(ctx, "sim-peer", func(ctx context.Context) {
		for _, svc := range server.Snapshot().Services {
			for _, ch := range svc.Characteristics {
				if ch.CCCD == 0 {
					continue
				}
				if _, err := peer.EnableIndications(ctx, ch.CCCD); err != nil {
					log.WithError(err).Warn("Failed to enable indications")
				}
			}
		}
		for {
			ind, err := peer.Next(ctx)
			if err != nil {
				return
			}
			log.WithFields(logrus.Fields{
				"handle": fmt.Sprintf("0x%04X", uint16(ind.Handle)),
				"value":  fmt.Sprintf("% X", ind.Value),
			}).Info("Simulated peer received indication")
		}
	})
}
