package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/api"
	"github.com/vsariola/kantele/config"
	"github.com/vsariola/kantele/engine"
	"github.com/vsariola/kantele/events"
	"github.com/vsariola/kantele/metrics"
	"github.com/vsariola/kantele/midi"
	"github.com/vsariola/kantele/orc"
	"github.com/vsariola/kantele/oto"
	"github.com/vsariola/kantele/portaudio"
	"github.com/vsariola/kantele/rpc"
	"github.com/vsariola/kantele/version"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Level())
	defer logger.Sync()

	logger.Info("starting kantele live server", zap.Stringer("version", version.Current))

	e := engine.New(engine.Options{
		Header:   cfg.Header(),
		Logger:   logger.Named("engine"),
		Observer: metrics.NewCollector(nil),
	})
	defer e.Close()

	var program kantele.Program
	if cfg.Program != "" {
		if program, err = orc.ReadFile(cfg.Program); err != nil {
			logger.Fatal("failed to read program", zap.String("path", cfg.Program), zap.Error(err))
		}
	}
	if cfg.Audio.Hold > 0 {
		program.Score = append(program.Score, kantele.ScoreEvent{Kind: kantele.EventHold, Start: cfg.Audio.Hold.Seconds()})
	}
	if err := e.Load(program); err != nil {
		logger.Fatal("failed to load program", zap.Error(err))
	}
	header := e.Header()
	logger.Info("performance loaded",
		zap.Int("sr", header.SampleRate),
		zap.Int("ksmps", header.Ksmps),
		zap.Int("instruments", len(program.Instruments)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus
	var bus events.Bus = events.NewMemoryBus(0)
	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		streams := events.NewStreamsBus(
			redisClient,
			cfg.Redis.Stream,
			cfg.Redis.MaxLen,
			"kantele-watchers",
			fmt.Sprintf("kantele-%d", os.Getpid()),
			logger,
		)
		bus = events.Multi{bus, streams}
	}
	go events.Forward(ctx, e.Notifications(), bus, logger)

	// Audio
	done := make(chan error, 1)
	switch cfg.Audio.Output {
	case "oto":
		audioContext, err := oto.NewContext(header.SampleRate)
		if err != nil {
			logger.Fatal("failed to open audio output", zap.Error(err))
		}
		defer audioContext.Close()
		reader := engine.NewReader(e)
		playback, err := audioContext.Play(reader)
		if err != nil {
			logger.Fatal("failed to start playback", zap.Error(err))
		}
		go func() {
			playback.Wait()
			playback.Close()
			done <- reader.Err()
		}()
	case "portaudio":
		stream, err := portaudio.Open(header.SampleRate, header.Ksmps, 0)
		if err != nil {
			logger.Fatal("failed to open audio stream", zap.Error(err))
		}
		go func() {
			err := stream.Run(ctx, engine.NewReader(e))
			if cerr := stream.Close(); err == nil {
				err = cerr
			}
			done <- err
		}()
	default:
		go func() {
			done <- pace(ctx, e)
		}()
	}

	// MIDI
	if cfg.MIDIInput != "" {
		input, err := midi.Open(cfg.MIDIInput, midi.NewMapper(e, header.ZeroDBFS, logger.Named("midi")))
		if err != nil {
			logger.Warn("MIDI input unavailable", zap.String("port", cfg.MIDIInput), zap.Error(err))
		} else {
			defer input.Close()
			logger.Info("listening to MIDI", zap.Stringer("port", input))
		}
	}

	// Initialize API servers
	httpServer := api.NewServer(&api.Config{
		Addr:        cfg.GetHTTPAddr(),
		Performance: e,
		Bus:         bus,
		Logger:      logger.Named("http"),
	})

	grpcServer, err := rpc.NewServer(&rpc.Config{
		Addr:        cfg.GetGRPCAddr(),
		Performance: e,
		Bus:         bus,
		Logger:      logger.Named("grpc"),
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("kantele live server started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("audio", cfg.Audio.Output))

	// Wait for interrupt signal or the end of the performance
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	finished := false
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case err := <-done:
		finished = true
		if err != nil {
			logger.Error("performance stopped", zap.Error(err))
		} else {
			logger.Info("performance finished")
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	e.Shutdown()
	if !finished {
		select {
		case err := <-done:
			if err != nil {
				logger.Error("performance stopped", zap.Error(err))
			}
		case <-shutdownCtx.Done():
			logger.Warn("audio did not drain before the shutdown timeout")
			cancel()
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	cancel()
	if err := bus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("kantele live server shut down complete")
}

// pace steps the engine in real time without an audio device.
func pace(ctx context.Context, e *engine.Engine) error {
	h := e.Header()
	period := time.Duration(float64(time.Second) * float64(h.Ksmps) / float64(h.SampleRate))
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		status, err := e.Step()
		if err != nil {
			return err
		}
		if status == engine.Finished {
			return nil
		}
	}
}

// initLogger initializes the logger at the given level
func initLogger(level zapcore.Level) *zap.Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
