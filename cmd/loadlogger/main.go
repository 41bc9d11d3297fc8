package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/loadlogger/internal/blockdev"
	"codeberg.org/mutker/loadlogger/internal/buffer"
	"codeberg.org/mutker/loadlogger/internal/config"
	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/flash"
	"codeberg.org/mutker/loadlogger/internal/hx711"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"codeberg.org/mutker/loadlogger/internal/metrics"
	"codeberg.org/mutker/loadlogger/internal/pid"
	"codeberg.org/mutker/loadlogger/internal/record"
	"codeberg.org/mutker/loadlogger/internal/sampler"
	"codeberg.org/mutker/loadlogger/internal/supervisor"
	"github.com/spf13/afero"
)

const statsInterval = 10 * time.Second

var (
	cfg     *config.Config
	closers []io.Closer
)

func main() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogger()
	defer closeAll()
	logger.Debug().Msg("Config loaded")

	pidFile := pid.New("")
	if err := pidFile.Write(); err != nil {
		if appErr, ok := err.(errors.Error); ok {
			logger.FatalWithCode(appErr).Msg("Another instance is using the sensors")
		}
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}
	defer pidFile.Remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("Error in main loop")
	}
	logger.Info().Msg("Exiting...")
}

func initLogger() {
	opts := logger.Options{
		Debug:     cfg.Debug,
		Verbose:   cfg.Verbose,
		Level:     cfg.LogLevel,
		IsService: logger.IsService(),
	}

	var consoleErr error
	if cfg.Console.Port != "" {
		console, err := logger.OpenConsole(cfg.Console.Port, cfg.Console.BaudRate)
		if err != nil {
			consoleErr = err
		} else {
			opts.Console = console
			closers = append(closers, console)
		}
	}

	if cfg.Log.File != "" {
		file := logger.NewFileWriter(cfg.Log.File, cfg.Log.MaxSizeMB)
		opts.File = file
		closers = append(closers, file)
	}

	logger.Init(opts)

	// the console is optional; keep running on stdout without it
	if consoleErr != nil {
		logger.Warn().Err(consoleErr).Str("port", cfg.Console.Port).Msg("Serial console unavailable")
	}
}

func closeAll() {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}

func fatal(code errors.ErrorCode, err error, msg string) {
	logger.FatalWithCode(errors.New().Wrap(code, err)).Msg(msg)
}

func run(ctx context.Context) error {
	pins, adc, err := openHardware()
	if err != nil {
		fatal(errors.ErrInitBoard, err, "Failed to initialize board")
	}

	driver, err := hx711.New(pins.Data, pins.Clock,
		hx711.WithGain(cfg.LoadCell.Gain),
		hx711.WithReadyTimeout(cfg.LoadCell.ReadyTimeout),
		hx711.WithPollInterval(cfg.LoadCell.PollInterval),
		hx711.WithLogger(logger.New("hx711")),
	)
	if err != nil {
		fatal(errors.ErrInitLoadCell, err, "Failed to initialize load cell")
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to power down load cell")
		}
	}()

	if err := driver.SetScale(cfg.LoadCell.Scale); err != nil {
		fatal(errors.ErrInitLoadCell, err, "Invalid load cell scale")
	}

	logger.Info().Dur("settle", cfg.LoadCell.Settle).Msg("Waiting for load cell to settle")
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(cfg.LoadCell.Settle):
	}

	if err := driver.Tare(ctx, cfg.LoadCell.TareSamples); err != nil {
		fatal(errors.ErrTare, err, "Failed to tare load cell")
	}

	writer := openFlash(ctx)

	collector, err := metrics.NewService(metrics.Config{
		DBPath:       cfg.Metrics.DBPath,
		BatchSize:    cfg.Metrics.BatchSize,
		BatchTimeout: cfg.Metrics.BatchTimeout,
		Enabled:      cfg.Metrics.Enabled,
	}, logger.New("metrics"))
	if err != nil {
		logger.Warn().Err(err).Msg("Metrics unavailable, continuing without")
		collector = metrics.NewNoop()
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close metrics")
		}
	}()

	buf := buffer.New(cfg.Buffer.Capacity)
	sup := supervisor.New(buf, writer,
		supervisor.WithCheckInterval(cfg.Sampling.CheckInterval),
		supervisor.WithMetrics(collector),
		supervisor.WithLogger(logger.New("supervisor")),
	)
	if err := sup.Start(); err != nil {
		return err
	}

	// The supervisor outlives the sampling tasks so that it can flush the
	// last records they produce.
	supCtx, supCancel := context.WithCancel(context.WithoutCancel(ctx))
	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(supCtx) }()

	loadCell := &sampler.Task{
		Name:   "loadcell",
		Sensor: record.LoadCell,
		Period: cfg.Sampling.LoadCellInterval,
		Source: sampler.LoadCellSource{Driver: driver, Times: cfg.LoadCell.ReadSamples},
		Buffer: buf,
		Logger: logger.New("sampler"),
	}
	pressure := &sampler.Task{
		Name:   "pressure",
		Sensor: record.Pressure,
		Period: cfg.Sampling.PressureInterval,
		Source: sampler.AnalogSource{Pin: adc, FullScale: cfg.Analog.FullScale},
		Buffer: buf,
		Logger: logger.New("sampler"),
	}

	group := &sampler.Group{
		Tasks: []*sampler.Task{loadCell, pressure},
		Funcs: []func(context.Context) error{
			func(ctx context.Context) error { return reportStats(ctx, sup, loadCell, pressure) },
		},
	}

	logger.Info().
		Dur("loadcell_interval", cfg.Sampling.LoadCellInterval).
		Dur("pressure_interval", cfg.Sampling.PressureInterval).
		Int("buffer", buf.Cap()).
		Msg("Sampling")

	groupErr := group.Run(ctx)

	supCancel()
	if err := <-supDone; err != nil {
		if appErr, ok := err.(errors.Error); ok {
			logger.ErrorWithCode(appErr).Msg("Final flush incomplete")
		}
	}

	logStats(sup, loadCell, pressure)

	if groupErr != nil {
		return errors.New().Wrap(errors.ErrMainLoop, groupErr)
	}
	return nil
}

func openFlash(ctx context.Context) *flash.Writer {
	dev, err := blockdev.NewFileDevice(afero.NewOsFs(), cfg.Flash.Device, cfg.Flash.Size)
	if err != nil {
		fatal(errors.ErrInitFlash, err, "Invalid flash device")
	}

	// Persist opens the device again for every batch
	if err := dev.Init(); err != nil {
		fatal(errors.ErrInitFlash, err, "Failed to initialize flash")
	}
	if err := dev.Deinit(); err != nil {
		fatal(errors.ErrInitFlash, err, "Failed to initialize flash")
	}

	writer := flash.NewWriter(dev,
		flash.WithStartAddress(cfg.Flash.StartAddress),
		flash.WithRetries(cfg.Flash.Retries),
		flash.WithLogger(logger.New("flash")),
	)

	if cfg.Flash.Resume {
		if err := writer.Resume(ctx); err != nil {
			fatal(errors.ErrInitFlash, err, "Failed to locate end of flash log")
		}
	}

	logger.Info().
		Str("device", dev.Path()).
		Uint64("size", dev.Size()).
		Uint64("cursor", writer.Cursor()).
		Msg("Flash ready")

	return writer
}

func reportStats(ctx context.Context, sup *supervisor.Supervisor, tasks ...*sampler.Task) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logStats(sup, tasks...)
		}
	}
}

func logStats(sup *supervisor.Supervisor, tasks ...*sampler.Task) {
	stats := sup.Stats()
	event := logger.Info().
		Str("state", sup.State().String()).
		Uint64("flushes", stats.Flushes).
		Uint64("flush_errors", stats.FlushErrors).
		Uint64("persisted", stats.Persisted).
		Uint64("failed", stats.Failed).
		Uint64("lost", stats.Lost).
		Uint64("dropped", stats.Dropped)

	for _, t := range tasks {
		ts := t.Stats()
		event = event.
			Uint64(t.Name+"_samples", ts.Samples).
			Uint64(t.Name+"_errors", ts.Errors)
	}

	event.Msg("Status")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
