package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"screenshare/internal/capture"
	"screenshare/internal/config"
	"screenshare/internal/display"
	"screenshare/internal/engine"
	"screenshare/internal/logging"
	"screenshare/internal/platform"
	"screenshare/internal/recorder"
	"screenshare/internal/snapshot"
	"screenshare/internal/thread"
	"screenshare/internal/types"
)

var (
	flagConfig        = flag.StringP("config", "c", "", "Path to screenshare.yaml (searched in ., ./configs, ~/.screenshare if empty)")
	flagListDisplays  = flag.Bool("list-displays", false, "Print the active displays and exit")
	flagProbe         = flag.Bool("probe", false, "Check screen recording permission, prompting if undecided, then exit")
	flagDisplay       = flag.IntP("display", "d", 0, "Display index from --list-displays (0 = primary)")
	flagFPS           = flag.Int("fps", 30, "Capture frame rate")
	flagAudio         = flag.String("audio", "system", "Audio source: system, microphone or none")
	flagChannels      = flag.Int("channels", 2, "Audio channel count")
	flagDuration      = flag.Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	flagSnapshot      = flag.String("snapshot", "", "Write the first captured frame to this PNG file")
	flagSnapshotWidth = flag.Int("snapshot-width", 1280, "Scale the snapshot down to this width (0 = native)")
	flagStats         = flag.Duration("stats-interval", 5*time.Second, "Log capture stats at this interval (0 = off)")
	flagMetricsAddr   = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9100")
	flagLogLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flagLogJSON       = flag.Bool("log-json", false, "Log JSON instead of console output")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	code := 0
	thread.MainWrapMaybe(func() {
		if err := run(cfg, log); err != nil {
			log.Error().Err(err).Msg("screenshare failed")
			code = 1
		}
	})
	os.Exit(code)
}

// applyFlags lets explicitly set flags win over the config file.
func applyFlags(cfg *config.Config) {
	set := func(name string, apply func()) {
		if flag.CommandLine.Changed(name) {
			apply()
		}
	}
	set("display", func() { cfg.Capture.Display = *flagDisplay })
	set("fps", func() { cfg.Capture.FPS = *flagFPS })
	set("audio", func() { cfg.Audio.Source = *flagAudio })
	set("channels", func() { cfg.Audio.Channels = *flagChannels })
	set("metrics-addr", func() { cfg.Metrics.Addr = *flagMetricsAddr })
	set("log-level", func() { cfg.Log.Level = *flagLogLevel })
	set("log-json", func() {
		cfg.Log.Format = "console"
		if *flagLogJSON {
			cfg.Log.Format = "json"
		}
	})
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	if cfg.Log.Format == "json" {
		return logging.New(os.Stderr, cfg.Log.Level)
	}
	return logging.NewConsole(os.Stderr, cfg.Log.Level, "screenshare", cfg.Log.NoColor)
}

func run(cfg *config.Config, log zerolog.Logger) error {
	backend, cleanup, err := platform.Init(log)
	if err != nil {
		return err
	}
	defer cleanup()

	if *flagProbe {
		granted, err := platform.Probe()
		if err != nil {
			return err
		}
		if !granted {
			return fmt.Errorf("%w: screen recording permission not granted", types.ErrCaptureUnavailable)
		}
		log.Info().Msg("permission probe ok")
		return nil
	}

	displays, err := display.List(backend)
	if err != nil {
		return err
	}
	if *flagListDisplays {
		for i, d := range displays {
			primary := ""
			if d.Primary {
				primary = " (primary)"
			}
			fmt.Printf("%d: %s%s\n", i, d, primary)
		}
		return nil
	}
	target, err := display.Select(displays, cfg.Capture.Display)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("metrics server shutdown")
			}
		}()
	}

	eng := engine.New(backend, log, metrics)
	rec := recorder.New(eng, log, recorder.Options{StartTimeout: cfg.Capture.StartTimeout})
	events, unsubscribe, err := rec.Subscribe()
	if err != nil {
		return err
	}
	defer unsubscribe()

	if err := rec.Start(context.Background(), target, cfg.Engine()); err != nil {
		return errors.Join(err, rec.Shutdown())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		consumeVideo(ctx, rec, log)
	}()
	go func() {
		defer wg.Done()
		consumeAudio(ctx, rec, cfg.AudioFormat(), log)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var deadline <-chan time.Time
	if *flagDuration > 0 {
		timer := time.NewTimer(*flagDuration)
		defer timer.Stop()
		deadline = timer.C
	}
	var stats <-chan time.Time
	if *flagStats > 0 {
		ticker := time.NewTicker(*flagStats)
		defer ticker.Stop()
		stats = ticker.C
	}

	var runErr error
loop:
	for {
		select {
		case sig := <-sigCh:
			log.Info().Stringer("signal", sig).Msg("shutting down")
			break loop
		case <-deadline:
			log.Info().Dur("duration", *flagDuration).Msg("capture time elapsed")
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if ev.To == recorder.Failed {
				runErr = ev.Err
				break loop
			}
		case <-stats:
			logStats(eng, log)
		}
	}

	logStats(eng, log)
	cancel()
	if err := rec.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	wg.Wait()
	if n := capture.OpenHandles(); n != 0 {
		log.Warn().Int64("handles", n).Msg("native handles still open after shutdown")
	}
	return runErr
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()
	return srv
}

func consumeVideo(ctx context.Context, rec *recorder.Recorder, log zerolog.Logger) {
	wantSnapshot := *flagSnapshot != ""
	for {
		f, err := rec.NextVideoFrame(ctx)
		if err != nil {
			if errors.Is(err, engine.ErrNotRunning) && ctx.Err() == nil {
				// the event loop decides what a lost session means
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
				continue
			}
			return
		}
		if wantSnapshot {
			wantSnapshot = false
			if err := writeSnapshot(*flagSnapshot, f, *flagSnapshotWidth); err != nil {
				log.Error().Err(err).Msg("snapshot")
			} else {
				log.Info().Str("file", *flagSnapshot).Int("w", f.Width).Int("h", f.Height).Msg("snapshot written")
			}
		}
		f.Release()
	}
}

func writeSnapshot(path string, f *types.VideoFrame, width int) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := snapshot.WritePNG(out, f, width); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// consumeAudio drains the PCM buffer in 20ms chunks, the way an encoder would.
func consumeAudio(ctx context.Context, rec *recorder.Recorder, format types.AudioFormat, log zerolog.Logger) {
	chunk := format.SampleRate / 50 * format.Channels
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				samples, err := rec.ReadAudio(chunk)
				if errors.Is(err, types.ErrOverrun) {
					log.Warn().Msg("audio overrun, consumer fell behind")
				}
				if len(samples) < chunk {
					break
				}
			}
		}
	}
}

func logStats(eng *engine.Engine, log zerolog.Logger) {
	st, err := eng.Stats()
	if err != nil {
		return
	}
	log.Info().Str("session", st.Session).
		Uint64("frames", st.FramesDelivered).
		Uint64("dropped", st.FramesDropped).
		Int("audio_buffered", st.AudioBuffered).
		Uint64("audio_dropped", st.AudioDropped).
		Uint64("overruns", st.Overruns).
		Int64("handles", capture.OpenHandles()).
		Msg("stats")
}
