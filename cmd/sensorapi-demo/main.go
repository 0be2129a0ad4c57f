// Command sensorapi-demo drives one session through its whole lifecycle:
// create, register, initialize from a launch string, run until interrupted,
// close and release. Messages can be recorded to SQLite and forwarded over
// gRPC while the session runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/banshee-data/sensorapi"
	"github.com/banshee-data/sensorapi/internal/config"
	"github.com/banshee-data/sensorapi/internal/forward"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/recorder"
	"github.com/banshee-data/sensorapi/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .yaml config file")
	launch      = flag.String("launch", "", "Launch string (overrides launch_args)")
	duration    = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	verbose     = flag.Bool("verbose", false, "Log one line per dispatched message")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("sensorapi-demo %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	monitoring.SetVerbose(*verbose || cfg.GetVerbose())

	launchArgs := cfg.GetLaunchArgs()
	if *launch != "" {
		launchArgs = *launch
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := run(ctx, cfg, launchArgs); err != nil {
		log.Printf("error: %v (status %v)", err, sensorapi.StatusOf(err))
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, launchArgs string) error {
	api := sensorapi.New(sensorapi.Options{
		Replay:          cfg.ReplayOptions(),
		MaxMessageBytes: cfg.GetMaxMessageBytes(),
		CallerID:        cfg.GetScannerName(),
	})
	defer api.Shutdown()

	h, err := api.Create([]string{cfg.GetScannerName()})
	if err != nil {
		return err
	}
	sessionID, err := api.SessionID(h)
	if err != nil {
		return err
	}
	log.Printf("created session %s (handle %v)", sessionID, h)

	var sinks []func(sensorapi.Kind, any)

	if path := cfg.GetRecorderPath(); path != "" {
		rec, err := recorder.Open(path, nil)
		if err != nil {
			return fmt.Errorf("failed to open recorder: %w", err)
		}
		defer func() {
			if n, err := rec.Count(0); err == nil {
				log.Printf("recorder: %d messages in %s (%d write errors)", n, path, rec.Errors())
			}
			rec.Close()
		}()
		sinks = append(sinks, rec.Sink(sessionID))
	}

	if addr := cfg.GetForwardAddr(); addr != "" {
		pub := forward.NewPublisher(forward.Config{ListenAddr: addr, MaxClients: cfg.GetForwardMaxClients()})
		if err := pub.Start(); err != nil {
			return fmt.Errorf("failed to start forwarder: %w", err)
		}
		defer func() {
			published, dropped, _ := pub.Stats()
			log.Printf("forward: %d published, %d dropped", published, dropped)
			pub.Stop()
		}()
		sinks = append(sinks, pub.Sink())
	}

	if addr := cfg.GetDebugAddr(); addr != "" {
		mux := http.NewServeMux()
		api.AttachAdminRoutes(mux)
		server := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				server.Close()
			}
		}()
		log.Printf("debug pages on http://%s/debug/", addr)
	}

	var received atomic.Uint64
	tap := sensorapi.NewTap(func(_ sensorapi.Handle, kind sensorapi.Kind, msg any) {
		received.Add(1)
		for _, sink := range sinks {
			sink(kind, msg)
		}
	})
	if err := tap.Attach(api, h); err != nil {
		return err
	}

	if err := api.InitializeByString(h, launchArgs); err != nil {
		api.Release(h)
		return err
	}
	log.Printf("session running with launch string %q", launchArgs)

	<-ctx.Done()

	if err := api.Close(h); err != nil {
		log.Printf("close: %v", err)
	}
	if err := api.Release(h); err != nil {
		return err
	}

	log.Printf("received %d messages", received.Load())
	for _, s := range api.Stats() {
		log.Printf("  %-22s delivered=%d listener_calls=%d mean_elements=%.1f mean_latency=%.1fus",
			s.Kind, s.Delivered, s.ListenerCalls, s.MeanElements, s.MeanLatencyUs)
	}
	return nil
}
