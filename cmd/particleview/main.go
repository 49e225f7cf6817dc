// Command particleview is the browser-based viewer for a running particle
// simulation. It polls the simulation REST API, projects the particles into
// a 3D scene and serves the control panel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/particleview/internal/config"
	"github.com/banshee-data/particleview/internal/httputil"
	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/recorder"
	"github.com/banshee-data/particleview/internal/server"
	"github.com/banshee-data/particleview/internal/simapi"
	"github.com/banshee-data/particleview/internal/timeutil"
	"github.com/banshee-data/particleview/internal/version"
	"github.com/banshee-data/particleview/internal/viewer"
)

var (
	configPath   = flag.String("config", config.DefaultConfigPath, "Path to the viewer JSON config")
	apiURL       = flag.String("api", "", "Simulation API base URL (overrides api_url)")
	listen       = flag.String("listen", "", "HTTP listen address (overrides listen)")
	grpcListen   = flag.String("grpc-listen", "", "gRPC health listen address (overrides grpc_listen)")
	recordingsDB = flag.String("recordings", "", "Recordings database path (overrides recordings_db)")
	noRecord     = flag.Bool("no-record", false, "Disable frame recording")
	watchConfig  = flag.Bool("watch", true, "Reload render preferences when the config file changes")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

// flagOverrides returns the config fields set on the command line.
func flagOverrides() *config.ViewerConfig {
	o := config.EmptyViewerConfig()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api":
			o.APIURL = apiURL
		case "listen":
			o.Listen = listen
		case "grpc-listen":
			o.GRPCListen = grpcListen
		case "recordings":
			o.RecordingsDB = recordingsDB
		}
	})
	return o
}

// loadConfig layers the defaults, the config file and the flags. A missing
// file at the default path is not an error.
func loadConfig(path string, overrides *config.ViewerConfig) (*config.ViewerConfig, error) {
	cfg := config.DefaultViewerConfig()
	fileCfg, err := config.LoadViewerConfig(path)
	switch {
	case err == nil:
		cfg.Merge(fileCfg)
	case path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist):
		log.Printf("no config at %s, using defaults", path)
	default:
		return nil, err
	}
	cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	overrides := flagOverrides()
	cfg, err := loadConfig(*configPath, overrides)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("particleview %s, backend %s", version.String(), cfg.GetAPIURL())

	client, err := simapi.NewClient(cfg.GetAPIURL(), httputil.NewStandardClient(nil, cfg.GetRequestTimeout()))
	if err != nil {
		log.Fatalf("failed to create backend client: %v", err)
	}

	metrics := monitoring.NewMetrics()
	clock := timeutil.RealClock{}

	var (
		store *recorder.Store
		rec   *recorder.Recorder
	)
	if !*noRecord {
		store, err = recorder.OpenStore(cfg.GetRecordingsDB())
		if err != nil {
			log.Fatalf("failed to open recordings database: %v", err)
		}
		defer store.Close()
		rec = recorder.New(store, clock, metrics)
	}

	opts := viewer.Options{Config: cfg, Client: client, Clock: clock, Metrics: metrics}
	if rec != nil {
		opts.Recorder = rec
	}
	ctrl, err := viewer.New(opts)
	if err != nil {
		log.Fatalf("failed to create viewer: %v", err)
	}

	srv, err := server.New(server.Options{Controller: ctrl, Store: store, Metrics: metrics})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	ctrl.Loop().Attach("ws", srv.Hub())
	if rec != nil {
		ctrl.Loop().Attach("recorder", rec)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// A confirmed close from the control panel ends the process too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := ctrl.Run(ctx); err != nil {
			log.Printf("viewer stopped: %v", err)
		}
		log.Print("viewer routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctrl.Done():
			log.Print("viewer closed from the control panel")
			cancel()
		case <-ctx.Done():
		}
	}()

	if addr := cfg.GetGRPCListen(); addr != "" {
		health := server.NewHealth(ctrl.Healthy, clock, server.DefaultHealthInterval)
		if err := health.Listen(addr); err != nil {
			log.Fatalf("failed to start gRPC health server: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = health.Run(ctx)
			log.Print("health routine terminated")
		}()
	}

	if *watchConfig {
		w, err := config.NewWatcher(*configPath, func(fileCfg *config.ViewerConfig) {
			next := config.DefaultViewerConfig()
			next.Merge(fileCfg)
			next.Merge(overrides)
			if err := next.Validate(); err != nil {
				log.Printf("ignoring config change: %v", err)
				return
			}
			if err := ctrl.ApplyConfig(ctx, next); err != nil {
				log.Printf("failed to apply config: %v", err)
			}
		})
		if err != nil {
			log.Printf("config watcher disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("config watcher stopped: %v", err)
				}
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx, cfg.GetListen()); err != nil {
			log.Printf("HTTP server error: %v", err)
			cancel()
		}
		log.Print("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
