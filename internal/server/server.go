// Package server exposes the viewer over HTTP: the control page, the JSON
// control panel under /viewer/, the backend proxy under /api/, the frame
// stream, metrics and the debug mux.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	stdhttputil "net/http/httputil"
	"time"

	"github.com/banshee-data/particleview/internal/httputil"
	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/recorder"
	"github.com/banshee-data/particleview/internal/viewer"
)

var logf = monitoring.Component("HTTP")

// Options configures a Server.
type Options struct {
	Controller *viewer.Controller
	// Store enables /viewer/recordings and the /debug/ SQL console.
	Store   *recorder.Store
	Metrics *monitoring.Metrics
}

// Server routes HTTP requests to the controller.
type Server struct {
	ctrl    *viewer.Controller
	store   *recorder.Store
	metrics *monitoring.Metrics
	hub     *Hub
	proxy   *stdhttputil.ReverseProxy
}

// New builds a server for opts.Controller.
func New(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("server: controller is required")
	}
	proxy := stdhttputil.NewSingleHostReverseProxy(opts.Controller.Client().BaseURL())
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logf("proxy %s %s: %v", r.Method, r.URL.Path, err)
		httputil.BadGateway(w, fmt.Sprintf("backend unavailable: %v", err))
	}
	return &Server{
		ctrl:    opts.Controller,
		store:   opts.Store,
		metrics: opts.Metrics,
		hub:     NewHub(opts.Metrics),
		proxy:   proxy,
	}, nil
}

// Hub returns the websocket hub; attach it to the render loop.
func (s *Server) Hub() *Hub { return s.hub }

// ServeMux returns the routing table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("/api/", s.proxy)
	mux.Handle("/ws/frames", s.hub)
	mux.Handle("/metrics", s.metrics.Handler())

	mux.HandleFunc("GET /viewer/chart", s.handleChart)
	mux.HandleFunc("GET /viewer/state", s.handleState)
	mux.HandleFunc("POST /viewer/settings", s.handleSettings)
	mux.HandleFunc("POST /viewer/box", s.handleBox)
	mux.HandleFunc("POST /viewer/pause", s.handlePause)
	mux.HandleFunc("POST /viewer/rewind", s.handleRewind)
	mux.HandleFunc("POST /viewer/reset", s.handleReset)
	mux.HandleFunc("POST /viewer/close", s.handleClose)
	mux.HandleFunc("POST /viewer/upload", s.handleUpload)
	mux.HandleFunc("GET /viewer/download", s.handleDownload)
	mux.HandleFunc("POST /viewer/render", s.handleRender)
	mux.HandleFunc("POST /viewer/scale", s.handleScale)
	mux.HandleFunc("POST /viewer/scale/toggle", s.handleScaleToggle)
	mux.HandleFunc("POST /viewer/hide", s.handleHide)
	mux.HandleFunc("POST /viewer/show", s.handleShow)
	mux.HandleFunc("GET /viewer/particles", s.handleParticles)
	mux.HandleFunc("GET /viewer/particles/{id}", s.handleParticle)
	mux.HandleFunc("POST /viewer/pick", s.handlePick)
	mux.HandleFunc("POST /viewer/select", s.handleSelect)
	mux.HandleFunc("POST /viewer/record", s.handleRecord)
	mux.HandleFunc("GET /viewer/recordings", s.handleRecordings)
	mux.HandleFunc("GET /viewer/recordings/{id}", s.handleRecordingExport)
	mux.HandleFunc("GET /viewer/snapshot.png", s.handleSnapshot)
	mux.HandleFunc("POST /viewer/resize", s.handleResize)
	mux.HandleFunc("POST /viewer/camera", s.handleCamera)
	mux.HandleFunc("POST /viewer/gui", s.handleGUI)

	if s.store != nil {
		if err := s.store.AttachAdminRoutes(mux); err != nil {
			logf("debug routes disabled: %v", err)
		}
	}
	return mux
}

// Handler returns the mux wrapped in access logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux())
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logf("listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
