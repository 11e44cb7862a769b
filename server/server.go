package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/erictom97/gender-age/detections"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultTimeout        = 60 * time.Second
)

type ServerOption func(*Server) error

type Server struct {
	pool           *ModelPool
	log            *logrus.Logger
	validate       *validator.Validate
	options        detections.Options
	format         detections.OutputFormat
	maxUploadBytes int64
	limiter        *rateLimiter
	readTimeout    time.Duration
	writeTimeout   time.Duration
	router         *mux.Router
}

func NewServer(options ...ServerOption) (*Server, error) {
	s := &Server{
		options:        detections.Options{Threshold: detections.DefaultConfidenceThreshold, Overlay: detections.OverlayPerFace},
		format:         detections.FormatPNG,
		maxUploadBytes: DefaultMaxUploadBytes,
		readTimeout:    DefaultTimeout,
		writeTimeout:   DefaultTimeout,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if s.pool == nil {
		return nil, errors.New("model pool is required")
	}
	if s.log == nil {
		return nil, errors.New("logger is required")
	}
	if s.validate == nil {
		s.validate = validator.New()
	}

	s.router = s.routes()
	return s, nil
}

func WithPool(pool *ModelPool) ServerOption {
	return func(s *Server) error {
		s.pool = pool
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(v *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validate = v
		return nil
	}
}

func WithPipeline(opts detections.Options) ServerOption {
	return func(s *Server) error {
		switch opts.Overlay {
		case detections.OverlayPerFace, detections.OverlayFirstBox:
		default:
			return fmt.Errorf("unknown overlay mode %q", opts.Overlay)
		}
		s.options = opts
		return nil
	}
}

func WithOutputFormat(format detections.OutputFormat) ServerOption {
	return func(s *Server) error {
		if format != detections.FormatPNG && format != detections.FormatJPEG {
			return fmt.Errorf("unknown output format %q", format)
		}
		s.format = format
		return nil
	}
}

func WithMaxUploadBytes(n int64) ServerOption {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("upload limit must be positive, got %d", n)
		}
		s.maxUploadBytes = n
		return nil
	}
}

// WithRateLimit limits detect requests per client IP.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("invalid rate limit %v/%d", rps, burst)
		}
		s.limiter = newRateLimiter(rate.Limit(rps), burst)
		return nil
	}
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) error {
		s.readTimeout = read
		s.writeTimeout = write
		return nil
	}
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, loggingMiddleware)

	r.HandleFunc("/", handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(staticHandler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.middleware)
	}
	api.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.router,
		Addr:         addr,
		WriteTimeout: s.writeTimeout,
		ReadTimeout:  s.readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
