// Package server is the HTTP read surface for the dashboard: the current
// snapshot and a health check.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/abh/certman"
	"github.com/labstack/echo/v4"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/version"

	"go.ntppool.org/dnsresults/aggregator"
)

// SnapshotReader is the cache as seen by the handlers.
type SnapshotReader interface {
	// Get returns the snapshot to serve, possibly refreshing first.
	Get(ctx context.Context) *aggregator.Snapshot
	// Current returns the stored snapshot without refreshing.
	Current() *aggregator.Snapshot
}

type Config struct {
	Listen string

	// TLSCert and TLSKey enable HTTPS; the files are reloaded when they change.
	TLSCert string
	TLSKey  string

	// MaxAge is the snapshot age at which /healthz starts failing.
	MaxAge time.Duration
}

type Server struct {
	log    *slog.Logger
	cfg    Config
	reader SnapshotReader
	e      *echo.Echo

	now func() time.Time
}

func New(ctx context.Context, cfg Config, reader SnapshotReader) *Server {
	if len(cfg.Listen) == 0 {
		cfg.Listen = ":8000"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 4 * time.Minute
	}

	srv := &Server{
		log:    logger.FromContext(ctx).WithGroup("server"),
		cfg:    cfg,
		reader: reader,
		now:    time.Now,
	}
	srv.e = srv.setupEcho()
	return srv
}

func (srv *Server) setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(otelecho.Middleware("dnsresults"))
	e.Use(slogecho.NewWithConfig(srv.log, slogecho.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		Filters:          []slogecho.Filter{slogecho.IgnorePath("/healthz")},
	}))

	e.GET("/dnsresults", srv.results)
	e.GET("/healthz", srv.healthz)
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, version.VersionInfo())
	})

	return e
}

// Handler returns the HTTP handler with all routes.
func (srv *Server) Handler() http.Handler {
	return srv.e
}

// results returns the current snapshot, or null before the first refresh.
func (srv *Server) results(c echo.Context) error {
	snap := srv.reader.Get(c.Request().Context())
	c.Response().Header().Set("Cache-Control", "no-cache")
	if snap == nil {
		return c.JSONBlob(http.StatusOK, []byte("null"))
	}
	return c.JSON(http.StatusOK, snap)
}

type healthResponse struct {
	Status      string     `json:"status"`
	ID          string     `json:"id,omitempty"`
	CollectedAt *time.Time `json:"collectedAt,omitempty"`
	Age         float64    `json:"age,omitempty"`
}

func (srv *Server) healthz(c echo.Context) error {
	snap := srv.reader.Current()
	if snap == nil {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "empty"})
	}

	age := snap.Age(srv.now())
	r := healthResponse{
		Status:      "ok",
		ID:          snap.ID,
		CollectedAt: &snap.CollectedAt,
		Age:         age.Seconds(),
	}
	if age >= srv.cfg.MaxAge {
		r.Status = "stale"
		return c.JSON(http.StatusServiceUnavailable, r)
	}
	return c.JSON(http.StatusOK, r)
}

// Run serves HTTP until ctx is cancelled and then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	log := srv.log

	server := &http.Server{
		Addr:    srv.cfg.Listen,
		Handler: srv.e,

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       240 * time.Second,

		BaseContext: func(net.Listener) context.Context { return ctx },
		ErrorLog:    logger.NewStdLog("http", false, log),
	}

	var cm *certman.CertMan
	if len(srv.cfg.TLSCert) > 0 {
		var err error
		cm, err = srv.certman()
		if err != nil {
			return err
		}
		defer cm.Stop()

		server.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: cm.GetCertificate,
		}
	}

	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "starting http server", "listen", srv.cfg.Listen, "tls", cm != nil)
		if cm != nil {
			errc <- server.ListenAndServeTLS("", "")
		} else {
			errc <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	log.InfoContext(shutdownCtx, "shutting down http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (srv *Server) certman() (*certman.CertMan, error) {
	if len(srv.cfg.TLSKey) == 0 {
		return nil, fmt.Errorf("tls-key is required with tls-cert")
	}
	cm, err := certman.New(srv.cfg.TLSCert, srv.cfg.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}
	cm.Logger(logger.NewStdLog("certman", false, srv.log))
	if err := cm.Watch(); err != nil {
		return nil, fmt.Errorf("watching certificate: %w", err)
	}
	return cm, nil
}
