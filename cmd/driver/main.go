package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/example/ridelink/internal/auth"
	"github.com/example/ridelink/internal/backend"
	"github.com/example/ridelink/internal/config"
	"github.com/example/ridelink/internal/diag"
	"github.com/example/ridelink/internal/driverclient"
	"github.com/example/ridelink/internal/geoloc"
	"github.com/example/ridelink/internal/logging"
	"github.com/example/ridelink/internal/models"
	"github.com/example/ridelink/internal/transport"
)

func main() {
	cfg, err := config.LoadDriverConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	cred, err := auth.New(cfg.BearerToken)
	if err != nil {
		log.Error("credential rejected", "error", err)
		os.Exit(1)
	}
	if cred.Expired(time.Now()) {
		log.Error("credential expired, re-authenticate before starting")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := backend.NewClient(cfg.BackendURL, cred, logging.ForComponent(log, "backend"),
		backend.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		backend.WithRetryPolicy(backend.RetryPolicy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}),
		backend.WithAuthExpired(stop))

	session := transport.NewSession(cfg.SocketURL, cred, transport.ReconnectPolicy{
		Attempts:       cfg.ReconnectAttempts,
		Delay:          cfg.ReconnectDelay,
		MaxDelay:       cfg.ReconnectMaxDelay,
		KickRetryDelay: cfg.KickRetryDelay,
	}, logging.ForComponent(log, "transport"))

	source := geoloc.NewTimed(staticSource(), cfg.GeoTimeout)

	client := driverclient.New(cred.UserID(), os.Getenv("DRIVER_NAME"), cfg, api, session, source,
		logging.ForComponent(log, "driver"),
		driverclient.WithOnAuthExpired(stop))
	client.Start()
	defer client.Close()

	transport.WithOnConnect(client.OnSessionConnect)(session)

	if err := session.Connect(ctx); err != nil {
		log.Error("transport connect failed", "error", err)
		os.Exit(1)
	}

	if err := client.Refresh(ctx); err != nil {
		log.Warn("initial state refresh failed", "error", err)
	}
	if os.Getenv("START_ONLINE") == "true" {
		if err := client.GoOnline(ctx); err != nil {
			log.Warn("could not go online at startup", "error", err)
		}
	}

	diagSrv := &http.Server{
		Addr: cfg.DiagAddr,
		Handler: diag.NewServer(logging.ForComponent(log, "diag"),
			session.Status,
			func() any { return client.Snapshot() }).Handler(),
	}
	go func() {
		log.Info("diagnostics listening", "addr", cfg.DiagAddr)
		if err := diagSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("diagnostics server failed", "error", err)
		}
	}()

	log.Info("driver client running", "driver_id", cred.UserID())
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = diagSrv.Shutdown(shutdownCtx)
}

// staticSource builds the position feed for this process. Real device
// integration replaces this; a fixed point keeps local runs deterministic.
func staticSource() geoloc.Source {
	lat := envFloat("DRIVER_LAT", 12.9716)
	lng := envFloat("DRIVER_LNG", 77.5946)
	return geoloc.Static{Loc: models.Location{LatLng: models.LatLng{Lat: lat, Lng: lng}}}
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
