package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ridelink/internal/auth"
	"github.com/example/ridelink/internal/backend"
	"github.com/example/ridelink/internal/config"
	"github.com/example/ridelink/internal/diag"
	"github.com/example/ridelink/internal/logging"
	"github.com/example/ridelink/internal/riderclient"
	"github.com/example/ridelink/internal/transport"
)

func main() {
	cfg, err := config.LoadRiderConfig()
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

	client := riderclient.New(cred.UserID(), cfg, api, session,
		logging.ForComponent(log, "rider"),
		riderclient.WithOnAuthExpired(stop))
	client.Start()
	defer client.Close()

	transport.WithOnConnect(client.OnSessionConnect)(session)

	if err := session.Connect(ctx); err != nil {
		log.Error("transport connect failed", "error", err)
		os.Exit(1)
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

	log.Info("rider client running", "rider_id", cred.UserID())
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = diagSrv.Shutdown(shutdownCtx)
}
