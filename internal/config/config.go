package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures the tunables shared by both client binaries.
// Values are primarily loaded from environment variables with sane defaults
// so a binary can run locally without excessive setup.
type ClientConfig struct {
	BackendURL  string
	SocketURL   string
	BearerToken string

	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	KickRetryDelay    time.Duration

	GeoTimeout time.Duration

	MaxMediaMB int64

	DiagAddr string
	LogLevel string
}

// MaxMediaBytes converts the media cap to bytes.
func (c ClientConfig) MaxMediaBytes() int64 {
	return c.MaxMediaMB << 20
}

// DriverConfig extends ClientConfig with driver-side dispatch tunables.
type DriverConfig struct {
	ClientConfig

	SampleInterval  time.Duration
	CandidateRadius float64 // km, inclusive
	ArrivalRadius   float64 // km, inclusive
}

// RiderConfig extends ClientConfig with rider-side tunables.
type RiderConfig struct {
	ClientConfig

	ETASpeedKmh float64
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		BackendURL:        "http://localhost:8000",
		SocketURL:         "ws://localhost:8000/ws",
		RequestTimeout:    10 * time.Second,
		RetryAttempts:     3,
		RetryBaseDelay:    time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 5 * time.Second,
		KickRetryDelay:    time.Second,
		GeoTimeout:        10 * time.Second,
		MaxMediaMB:        5,
		DiagAddr:          ":2112",
		LogLevel:          "info",
	}
}

// LoadDriverConfig reads the driver client configuration from the
// environment.
func LoadDriverConfig() (DriverConfig, error) {
	cfg := DriverConfig{
		ClientConfig:    defaultClientConfig(),
		SampleInterval:  15 * time.Second,
		CandidateRadius: 5.0,
		ArrivalRadius:   0.1,
	}
	var errs []error

	loadClientEnv(&cfg.ClientConfig, &errs)
	setDurationFromEnv(&cfg.SampleInterval, "LOCATION_SAMPLE_INTERVAL", &errs)
	setFloatFromEnv(&cfg.CandidateRadius, "CANDIDATE_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.ArrivalRadius, "ARRIVAL_RADIUS_KM", &errs)

	if cfg.CandidateRadius <= 0 {
		errs = append(errs, fmt.Errorf("CANDIDATE_RADIUS_KM must be > 0"))
	}
	if cfg.ArrivalRadius <= 0 {
		errs = append(errs, fmt.Errorf("ARRIVAL_RADIUS_KM must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// LoadRiderConfig reads the rider client configuration from the
// environment.
func LoadRiderConfig() (RiderConfig, error) {
	cfg := RiderConfig{
		ClientConfig: defaultClientConfig(),
		ETASpeedKmh:  30,
	}
	var errs []error

	loadClientEnv(&cfg.ClientConfig, &errs)
	setFloatFromEnv(&cfg.ETASpeedKmh, "ETA_SPEED_KMH", &errs)

	if cfg.ETASpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("ETA_SPEED_KMH must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func loadClientEnv(cfg *ClientConfig, errs *[]error) {
	setStringFromEnv(&cfg.BackendURL, "BACKEND_URL")
	setStringFromEnv(&cfg.SocketURL, "SOCKET_URL")
	cfg.BearerToken = strings.TrimSpace(os.Getenv("BEARER_TOKEN"))

	setDurationFromEnv(&cfg.RequestTimeout, "REQUEST_TIMEOUT", errs)
	setIntFromEnv(&cfg.RetryAttempts, "RETRY_ATTEMPTS", errs)
	setDurationFromEnv(&cfg.RetryBaseDelay, "RETRY_BASE_DELAY", errs)

	setIntFromEnv(&cfg.ReconnectAttempts, "RECONNECT_ATTEMPTS", errs)
	setDurationFromEnv(&cfg.ReconnectDelay, "RECONNECT_DELAY", errs)
	setDurationFromEnv(&cfg.ReconnectMaxDelay, "RECONNECT_MAX_DELAY", errs)
	setDurationFromEnv(&cfg.KickRetryDelay, "KICK_RETRY_DELAY", errs)

	setDurationFromEnv(&cfg.GeoTimeout, "GEO_TIMEOUT", errs)
	setInt64FromEnv(&cfg.MaxMediaMB, "MAX_MEDIA_MB", errs)

	setStringFromEnv(&cfg.DiagAddr, "DIAG_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.RetryAttempts <= 0 {
		*errs = append(*errs, fmt.Errorf("RETRY_ATTEMPTS must be > 0"))
	}
	if cfg.ReconnectAttempts <= 0 {
		*errs = append(*errs, fmt.Errorf("RECONNECT_ATTEMPTS must be > 0"))
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}
