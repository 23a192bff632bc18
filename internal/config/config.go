package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Location sources.
const (
	SourceNATS   = "nats"
	SourceMQTT   = "mqtt"
	SourceSerial = "serial"
	SourceReplay = "replay"
)

type Config struct {
	DeviceID       string
	LocationSource string
	HighAccuracy   bool
	FixTimeout     time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	PublishTelemetry  bool
	LogNATSSubjects   bool

	MQTTBroker   string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string

	SerialPort string
	SerialBaud int

	DatabaseURL string
	ReplayTrack string
	ReplaySpeed float64

	HTTPAddr       string
	AssetOrigin    string
	AssetCachePath string
	MetricsAddr    string

	LogLevel  string
	LogFormat string
	Location  *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	cfg.DeviceID = getenvDefault("DEVICE_ID", "default")

	cfg.LocationSource = strings.ToLower(getenvDefault("LOCATION_SOURCE", SourceNATS))
	switch cfg.LocationSource {
	case SourceNATS, SourceMQTT, SourceSerial, SourceReplay:
	default:
		return nil, fmt.Errorf("invalid LOCATION_SOURCE: %q", cfg.LocationSource)
	}

	if cfg.HighAccuracy, err = boolEnv("HIGH_ACCURACY", true); err != nil {
		return nil, err
	}

	// Fix timeout; 0 disables the watchdog
	if v := os.Getenv("FIX_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid FIX_TIMEOUT_MS: %q", v)
		}
		cfg.FixTimeout = time.Duration(ms) * time.Millisecond
	} else {
		cfg.FixTimeout = 15 * time.Second
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "bicimon")
	if cfg.PublishTelemetry, err = boolEnv("PUBLISH_TELEMETRY", true); err != nil {
		return nil, err
	}
	// Debug logging for NATS publish subjects
	if cfg.LogNATSSubjects, err = boolEnv("LOG_NATS_SUBJECTS", false); err != nil {
		return nil, err
	}

	cfg.MQTTBroker = getenvDefault("MQTT_BROKER", "tcp://127.0.0.1:1883")
	cfg.MQTTTopic = getenvDefault("MQTT_TOPIC", "owntracks/+/+")
	cfg.MQTTUsername = os.Getenv("MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")

	cfg.SerialPort = getenvDefault("SERIAL_PORT", "/dev/ttyACM0")
	if v := os.Getenv("SERIAL_BAUD"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("invalid SERIAL_BAUD: %q", v)
		}
		cfg.SerialBaud = baud
	} else {
		cfg.SerialBaud = 9600
	}

	// Replay database: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		db := os.Getenv("PGDATABASE")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	if cfg.LocationSource == SourceReplay && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or PGDATABASE must be set for LOCATION_SOURCE=replay")
	}
	cfg.ReplayTrack = os.Getenv("REPLAY_TRACK")
	if v := os.Getenv("REPLAY_SPEED"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid REPLAY_SPEED: %q", v)
		}
		cfg.ReplaySpeed = f
	} else {
		cfg.ReplaySpeed = 1.0
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.AssetOrigin = os.Getenv("ASSET_ORIGIN")
	cfg.AssetCachePath = getenvDefault("ASSET_CACHE_PATH", "assets.db")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "text")

	// Time zone for the displayed trip start
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func boolEnv(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %q", k, v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
