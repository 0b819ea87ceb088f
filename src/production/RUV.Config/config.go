package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds all exporter configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Gauge registry configuration
	Gauges GaugesConfig `json:"gauges"`

	// MQTT configuration
	MQTT MQTTConfig `json:"mqtt"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Capacity of the channel between the MQTT callback and the pipeline
	EventBuffer int `json:"event_buffer"`
}

// ServerConfig holds scrape server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// GaugesConfig holds staleness tracking configuration
type GaugesConfig struct {
	StaleTimeout time.Duration `json:"stale_timeout"`
	SweepPeriod  time.Duration `json:"sweep_period"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"broker_pass"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	Topic       string        `json:"topic"`
	ClientID    string        `json:"client_id"`
	SharedGroup string        `json:"shared_group"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// Load loads configuration from environment variables, optionally seeded
// from the given .env files. Missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load(envFiles...)

	env := &envReader{}
	config := &Config{
		Server: ServerConfig{
			Port:         env.getEnv("METRICS_PORT", "8000"),
			ReadTimeout:  env.getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: env.getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  env.getDuration("IDLE_TIMEOUT", 60*time.Second),
		},
		Gauges: GaugesConfig{
			StaleTimeout: env.getDuration("STALE_TIMEOUT", 10*time.Second),
			SweepPeriod:  env.getDuration("SWEEP_PERIOD", 1*time.Second),
		},
		MQTT: MQTTConfig{
			BrokerHost:  env.getEnv("BROKER_HOST", "localhost"),
			BrokerPort:  env.getInt("BROKER_PORT", 1883),
			BrokerUser:  env.getEnv("BROKER_USER", ""),
			BrokerPass:  env.getEnv("BROKER_PASS", ""),
			UseTLS:      env.getBool("BROKER_TLS", false),
			CACertPath:  env.getEnv("BROKER_CA_FILE", ""),
			Topic:       env.getEnv("MQTT_TOPIC", "ruuvi/#"),
			ClientID:    env.getEnv("MQTT_CLIENT_ID", defaultClientID()),
			SharedGroup: env.getEnv("MQTT_SHARED_GROUP", ""),
			KeepAlive:   env.getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout: env.getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:        env.getEnv("LOG_LEVEL", "info"),
			Format:       env.getEnv("LOG_FORMAT", "text"),
			Output:       env.getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: env.getBool("LOG_ENABLE_CALLER", false),
		},
		EventBuffer: env.getInt("EVENT_BUFFER", 1024),
	}

	if err := env.err(); err != nil {
		return nil, errors.Wrap(err, "failed to parse environment")
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("METRICS_PORT is required")
	}
	if c.Gauges.StaleTimeout <= 0 {
		return errors.Newf("STALE_TIMEOUT must be positive, got %s", c.Gauges.StaleTimeout)
	}
	if c.Gauges.SweepPeriod <= 0 {
		return errors.Newf("SWEEP_PERIOD must be positive, got %s", c.Gauges.SweepPeriod)
	}
	if c.Gauges.SweepPeriod > c.Gauges.StaleTimeout {
		return errors.Newf("SWEEP_PERIOD (%s) must not exceed STALE_TIMEOUT (%s)", c.Gauges.SweepPeriod, c.Gauges.StaleTimeout)
	}
	if c.MQTT.BrokerHost == "" {
		return errors.New("BROKER_HOST is required")
	}
	if c.MQTT.Topic == "" {
		return errors.New("MQTT_TOPIC is required")
	}
	if c.EventBuffer <= 0 {
		return errors.Newf("EVENT_BUFFER must be positive, got %d", c.EventBuffer)
	}
	return nil
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}

// envReader parses environment variables with fallback defaults. Parse
// failures are collected so Load can report all of them at once.
type envReader struct {
	problems []string
}

func (r *envReader) err() error {
	if len(r.problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(r.problems, "; "))
}

func (r *envReader) getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("invalid %s: %v", key, err))
		return defaultValue
	}
	return intValue
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("invalid %s: %q (expected true/false or 1/0)", key, value))
		return defaultValue
	}
	return parsed
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("invalid %s: %v", key, err))
		return defaultValue
	}
	return duration
}

func defaultClientID() string {
	return "ruuvi-exporter-" + uuid.NewString()[:8]
}
