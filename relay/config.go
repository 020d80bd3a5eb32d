package relay

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/papercomputeco/chatrelay/pkg/logger"
)

const (
	DefaultPort            = 3004
	DefaultGatewayURL      = "http://101.47.159.98:18789"
	DefaultGatewayTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 35 * time.Second
	DefaultLogLevel        = "info"
)

// Environment variables read by ApplyEnv.
const (
	EnvPort           = "PORT"
	EnvGatewayURL     = "GATEWAY_URL"
	EnvGatewayTimeout = "GATEWAY_TIMEOUT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvConfigFile     = "RELAY_CONFIG"
)

// Config is the relay server configuration. It is resolved once at startup
// and never mutated afterwards.
type Config struct {
	// Port to listen on, on all interfaces.
	Port int

	// GatewayURL is the upstream base URL; messages go to GatewayURL + "/api/chat".
	GatewayURL string

	// GatewayTimeout bounds a single upstream call.
	GatewayTimeout time.Duration

	// ShutdownTimeout bounds how long in-flight relays may run after a stop signal.
	ShutdownTimeout time.Duration

	LogLevel string

	Fallback Fallback
}

// Fallback holds the canned replies used when the upstream cannot answer.
type Fallback struct {
	// NoInput is returned when the request carries no message.
	NoInput string `toml:"no_input"`

	// Received is returned when the upstream answered without a usable reply.
	Received string `toml:"received"`

	// Unavailable is returned when the upstream failed or timed out.
	Unavailable string `toml:"unavailable"`
}

// DefaultFallback returns the stock fallback replies.
func DefaultFallback() Fallback {
	return Fallback{
		NoInput:     "本小姐没听清楚呢...",
		Received:    "本小姐收到啦～",
		Unavailable: "本小姐现在有点困，等会儿再聊吧～",
	}
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Port:            DefaultPort,
		GatewayURL:      DefaultGatewayURL,
		GatewayTimeout:  DefaultGatewayTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
		Fallback:        DefaultFallback(),
	}
}

// ListenAddr returns the address handed to the listener, e.g. ":3004".
func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// fileConfig mirrors the TOML file layout. Zero values mean "not set".
type fileConfig struct {
	Port            int      `toml:"port"`
	GatewayURL      string   `toml:"gateway_url"`
	GatewayTimeout  string   `toml:"gateway_timeout"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	LogLevel        string   `toml:"log_level"`
	Fallback        Fallback `toml:"fallback"`
}

// ApplyFile overlays settings from the TOML file at path.
func (c *Config) ApplyFile(path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}

	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.GatewayURL != "" {
		c.GatewayURL = fc.GatewayURL
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.GatewayTimeout != "" {
		d, err := time.ParseDuration(fc.GatewayTimeout)
		if err != nil {
			return fmt.Errorf("gateway_timeout: %w", err)
		}
		c.GatewayTimeout = d
	}
	if fc.ShutdownTimeout != "" {
		d, err := time.ParseDuration(fc.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("shutdown_timeout: %w", err)
		}
		c.ShutdownTimeout = d
	}
	if fc.Fallback.NoInput != "" {
		c.Fallback.NoInput = fc.Fallback.NoInput
	}
	if fc.Fallback.Received != "" {
		c.Fallback.Received = fc.Fallback.Received
	}
	if fc.Fallback.Unavailable != "" {
		c.Fallback.Unavailable = fc.Fallback.Unavailable
	}

	return nil
}

// ApplyEnv overlays settings from environment variables looked up with getenv.
// Empty variables are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var result error

	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: invalid port %q", EnvPort, v))
		} else {
			c.Port = port
		}
	}
	if v := getenv(EnvGatewayURL); v != "" {
		c.GatewayURL = v
	}
	if v := getenv(EnvGatewayTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", EnvGatewayTimeout, err))
		} else {
			c.GatewayTimeout = d
		}
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}

	return result
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var result error

	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}

	if err := validateGatewayURL(c.GatewayURL); err != nil {
		result = multierror.Append(result, err)
	}

	if c.GatewayTimeout <= 0 {
		result = multierror.Append(result, errors.New("gateway_timeout must be greater than 0"))
	}
	if c.ShutdownTimeout <= 0 {
		result = multierror.Append(result, errors.New("shutdown_timeout must be greater than 0"))
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}

	if c.Fallback.NoInput == "" {
		result = multierror.Append(result, errors.New("fallback.no_input must not be empty"))
	}
	if c.Fallback.Received == "" {
		result = multierror.Append(result, errors.New("fallback.received must not be empty"))
	}
	if c.Fallback.Unavailable == "" {
		result = multierror.Append(result, errors.New("fallback.unavailable must not be empty"))
	}

	return result
}

func validateGatewayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("gateway_url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway_url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("gateway_url %q has no host", raw)
	}
	return nil
}
