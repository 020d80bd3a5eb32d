package relaycmder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/relay"
)

const relayLongDesc string = `Run the chat relay server.

Accepts chat messages on POST /api/chat, forwards them to the gateway's
/api/chat endpoint and returns its reply. When the gateway is unreachable,
slow, or answers without a reply, a fallback reply is returned instead.

Settings are resolved from flags, then environment variables (PORT,
GATEWAY_URL, GATEWAY_TIMEOUT, LOG_LEVEL, RELAY_CONFIG), then an optional
TOML config file, then built-in defaults. A .env file is read if present.

Examples:
  chatrelay
  chatrelay --port 8080 --gateway http://127.0.0.1:18789
  chatrelay --config /etc/chatrelay.toml --debug`

const relayShortDesc string = "Relay chat messages to the gateway"

type relayCommander struct {
	configPath string
	envFile    string
	port       int
	gatewayURL string
	timeout    time.Duration
	debug      bool

	getenv func(string) string
}

func NewRelayCmd() *cobra.Command {
	_, cmd := newRelayCmd(os.Getenv)
	return cmd
}

func newRelayCmd(getenv func(string) string) (*relayCommander, *cobra.Command) {
	cmder := &relayCommander{getenv: getenv}

	cmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         relayShortDesc,
		Long:          relayLongDesc,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVar(&cmder.envFile, "env-file", ".env", "Path to dotenv file (ignored if missing)")
	cmd.Flags().IntVarP(&cmder.port, "port", "p", relay.DefaultPort, "Port to listen on")
	cmd.Flags().StringVarP(&cmder.gatewayURL, "gateway", "g", relay.DefaultGatewayURL, "Gateway base URL")
	cmd.Flags().DurationVar(&cmder.timeout, "timeout", relay.DefaultGatewayTimeout, "Maximum wait for a gateway reply")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmder, cmd
}

func (c *relayCommander) run(ctx context.Context, cmd *cobra.Command) error {
	config, err := c.resolveConfig(cmd)
	if err != nil {
		return err
	}

	level, _ := logger.ParseLevel(config.LogLevel)
	if c.debug {
		level = zapcore.DebugLevel
	}
	log := logger.NewLogger(level)
	defer log.Sync()

	r, err := relay.New(config, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("relay server failed", zap.Error(err))
			return fmt.Errorf("relay server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down chat relay", zap.Duration("grace", config.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := r.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not shut down relay: %w", err)
	}

	return <-errCh
}

// resolveConfig layers defaults, config file, environment (process first,
// then dotenv file) and explicitly set flags, then validates the result.
func (c *relayCommander) resolveConfig(cmd *cobra.Command) (relay.Config, error) {
	dotenv, err := godotenv.Read(c.envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return relay.Config{}, fmt.Errorf("could not read env file %s: %w", c.envFile, err)
	}
	lookup := func(key string) string {
		if v := c.getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	config := relay.DefaultConfig()

	configPath := c.configPath
	if configPath == "" {
		configPath = lookup(relay.EnvConfigFile)
	}
	if configPath != "" {
		if err := config.ApplyFile(configPath); err != nil {
			return relay.Config{}, err
		}
	}

	if err := config.ApplyEnv(lookup); err != nil {
		return relay.Config{}, fmt.Errorf("invalid environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		config.Port = c.port
	}
	if flags.Changed("gateway") {
		config.GatewayURL = c.gatewayURL
	}
	if flags.Changed("timeout") {
		config.GatewayTimeout = c.timeout
	}
	if c.debug {
		config.LogLevel = "debug"
	}

	if err := config.Validate(); err != nil {
		return relay.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
