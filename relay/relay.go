// Package relay provides an HTTP chat relay that forwards messages to a single
// upstream gateway and always answers its callers with a reply.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/gateway"
)

// Relay is a stateless chat relay. Each inbound request is handled on its own
// and results in at most one call to the gateway.
type Relay struct {
	config  Config
	logger  *zap.Logger
	gateway *gateway.Client
	server  *fiber.App
}

// New creates a new Relay from a validated copy of config.
func New(config Config, logger *zap.Logger) (*Relay, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "chatrelay",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	r := &Relay{
		config:  config,
		logger:  logger,
		gateway: gateway.New(config.GatewayURL, config.GatewayTimeout),
		server:  app,
	}

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
	}))

	app.Post("/api/chat", r.handleChat)
	app.Get("/health", r.handleHealth)

	return r, nil
}

// App exposes the underlying fiber application, mainly for app.Test.
func (r *Relay) App() *fiber.App {
	return r.server
}

// Run starts the relay on the configured port and blocks until it stops.
func (r *Relay) Run() error {
	r.logger.Info("chat relay listening",
		zap.String("listen", r.config.ListenAddr()),
		zap.String("gateway", r.gateway.URL()),
		zap.Duration("gateway_timeout", r.config.GatewayTimeout),
	)
	return r.server.Listen(r.config.ListenAddr())
}

// Shutdown stops accepting connections and waits for in-flight relays
// until ctx is done.
func (r *Relay) Shutdown(ctx context.Context) error {
	return r.server.ShutdownWithContext(ctx)
}

// handleChat relays one message to the gateway. It always answers 200 with a
// reply: the gateway's own, or one of the configured fallbacks.
func (r *Relay) handleChat(c *fiber.Ctx) error {
	log := r.logger.With(zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)))

	var req chat.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		log.Debug("unparseable chat request", zap.Error(err))
		return c.JSON(chat.Response{Reply: r.config.Fallback.NoInput})
	}

	message := req.Text()
	if message == "" {
		log.Debug("chat request without message")
		return c.JSON(chat.Response{Reply: r.config.Fallback.NoInput})
	}

	log.Debug("relaying chat message",
		zap.String("message_preview", truncate(message, 50)),
	)

	result := r.gateway.Send(c.UserContext(), message)
	return c.JSON(chat.Response{Reply: r.replyFor(log, result)})
}

// replyFor maps a gateway result onto the reply sent back to the caller.
func (r *Relay) replyFor(log *zap.Logger, result gateway.Result) string {
	switch result.Outcome {
	case gateway.OutcomeReply:
		log.Debug("gateway replied",
			zap.Duration("duration", result.Duration),
			zap.String("reply_preview", truncate(result.Reply, 50)),
		)
		return result.Reply
	case gateway.OutcomeMalformed:
		log.Warn("gateway reply unusable",
			zap.Stringer("outcome", result.Outcome),
			zap.Int("status", result.Status),
			zap.Duration("duration", result.Duration),
			zap.Error(result.Err),
		)
		return r.config.Fallback.Received
	default:
		log.Error("gateway error",
			zap.Stringer("outcome", result.Outcome),
			zap.Int("status", result.Status),
			zap.Duration("duration", result.Duration),
			zap.Bool("timeout", isTimeout(result.Err)),
			zap.Error(result.Err),
		)
		return r.config.Fallback.Unavailable
	}
}

// handleHealth reports liveness. It never consults the gateway.
func (r *Relay) handleHealth(c *fiber.Ctx) error {
	return c.JSON(chat.HealthResponse{Status: "ok"})
}

// errorHandler renders routing and framework errors (unknown paths, oversized
// bodies, recovered panics) as JSON.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(chat.ErrorResponse{Error: err.Error()})
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
