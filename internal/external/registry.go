package external

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"courier/internal/config"
)

// NewBotTransport builds the bot transport for the environment. APP_ENV=local
// gets a StubBotTransport; everything else gets a paced, breaker-guarded
// BotConnectorClient.
func NewBotTransport(cfg *config.Config, logger *slog.Logger) BotTransport {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Environment == "local" {
		logger.Info("initializing bot transport in STUB mode", "environment", cfg.Environment)
		return NewStubBotTransport(logger.With("mode", "stub"))
	}

	logger.Info("initializing bot transport",
		"environment", cfg.Environment,
		"requests_per_second", cfg.Bot.RequestsPerSecond,
		"burst", cfg.Bot.Burst,
	)
	base := NewBaseClient(
		&http.Client{Timeout: cfg.Bot.Timeout},
		"bot-connector",
		cfg.Bot.UserAgent,
		WithLimiter(rate.NewLimiter(rate.Limit(cfg.Bot.RequestsPerSecond), cfg.Bot.Burst)),
	)
	return NewBotConnectorClient(base, cfg.Bot.AppID, cfg.Bot.AccessToken)
}
