package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"quiz-learner-client/internal/app"
	"quiz-learner-client/internal/config"
	"quiz-learner-client/internal/domain"
	"quiz-learner-client/internal/infra/memory"
	"quiz-learner-client/internal/infra/postgres"
	infraredis "quiz-learner-client/internal/infra/redis"
	"quiz-learner-client/internal/infra/sqlite"
	transporthttp "quiz-learner-client/internal/transport/http"
	natspush "quiz-learner-client/internal/transport/nats"
	"quiz-learner-client/internal/transport/ws"
)

const defaultSQLitePath = "quiz-progress.db"

// openStore builds the configured progress store. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config) (app.KeyValueStore, func(), error) {
	switch cfg.Store.Kind {
	case "", "memory":
		return memory.NewProgressStore(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Store.Redis.Addr, err)
		}
		ttl := config.Duration(cfg.Store.Redis.TTL, 24*time.Hour)
		return infraredis.NewProgressStore(client, ttl), func() { _ = client.Close() }, nil
	case "sqlite":
		path := cfg.Store.SQLite.Path
		if path == "" {
			path = defaultSQLitePath
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		if cfg.Store.Postgres.URL == "" {
			return nil, nil, fmt.Errorf("postgres url not configured")
		}
		store, err := postgres.Connect(ctx, cfg.Store.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

// openPush builds the configured push channel, or nil for poll-only play.
func openPush(cfg config.Config) (app.PushChannel, func(), error) {
	switch cfg.Push.Kind {
	case "", "none":
		return nil, func() {}, nil
	case "websocket", "ws":
		url := cfg.Push.URL
		if url == "" {
			url = cfg.API.BaseURL
		}
		return ws.New(url), func() {}, nil
	case "nats":
		prefix := cfg.Push.SubjectPrefix
		if prefix == "" {
			prefix = "quiz.sessions"
		}
		ch, err := natspush.Connect(cfg.Push.URL, prefix)
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown push kind %q", cfg.Push.Kind)
	}
}

func newAPIClient(cfg config.Config) *transporthttp.Client {
	return transporthttp.NewClient(cfg.API.BaseURL, config.Duration(cfg.API.Timeout, 30*time.Second))
}

func controllerConfig(cfg config.Config) app.ControllerConfig {
	out := app.DefaultControllerConfig()
	co := &out.Coordinator
	co.ConnectedPollInterval = config.Duration(cfg.Polling.ConnectedInterval, co.ConnectedPollInterval)
	co.DisconnectedPollInterval = config.Duration(cfg.Polling.DisconnectedInterval, co.DisconnectedPollInterval)
	co.ReconnectDelay = config.Duration(cfg.Push.ReconnectDelay, co.ReconnectDelay)
	co.RequestTimeout = config.Duration(cfg.API.Timeout, co.RequestTimeout)
	if cfg.Polling.FailureThreshold > 0 {
		co.FailureThreshold = cfg.Polling.FailureThreshold
	}

	out.SubmitTimeout = config.Duration(cfg.API.Timeout, out.SubmitTimeout)
	out.FeedbackTimeout = config.Duration(cfg.Feedback.Timeout, out.FeedbackTimeout)
	if cfg.Feedback.FallbackCorrect != "" {
		out.FallbackCorrect = cfg.Feedback.FallbackCorrect
	}
	if cfg.Feedback.FallbackIncorrect != "" {
		out.FallbackIncorrect = cfg.Feedback.FallbackIncorrect
	}
	out.AutoSubmitOnTimeout = cfg.Learner.AutoSubmitOnTimeout
	if conf := cfg.Learner.DefaultConfidence; conf != 0 {
		if !domain.ValidConfidence(conf) {
			clamped := max(domain.MinConfidence, min(conf, domain.MaxConfidence))
			log.Warn().Int("configured", conf).Int("using", clamped).Msg("learner.default_confidence out of range")
			conf = clamped
		}
		out.DefaultConfidence = conf
	}
	return out
}
