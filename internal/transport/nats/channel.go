// Package nats is the NATS push channel. Session events are published on
// {prefix}.{session_id} using the same frame format as the WebSocket channel.
package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"quiz-learner-client/internal/domain"
	"quiz-learner-client/internal/transport/wire"
)

const (
	maxReconnects = -1
	reconnectWait = 2 * time.Second
)

type Channel struct {
	conn   *nats.Conn
	prefix string

	closeOnce sync.Once
	closed    chan struct{}
}

// Connect dials the server. Subscriptions end when the connection is closed for good.
func Connect(url, prefix string) (*Channel, error) {
	c := &Channel{prefix: prefix, closed: make(chan struct{})}
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.closeOnce.Do(func() { close(c.closed) })
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	c.conn = nc
	return c, nil
}

// New wraps an existing connection.
func New(conn *nats.Conn, prefix string) *Channel {
	return &Channel{conn: conn, prefix: prefix, closed: make(chan struct{})}
}

func (c *Channel) Subject(sessionID string) string {
	return c.prefix + "." + sessionID
}

// Subscribe listens on the session subject until ctx ends or the connection closes.
func (c *Channel) Subscribe(ctx context.Context, sessionID, _ string) (<-chan domain.SessionEvent, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := c.conn.ChanSubscribe(c.Subject(sessionID), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.Subject(sessionID), err)
	}

	out := make(chan domain.SessionEvent, 32)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && c.conn.IsConnected() {
				log.Debug().Err(err).Msg("NATS unsubscribe")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case msg := <-msgs:
				ev, ok := decodeMessage(msg)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close drains the connection.
func (c *Channel) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.closeOnce.Do(func() { close(c.closed) })
}

func decodeMessage(msg *nats.Msg) (domain.SessionEvent, bool) {
	if msg == nil {
		return domain.SessionEvent{}, false
	}
	ev, err := wire.Decode(msg.Data)
	if err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("skipping undecodable NATS message")
		return domain.SessionEvent{}, false
	}
	return ev, true
}
