// Package ws is the WebSocket push channel.
package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"quiz-learner-client/internal/domain"
	"quiz-learner-client/internal/transport/wire"
)

// Channel subscribes to {baseURL}/sessions/{id}/ws and turns frames into SessionEvents.
type Channel struct {
	baseURL string
	dialer  *websocket.Dialer
}

func New(baseURL string) *Channel {
	return &Channel{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// URL builds the subscription address, switching http(s) schemes to ws(s).
func (c *Channel) URL(sessionID, participantID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sessions/" + sessionID + "/ws"
	q := u.Query()
	q.Set("participant_id", participantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the socket. The returned channel closes when the connection drops or ctx ends.
func (c *Channel) Subscribe(ctx context.Context, sessionID, participantID string) (<-chan domain.SessionEvent, error) {
	target, err := c.URL(sessionID, participantID)
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	out := make(chan domain.SessionEvent, 32)
	readerDone := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-readerDone:
		}
	}()

	go func() {
		defer close(out)
		defer close(readerDone)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Str("session_id", sessionID).Msg("ws read ended")
				}
				return
			}
			ev, err := wire.Decode(data)
			if err != nil {
				log.Warn().Err(err).Msg("skipping undecodable push frame")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
