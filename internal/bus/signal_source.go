package bus

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	ws "github.com/stemsi/exot-sync/internal/websocket"
)

// SignalPath is where the authority serves its signal feed.
const SignalPath = "/ws/v1/sync/signals"

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second

	pingInterval = 30 * time.Second
)

// SignalSource follows the authority's websocket signal feed and reconnects
// with backoff whenever it drops.
type SignalSource struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewSignalSource derives the feed URL from the authority's base URL.
func NewSignalSource(authorityURL, token string, log zerolog.Logger) (*SignalSource, error) {
	u, err := url.Parse(strings.TrimRight(authorityURL, "/") + SignalPath)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	return &SignalSource{
		url:    u.String(),
		header: header,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With().Str("component", "signal_source").Logger(),
	}, nil
}

// Run delivers every signal to fn until ctx is cancelled.
func (s *SignalSource) Run(ctx context.Context, fn func(ws.SignalMessage)) {
	backoff := minBackoff
	for {
		connected := s.follow(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// keepAlive pings so the authority's read deadline never fires on an idle feed.
func (s *SignalSource) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteTyped(conn, ws.RequestEnvelope{Action: ws.ActionPing}); err != nil {
				return
			}
		}
	}
}

// follow returns whether a connection was established.
func (s *SignalSource) follow(ctx context.Context, fn func(ws.SignalMessage)) bool {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		s.log.Debug().Err(err).Msg("Signal feed unavailable")
		return false
	}
	defer conn.Close()

	s.log.Info().Str("url", s.url).Msg("Signal feed connected")

	// Unblock ReadJSON on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(conn, done)

	for {
		var msg ws.SignalMessage
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("Signal feed dropped")
			}
			return true
		}
		switch msg.Event {
		case ws.EventSynced:
			fn(msg)
		case ws.EventPong, ws.EventError:
		default:
			s.log.Debug().Str("event", string(msg.Event)).Msg("Ignoring unknown signal")
		}
	}
}
