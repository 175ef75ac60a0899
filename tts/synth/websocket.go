package synth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/narrate/tts"
)

// WSClient streams synthesis events over a WebSocket and delegates the
// request/response calls to an HTTPClient.
type WSClient struct {
	*HTTPClient
	wsURL  string
	dialer websocket.Dialer
}

// NewWSClient creates a WebSocket client for cfg. cache may be nil.
func NewWSClient(cfg tts.ServiceConfig, cache Cache) (*WSClient, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/") + "/synthesize/ws")
	if err != nil {
		return nil, fmt.Errorf("invalid service url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported websocket scheme %q", tts.ErrInvalidConfig, u.Scheme)
	}
	return &WSClient{
		HTTPClient: NewHTTPClient(cfg, cache),
		wsURL:      u.String(),
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
		},
	}, nil
}

// Synthesize sends req as the first message and reads one event per
// message until done, fatal or cancellation.
func (c *WSClient) Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan Event, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, networkError(ctx, "dial synthesis websocket", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, networkError(ctx, "send synthesis request", err)
	}

	// Unblock ReadMessage when the caller cancels.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer stop()
		defer conn.Close() //nolint:errcheck

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					err = errors.New("stream ended before done")
				}
				send(ctx, events, FatalEvent{Err: tts.NewError(tts.ErrorCodeFatalStream, "synthesis stream interrupted", err)})
				return
			}

			ev, err := DecodeEvent(data)
			if err != nil {
				ev = FatalEvent{Err: err}
			}
			if !send(ctx, events, ev) {
				return
			}
			switch ev.(type) {
			case DoneEvent, FatalEvent:
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}()
	return events, nil
}

// New returns the client for the configured transport.
func New(cfg tts.ServiceConfig, cache Cache) (Service, error) {
	switch cfg.Transport {
	case "", "http":
		return NewHTTPClient(cfg, cache), nil
	case "websocket":
		return NewWSClient(cfg, cache)
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", tts.ErrInvalidConfig, cfg.Transport)
	}
}
