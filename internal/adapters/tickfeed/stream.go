// Package tickfeed streams option premium ticks over a websocket and
// reconnects automatically with exponential backoff.
package tickfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/ports"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// Stream implements ports.TickStream over a websocket feed.
type Stream struct {
	url    string
	logger ports.Logger
	dialer *websocket.Dialer
}

// NewStream creates a tick stream client for the given feed URL.
func NewStream(url string, logger ports.Logger) (*Stream, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: tick feed URL required", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger required", ports.ErrConfigurationError)
	}
	return &Stream{
		url:    url,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type tickMsg struct {
	Symbol    string  `json:"symbol"`
	LTP       float64 `json:"ltp"`
	Timestamp int64   `json:"ts"` // unix milliseconds
}

// Subscribe opens the feed, subscribes to the given symbols, and invokes
// onTick for each premium update. The connection is re-established with
// backoff on failure; done closes only when the context ends or stop is
// signalled.
func (s *Stream) Subscribe(ctx context.Context, symbols []string, onTick func(domain.Tick), onError func(error)) (<-chan struct{}, chan<- struct{}, error) {
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("%w: no symbols to subscribe", ports.ErrConfigurationError)
	}
	if onTick == nil {
		return nil, nil, fmt.Errorf("%w: onTick handler required", ports.ErrConfigurationError)
	}

	done := make(chan struct{})
	stop := make(chan struct{})

	go func() {
		defer close(done)

		bo := &backoff.Backoff{
			Min:    time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			default:
			}

			err := s.runConnection(ctx, symbols, onTick, stop)
			if err == nil {
				// Clean shutdown requested.
				return
			}
			if ctx.Err() != nil {
				return
			}

			if onError != nil {
				onError(err)
			}
			wait := bo.Duration()
			s.logger.Warn(ctx, "Tick feed disconnected, reconnecting", map[string]interface{}{
				"error":   err.Error(),
				"backoff": wait.String(),
				"attempt": int(bo.Attempt()),
			})

			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-time.After(wait):
			}
		}
	}()

	return done, stop, nil
}

// runConnection dials, subscribes, and pumps ticks until the connection
// breaks or shutdown is requested. A nil return means shutdown.
func (s *Stream) runConnection(ctx context.Context, symbols []string, onTick func(domain.Tick), stop <-chan struct{}) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Symbols: symbols}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Info(ctx, "Tick feed connected", map[string]interface{}{
		"url":     s.url,
		"symbols": len(symbols),
	})

	// Watcher closes the connection to unblock ReadMessage on shutdown.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
			conn.Close()
		case <-connDone:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-stop:
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}

		var msg tickMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn(ctx, "Dropping malformed tick", map[string]interface{}{"error": err.Error()})
			continue
		}
		if msg.Symbol == "" || msg.LTP <= 0 {
			continue
		}

		ts := time.UnixMilli(msg.Timestamp)
		if msg.Timestamp == 0 {
			ts = time.Now()
		}
		onTick(domain.Tick{Symbol: msg.Symbol, Price: msg.LTP, Timestamp: ts})
	}
}

// Compile-time interface check.
var _ ports.TickStream = (*Stream)(nil)
