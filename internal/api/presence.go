package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Presence monitor timing constants.
const (
	defaultProbeInterval = 15 * time.Second
	monitorMaxBackoff    = 60 * time.Second
)

// Monitor tracks connectivity to the sync service. It prefers a
// long-lived presence websocket (the server pings periodically); when
// the socket is unavailable it degrades to polling the health endpoint.
// Subscribers are notified on every online/offline transition.
//
// Monitor is also the collection point for passive observations: the
// sync layer reports request outcomes via SetOnline so that a failed
// push flips status without waiting for the next probe.
type Monitor struct {
	client *Client
	logger *slog.Logger

	mu     sync.Mutex
	online bool
	subs   []func(online bool)

	probeInterval time.Duration
	sleepFunc     func(ctx context.Context, d time.Duration) error
}

// NewMonitor creates a connectivity monitor for the client's service.
func NewMonitor(client *Client, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		client:        client,
		logger:        logger,
		probeInterval: defaultProbeInterval,
		sleepFunc:     timeSleep,
	}
}

// Online returns the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online
}

// Subscribe registers a listener for connectivity transitions.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs = append(m.subs, fn)
}

// SetOnline records a connectivity observation. Listeners fire only when
// the state actually changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()

	if m.online == online {
		m.mu.Unlock()

		return
	}

	m.online = online
	subs := append([]func(bool){}, m.subs...)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", slog.Bool("online", online))

	for _, fn := range subs {
		fn(online)
	}
}

// Run watches connectivity until ctx is canceled. It always returns nil
// on cancellation so it can run under an errgroup without aborting
// sibling goroutines.
func (m *Monitor) Run(ctx context.Context) error {
	var attempt int

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := m.watchSocket(ctx)
		if ctx.Err() != nil {
			return nil
		}

		m.logger.Debug("presence socket unavailable", slog.String("error", err.Error()))

		// Degraded mode: the socket is down but the service may not be.
		if probeErr := m.client.Healthz(ctx); probeErr == nil {
			m.SetOnline(true)

			attempt = 0

			if sleepErr := m.sleepFunc(ctx, m.probeInterval); sleepErr != nil {
				return nil
			}

			continue
		}

		m.SetOnline(false)

		backoff := m.client.calcBackoff(attempt)
		if backoff > monitorMaxBackoff {
			backoff = monitorMaxBackoff
		}

		if sleepErr := m.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil
		}

		if attempt < maxRetries {
			attempt++
		}
	}
}

// watchSocket dials the presence websocket and blocks reading server
// pings until the connection drops or ctx is canceled.
func (m *Monitor) watchSocket(ctx context.Context) error {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}

	if m.client.tokens != nil {
		tok, err := m.client.tokens.Token()
		if err == nil {
			opts.HTTPHeader.Set("Authorization", "Bearer "+tok.AccessToken)
		}
	}

	conn, _, err := websocket.Dial(ctx, presenceURL(m.client.baseURL), opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	m.SetOnline(true)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return err
		}
	}
}

// presenceURL converts the service base URL to its websocket endpoint.
func presenceURL(base string) string {
	url := base
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}

	return strings.TrimSuffix(url, "/") + "/ws"
}
