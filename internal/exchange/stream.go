package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arbwatch/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	readLimit        = 1 << 20
)

var errStreamClosed = errors.New("stream closed by server")

// stream is the exchange-specific half of a collector.
type stream interface {
	endpoint() string
	subscribe(conn *websocket.Conn) error
	// handle applies one message and reports whether it was understood.
	handle(msg []byte) bool
}

// streamRunner owns the connection lifecycle shared by all exchanges:
// status reporting, the receive loop and reconnection with backoff.
type streamRunner struct {
	name        string
	logger      *slog.Logger
	state       StateWriter
	metrics     *metrics.Metrics
	dialer      *websocket.Dialer
	backoff     *Backoff
	idleTimeout time.Duration
}

func newStreamRunner(name string, logger *slog.Logger, state StateWriter, opts Options) *streamRunner {
	return &streamRunner{
		name:    name,
		logger:  logger.With("exchange", name),
		state:   state,
		metrics: opts.Metrics,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		backoff:     NewBackoff(opts.MinBackoff, opts.MaxBackoff),
		idleTimeout: opts.IdleTimeout,
	}
}

func (r *streamRunner) run(ctx context.Context, s stream) error {
	defer func() {
		r.state.SetStatus(r.name, false, "stopped")
		r.metrics.SetConnected(r.name, false)
	}()

	for {
		if ctx.Err() != nil {
			r.logger.Info("context cancelled, shutting down")
			return nil
		}

		err := r.session(ctx, s)
		if ctx.Err() != nil {
			r.logger.Info("context cancelled, connection closed")
			return nil
		}
		if err == nil {
			err = errStreamClosed
		}

		delay := r.backoff.Next()
		r.logger.Warn("WebSocket connection failed", "error", err, "backoff", delay)
		r.state.SetStatus(r.name, false, err.Error())
		r.metrics.SetConnected(r.name, false)
		r.metrics.Reconnect(r.name)

		select {
		case <-ctx.Done():
			r.logger.Info("context cancelled during backoff")
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (r *streamRunner) session(ctx context.Context, s stream) error {
	r.state.SetStatus(r.name, false, "connecting")

	url := s.endpoint()
	r.logger.Info("connecting to WebSocket", "url", url)
	conn, resp, err := r.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Closing the connection unblocks ReadMessage when the run is stopped.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadLimit(readLimit)
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(r.idleTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	r.state.SetStatus(r.name, true, "connected")
	r.metrics.SetConnected(r.name, true)
	r.backoff.Reset()
	r.logger.Info("connected successfully")

	for {
		if err := conn.SetReadDeadline(time.Now().Add(r.idleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		r.metrics.MessageReceived(r.name)
		if !s.handle(msg) {
			r.metrics.MessageDropped(r.name)
		}
	}
}

// parseNumber parses the decimal strings exchanges use for prices and volumes.
func parseNumber(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative value %s", s)
	}
	return d.InexactFloat64(), nil
}
