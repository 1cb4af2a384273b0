package ingest

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// State is a subscriber's position in the connection state machine
// named in spec.md §4.2: Disconnected -> Connecting ->
// (Authenticating, Source B only) -> Subscribed -> Failed, with
// capped exponential backoff between Connecting attempts.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateAuthenticating State = "authenticating"
	StateSubscribed    State = "subscribed"
	StateFailed        State = "failed"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
)

// conn wraps a paho client plus the explicit state machine both
// subscribers share. Source A starts a connection attempt directly in
// StateConnecting; Source B passes through StateAuthenticating first
// (see sourceb.go) to fetch a bearer token before the MQTT handshake.
type conn struct {
	mu    sync.Mutex
	state State

	client mqtt.Client
	logger *zap.Logger

	backoff time.Duration
}

func newConn(logger *zap.Logger) *conn {
	return &conn{
		state:   StateDisconnected,
		logger:  logger,
		backoff: backoffInitial,
	}
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != s {
		c.logger.Debug("connection state transition", zap.String("from", string(c.state)), zap.String("to", string(s)))
	}
	c.state = s
}

func (c *conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// resetBackoff is called once a connection reaches StateSubscribed.
func (c *conn) resetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoff = backoffInitial
}

// nextBackoff doubles the wait, capped at backoffMax, and returns the
// duration to sleep before the next Connecting attempt.
func (c *conn) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.backoff
	c.backoff *= 2
	if c.backoff > backoffMax {
		c.backoff = backoffMax
	}
	return d
}

// runWithBackoff repeatedly calls connect until it succeeds and stays
// up, or ctx is cancelled. connect is expected to block until the
// connection drops (typically via client.Connect().Wait() followed by
// blocking on an onConnectionLost channel) and return the error that
// ended it.
func (c *conn) runWithBackoff(ctx context.Context, connect func(ctx context.Context) error) {
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateConnecting)
		err := connect(ctx)
		if err == nil {
			// connect returned without error only when ctx was cancelled
			// mid-session; treat as a clean stop.
			c.setState(StateDisconnected)
			return
		}

		c.logger.Warn("subscriber connection attempt failed", zap.Error(err))
		c.setState(StateFailed)

		wait := c.nextBackoff()
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(wait):
		}
	}
}
