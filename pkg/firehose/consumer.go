package firehose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agile-enigma/bsky-multitool/pkg/logging"
)

// DefaultRelayURL is the public relay's repo event stream.
const DefaultRelayURL = "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos"

// State is the consumer lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrStop is returned by a commit handler to request a clean shutdown of
// the subscription. It is not reported as an error by Start.
var ErrStop = errors.New("stop requested")

// CommitHandler processes one decoded commit frame. Returning ErrStop
// stops the subscription cleanly; any other error aborts it.
type CommitHandler func(commit *RepoCommit) error

// Config represents configuration for the stream consumer.
type Config struct {
	URL         string
	Logger      logging.Logger
	DialTimeout time.Duration

	// OnDropped is an optional hook invoked when a frame is discarded,
	// with a short reason label. Used for metrics.
	OnDropped func(reason string)
}

// Consumer subscribes to the binary repo event feed and feeds decoded
// commits to a handler, one frame at a time on the caller's goroutine.
type Consumer struct {
	url       string
	logger    logging.Logger
	dialTO    time.Duration
	onDropped func(reason string)

	state atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConsumer creates a new stream consumer.
func NewConsumer(cfg Config) *Consumer {
	if cfg.URL == "" {
		cfg.URL = DefaultRelayURL
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &Consumer{
		url:       cfg.URL,
		logger:    cfg.Logger,
		dialTO:    cfg.DialTimeout,
		onDropped: cfg.OnDropped,
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Stop requests a shutdown. It is idempotent and safe to call from
// within the handler callback: the websocket close unblocks the read
// loop without deadlocking.
func (c *Consumer) Stop() {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	c.logger.Info("Stream consumer stopping")
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

// Start subscribes to the feed and blocks, decoding frames and invoking
// the handler per commit until Stop is called, ctx is cancelled, or the
// handler errors. Malformed frames are dropped, not fatal. On every exit
// path the consumer ends in StateStopped.
func (c *Consumer) Start(ctx context.Context, handler CommitHandler) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("consumer already started (state %s)", c.State())
	}
	defer c.state.Store(int32(StateStopped))

	dialer := websocket.Dialer{HandshakeTimeout: c.dialTO}
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("subscribe to event feed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("subscribe to event feed: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() { _ = conn.Close() }()

	c.logger.WithField("url", c.url).Info("Subscribed to event feed")

	// Propagate operator cancellation into the read loop.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-readDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.State() == StateStopping || ctx.Err() != nil {
				c.logger.Info("Stream consumer stopped")
				return nil
			}
			return fmt.Errorf("read event feed: %w", err)
		}

		commit, err := DecodeFrame(data)
		if err != nil {
			if errors.Is(err, ErrNotCommit) {
				continue
			}
			c.logger.WithError(err).Debug("Dropping undecodable frame")
			c.dropped("decode")
			continue
		}

		// Frames already buffered by the reader can surface after Stop;
		// they must not reach the handler.
		if c.State() == StateStopping {
			c.logger.Info("Stream consumer stopped")
			return nil
		}

		if err := handler(commit); err != nil {
			c.Stop()
			if errors.Is(err, ErrStop) {
				c.logger.Info("Stream consumer stopped")
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) dropped(reason string) {
	if c.onDropped != nil {
		c.onDropped(reason)
	}
}
