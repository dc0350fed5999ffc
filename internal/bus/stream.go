package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Envelope is one bus message: an opaque payload plus the bus-level metadata
// the consumer needs to commit its position.
type Envelope struct {
	Topic   string          `json:"topic"`
	Offset  int64           `json:"offset"`
	Payload json.RawMessage `json:"payload"`
}

type subscribeRequest struct {
	Type         string   `json:"type"`
	Topics       []string `json:"topics"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
}

type commitRequest struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Offset int64  `json:"offset"`
}

// Client is a thin connection wrapper over the notice broker's websocket
// endpoint. The broker redelivers every message after the last committed
// offset on reconnect (at-least-once delivery).
type Client struct {
	url  string
	conn *websocket.Conn
}

func NewClient(url string) *Client {
	return &Client{url: url}
}

func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("bus client is nil")
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	// Sky-map bearing notices can be large; raise read limit above default.
	conn.SetReadLimit(8 << 20) // 8MB
	c.conn = conn
	return nil
}

func (c *Client) Close(status websocket.StatusCode, reason string) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(status, reason)
}

func (c *Client) Subscribe(ctx context.Context, topics []string, clientID, clientSecret string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("bus not connected")
	}
	req := subscribeRequest{
		Type:         "subscribe",
		Topics:       topics,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *Client) Commit(ctx context.Context, topic string, offset int64) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("bus not connected")
	}
	req := commitRequest{Type: "commit", Topic: topic, Offset: offset}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *Client) Read(ctx context.Context) (Envelope, []byte, error) {
	if c == nil || c.conn == nil {
		return Envelope{}, nil, fmt.Errorf("bus not connected")
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return Envelope{}, nil, err
	}
	var env Envelope
	_ = json.Unmarshal(data, &env)
	return env, data, nil
}

func (c *Client) respondPong(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("bus not connected")
	}
	return c.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"pong"}`))
}

// Handler processes one envelope. Returning commit=true advances the stream
// position; returning an error drops the connection so the broker redelivers
// everything uncommitted.
type Handler func(ctx context.Context, env Envelope) (commit bool, err error)

type StreamOptions struct {
	URL          string
	Topics       []string
	ClientID     string
	ClientSecret string

	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

// Stream is the reconnecting consumer loop over the notice broker.
// Messages for one subscription are delivered to the handler strictly one at
// a time; commits happen inline after the handler asks for them.
type Stream struct {
	opts      StreamOptions
	seenFirst bool
}

func NewStream(opts StreamOptions) *Stream {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &Stream{opts: opts}
}

func (s *Stream) Run(ctx context.Context, handler Handler) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		client := NewClient(s.opts.URL)
		if err := client.Connect(ctx); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("bus connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if err := client.Subscribe(ctx, s.opts.Topics, s.opts.ClientID, s.opts.ClientSecret); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("bus subscribe failed", zap.Error(err))
			}
			_ = client.Close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("bus subscribed", zap.Strings("topics", s.opts.Topics))
		}
		backoff = s.opts.BackoffMin

		err := s.consume(ctx, client, handler)
		_ = client.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("bus consume stopped, reconnecting", zap.Error(err))
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *Stream) consume(ctx context.Context, client *Client, handler Handler) error {
	heartbeatErr := make(chan error, 1)
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				heartbeatErr <- heartbeatCtx.Err()
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(heartbeatCtx, s.opts.PingTimeout)
				err := client.conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-heartbeatErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		default:
		}
		env, raw, err := client.Read(ctx)
		if err != nil {
			if s.opts.Logger != nil && !errors.Is(err, context.Canceled) {
				s.opts.Logger.Warn("bus read failed", zap.Error(err))
			}
			return err
		}
		if isPingPayload(raw) {
			_ = client.respondPong(ctx)
			continue
		}
		if s.opts.Logger != nil && !s.seenFirst {
			s.seenFirst = true
			s.opts.Logger.Info("bus first message",
				zap.String("topic", env.Topic),
				zap.Int64("offset", env.Offset),
			)
		}
		commit, err := handler(ctx, env)
		if err != nil {
			return err
		}
		if commit {
			if err := client.Commit(ctx, env.Topic, env.Offset); err != nil {
				return err
			}
		}
	}
}

func isPingPayload(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	if strings.TrimSpace(string(raw)) == "ping" {
		return true
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil {
		return strings.EqualFold(probe.Type, "ping")
	}
	return false
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
