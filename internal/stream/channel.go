package stream

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"sentiment-engine/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateTornDown     State = "torn_down"
)

var ErrTornDown = errors.New("stream channel is torn down")

// Conn is one live transport.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// Dialer opens a transport for a pair.
type Dialer interface {
	Dial(ctx context.Context, pair string) (Conn, error)
}

type Handler func(domain.StreamMessage)

type Status struct {
	State       State     `json:"state"`
	Pair        string    `json:"pair"`
	Attempts    int       `json:"attempts"`
	Retries     int       `json:"retries"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	Received    int64     `json:"received"`
	Dropped     int64     `json:"dropped"`
}

// Channel keeps a single live transport for the active pair and reconnects
// it after unexpected closes. Handlers run on the read goroutine.
type Channel struct {
	dialer Dialer
	policy RetryPolicy
	tracer trace.Tracer

	// opMu serializes Activate and Close so an old run loop is fully stopped
	// before the next one dials.
	opMu sync.Mutex

	mu       sync.Mutex
	status   Status
	gen      uint64
	cancel   context.CancelFunc
	conn     Conn
	done     chan struct{}
	handlers []Handler

	now func() time.Time
}

func NewChannel(tracer trace.Tracer, dialer Dialer, policy RetryPolicy) *Channel {
	return &Channel{
		dialer: dialer,
		policy: policy.normalized(),
		tracer: tracer,
		status: Status{State: StateDisconnected},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *Channel) Subscribe(h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Activate switches the channel to pair. Any existing transport is closed
// and its run loop stopped before the new one dials. Activating the pair
// that is already active is a no-op.
func (c *Channel) Activate(ctx context.Context, pair string) error {
	_, span := c.tracer.Start(ctx, "stream.activate")
	defer span.End()

	pair = strings.ToUpper(strings.TrimSpace(pair))
	span.SetAttributes(attribute.String("pair", pair))
	if pair == "" {
		return errors.New("pair is required")
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.status.State == StateTornDown {
		c.mu.Unlock()
		return ErrTornDown
	}
	if c.status.Pair == pair && running(c.done) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.stop()

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.done = done
	c.status = Status{State: StateConnecting, Pair: pair}
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(loopCtx, gen, pair)
	}()
	return nil
}

// Close tears the channel down. No transport is opened afterwards.
func (c *Channel) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stop()
	c.mu.Lock()
	c.gen++
	c.status.State = StateTornDown
	c.mu.Unlock()
}

// stop cancels the current run loop, closes its transport and waits for the
// loop to exit. Callers hold opMu.
func (c *Channel) stop() {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	c.cancel, c.conn, c.done = nil, nil, nil
	c.gen++
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (c *Channel) run(ctx context.Context, gen uint64, pair string) {
	bo := c.policy.newBackOff()
	retries := 0

	for {
		if ctx.Err() != nil {
			return
		}
		c.update(gen, func(s *Status) {
			s.State = StateConnecting
			s.Attempts++
		})

		conn, err := c.dialer.Dial(ctx, pair)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("stream: dial failed pair=%s err=%v", pair, err)
			c.update(gen, func(s *Status) { s.LastError = err.Error() })
		} else {
			if !c.attach(gen, conn) {
				_ = conn.Close()
				return
			}
			log.Printf("stream: connected pair=%s", pair)
			bo.Reset()
			retries = 0
			readErr := c.readLoop(gen, pair, conn)
			_ = conn.Close()
			c.detach(conn)
			if ctx.Err() != nil {
				return
			}
			log.Printf("stream: connection closed pair=%s err=%v", pair, readErr)
			c.update(gen, func(s *Status) {
				if readErr != nil {
					s.LastError = readErr.Error()
				}
			})
		}

		retries++
		if c.policy.MaxRetries > 0 && retries > c.policy.MaxRetries {
			log.Printf("stream: giving up pair=%s retries=%d", pair, c.policy.MaxRetries)
			c.update(gen, func(s *Status) { s.State = StateDisconnected })
			return
		}
		delay := bo.NextBackOff()
		c.update(gen, func(s *Status) {
			s.State = StateDisconnected
			s.Retries = retries
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func running(done chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (c *Channel) attach(gen uint64, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.conn = conn
	c.status.State = StateConnected
	c.status.ConnectedAt = c.now()
	c.status.LastError = ""
	return true
}

func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Channel) update(gen uint64, fn func(*Status)) {
	c.mu.Lock()
	if c.gen == gen {
		fn(&c.status)
	}
	c.mu.Unlock()
}

func (c *Channel) readLoop(gen uint64, pair string, conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.mu.Lock()
		current := c.gen == gen
		c.mu.Unlock()
		if !current {
			return nil
		}
		_ = c.HandleRaw(pair, data)
	}
}

// HandleRaw parses one payload and delivers it to subscribers. Malformed or
// unknown payloads are logged and dropped; the error is returned for callers
// that want it.
func (c *Channel) HandleRaw(pair string, data []byte) error {
	msg, err := ParseStreamMessage(data, pair, c.now())
	if err != nil {
		c.mu.Lock()
		c.status.Dropped++
		c.mu.Unlock()
		log.Printf("stream: dropping message pair=%s err=%v", pair, err)
		return err
	}

	c.mu.Lock()
	c.status.Received++
	handlers := append([]Handler(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		c.deliver(h, msg)
	}
	return nil
}

func (c *Channel) deliver(h Handler, msg domain.StreamMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("stream: handler panic type=%s err=%v", msg.Type, r)
		}
	}()
	h(msg)
}
