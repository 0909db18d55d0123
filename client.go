package sseresume

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State describes the lifecycle of one logical subscription.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default client timing parameters.
const (
	DefaultReconnectInterval = 3 * time.Second
	DefaultMaxRetryAttempts  = 10
)

// HandlerFunc handles a single inbound event.
type HandlerFunc func(e Event)

// ClientConfig holds client subscription configuration. The zero value
// selects documented defaults for every field.
type ClientConfig struct {
	// ReconnectInterval is the base of the exponential reconnect
	// backoff. Zero value selects DefaultReconnectInterval.
	ReconnectInterval time.Duration

	// MaxRetryAttempts is the retry budget of the subscription.
	// Exceeding it is fatal, the client self-closes and will not retry
	// again without an explicit Reconnect call. Zero value selects
	// DefaultMaxRetryAttempts.
	MaxRetryAttempts int

	// HeartbeatInterval is the period of synthetic liveness events
	// dispatched to the handler registered for HeartbeatEvent while the
	// connection is open. Zero disables the heartbeat.
	HeartbeatInterval time.Duration

	// HeartbeatEvent is the event type of synthetic liveness events.
	// Empty value selects DefaultHeartbeatEvent.
	HeartbeatEvent string

	// Cursors stores the resumption cursor between reconnects and
	// sessions. Nil value selects an in-memory store that survives
	// reconnects but not process restarts.
	Cursors CursorStore

	// HTTPClient performs the streaming requests. Nil value selects
	// http.DefaultClient.
	HTTPClient *http.Client

	// Logger is used for subscription lifecycle logging. Nil value
	// selects logrus.StandardLogger().
	Logger *logrus.Logger

	// OnOpen is invoked every time a connection is successfully opened.
	OnOpen func()

	// OnError is invoked on every transport error. Transport errors are
	// not fatal by themselves, the client decides between reconnecting
	// and giving up based on the retry budget.
	OnError func(err error)

	// OnRetryExhausted is invoked exactly once when the retry budget is
	// exhausted and the subscription self-closes. The application must
	// call Reconnect to resume service afterwards.
	OnRetryExhausted func()
}

// Client owns the lifecycle of one logical SSE subscription: opening the
// transport, detecting failure, backing off, resuming from the last
// observed sequence number and synthesizing liveness checks.
//
// All exported methods are safe for concurrent use. Event handlers are
// invoked without holding internal locks, so they may call back into the
// client.
type Client struct {
	url       string
	cursorKey string
	cfg       ClientConfig
	dial      dialFunc
	sched     scheduler
	log       logrus.FieldLogger

	mu        sync.Mutex
	rng       *rand.Rand
	state     State
	attempts  int
	closed    bool
	gen       uint64
	tr        transport
	retry     timerHandle
	handlers  map[string]HandlerFunc
	heartbeat *heartbeatMonitor
}

// NewClient creates a subscription client for the given SSE endpoint URL.
// The client stays idle until Connect is called.
func NewClient(endpoint string, cfg ClientConfig) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.HeartbeatEvent == "" {
		cfg.HeartbeatEvent = DefaultHeartbeatEvent
	}
	if cfg.Cursors == nil {
		cfg.Cursors = NewMemoryCursorStore(0, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Client{
		url:       endpoint,
		cursorKey: EndpointKey(endpoint),
		cfg:       cfg,
		dial:      dialHTTP,
		sched:     wallScheduler{},
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		handlers:  make(map[string]HandlerFunc),
		log: logger.WithFields(logrus.Fields{
			"component": "sseresume.client",
			"client":    uuid.NewString(),
			"url":       endpoint,
		}),
	}
	c.heartbeat = newHeartbeatMonitor(cfg.HeartbeatInterval, c.sched, c.fireHeartbeat)
	return c
}

// On registers a handler for the given logical event type. At most one
// handler per type is kept, registering twice for the same type replaces
// the previous handler instead of fanning out to both. Inbound events of a
// type without a registered handler are silently dropped.
func (c *Client) On(event string, fn HandlerFunc) {
	c.mu.Lock()
	c.handlers[event] = fn
	c.mu.Unlock()
}

// Connect opens a new transport to the subscription endpoint. Calling
// Connect on a client that already has a transport tears the old one down
// first, reconnects never run concurrently with the connection they
// replace. If a resumption cursor is stored for the endpoint it is
// appended to the request URL as a lastEventId query parameter, preserving
// any existing query string.
func (c *Client) Connect() {
	c.mu.Lock()
	c.connectLocked()
	c.mu.Unlock()
}

// Close terminates the subscription. Scheduled reconnects that fire after
// Close are no-ops. Close is allowed from any state and is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed && c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosed
	c.cancelRetryLocked()
	c.heartbeat.stop()
	if c.tr != nil {
		c.tr.close()
		c.tr = nil
	}
	c.mu.Unlock()
	c.log.Info("subscription closed")
}

// Reconnect restarts a subscription that self-closed after exhausting its
// retry budget. It resets the attempt counter and the closed flag and
// connects again.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.attempts = 0
	c.closed = false
	c.connectLocked()
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) connectLocked() {
	if c.tr != nil {
		c.tr.close()
		c.tr = nil
	}
	c.heartbeat.stop()
	c.cancelRetryLocked()
	c.closed = false
	c.state = StateConnecting
	c.gen++
	gen := c.gen

	cursor := c.loadCursorLocked()
	c.log.WithFields(logrus.Fields{
		"attempt": c.attempts,
		"cursor":  cursor,
	}).Debug("connecting")

	ev := transportEvents{
		onOpen:  func() { c.transportOpen(gen) },
		onFrame: func(f frame) { c.transportFrame(gen, f) },
		onError: func(err error) { c.transportError(gen, err) },
	}
	c.tr = c.dial(resumeURL(c.url, cursor), cursor, c.cfg.HTTPClient, ev)
}

func (c *Client) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.stop()
		c.retry = nil
	}
}

func (c *Client) loadCursorLocked() string {
	cursor, err := c.cfg.Cursors.Load(c.cursorKey)
	if err != nil {
		// Cursor storage failures degrade to a non resumable connect
		c.log.WithError(err).Debug("loading resumption cursor")
		return ""
	}
	return cursor
}

// transportOpen handles a successful connection open reported by the
// transport of generation gen. Reports from replaced transports are
// ignored.
func (c *Client) transportOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.attempts = 0
	c.heartbeat.start()
	cb := c.cfg.OnOpen
	c.mu.Unlock()

	c.log.Info("connection open")
	if cb != nil {
		cb()
	}
}

// transportFrame handles one inbound frame. Frames carrying a sequence
// number advance the resumption cursor before the event is dispatched.
func (c *Client) transportFrame(gen uint64, f frame) {
	c.mu.Lock()
	if gen != c.gen || c.closed || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	if f.hasID {
		if err := c.cfg.Cursors.Save(c.cursorKey, strconv.FormatUint(f.id, 10)); err != nil {
			c.log.WithError(err).Debug("saving resumption cursor")
		}
	}
	e := decodePayload(f)
	h := c.handlers[e.Event]
	c.mu.Unlock()

	if h != nil {
		h(e)
	}
}

// transportError handles a connection failure: the heartbeat stops, the
// transport is torn down and either a reconnect is scheduled with jittered
// exponential backoff, or the subscription self-closes once the retry
// budget is exhausted.
func (c *Client) transportError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.heartbeat.stop()
	if c.tr != nil {
		c.tr.close()
		c.tr = nil
	}

	errCb := c.cfg.OnError
	var exhaustedCb func()

	c.attempts++
	if c.attempts <= c.cfg.MaxRetryAttempts {
		c.state = StateReconnecting
		delay := backoffDelay(c.attempts, c.cfg.ReconnectInterval, c.rng)
		c.log.WithError(err).WithFields(logrus.Fields{
			"attempt": c.attempts,
			"delay":   delay,
		}).Warn("connection lost, reconnect scheduled")
		c.retry = c.sched.schedule(delay, c.retryConnect)
	} else {
		c.state = StateClosed
		c.closed = true
		exhaustedCb = c.cfg.OnRetryExhausted
		c.log.WithError(err).Error("retry budget exhausted, subscription closed")
	}
	c.mu.Unlock()

	if errCb != nil {
		errCb(err)
	}
	if exhaustedCb != nil {
		exhaustedCb()
	}
}

// retryConnect is the deferred reconnect call. A Close that happened after
// scheduling makes it a no-op even when the timer was already past firing.
func (c *Client) retryConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.connectLocked()
}

// fireHeartbeat dispatches one synthetic liveness event to the handler
// registered for the heartbeat type. The event carries no sequence number
// and does not advance the cursor.
func (c *Client) fireHeartbeat() {
	c.mu.Lock()
	h := c.handlers[c.cfg.HeartbeatEvent]
	c.mu.Unlock()
	if h != nil {
		h(Event{Event: c.cfg.HeartbeatEvent})
	}
}

// decodePayload parses the JSON body of an inbound frame. Malformed JSON
// degrades to delivering the raw text under the default event type, a JSON
// document without an event name is delivered as-is under the default
// type.
func decodePayload(f frame) Event {
	e := Event{}
	if f.hasID {
		e.ID = f.id
	}

	var doc interface{}
	if err := json.Unmarshal(f.data, &doc); err != nil {
		e.Event = DefaultEventType
		e.Data = string(f.data)
		return e
	}
	if m, ok := doc.(map[string]interface{}); ok {
		if typ, ok := m["event"].(string); ok && typ != "" {
			e.Event = typ
			e.Data = m["data"]
			return e
		}
	}
	e.Event = DefaultEventType
	e.Data = doc
	return e
}

// resumeURL appends the resumption cursor as a lastEventId query parameter
// preserving any existing query string. Empty cursor returns the endpoint
// unchanged.
func resumeURL(endpoint, cursor string) string {
	if cursor == "" {
		return endpoint
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "lastEventId=" + url.QueryEscape(cursor)
}
