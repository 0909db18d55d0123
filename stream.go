package sseresume

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrDisallowedType is returned from Streamer.Serve when the event source
// produces an event whose type is not in the stream allowlist. Disallowed
// event types are treated as a protocol violation, the stream is terminated
// without writing the offending event.
var ErrDisallowedType = errors.New("event type not in stream allowlist")

// Streamer bridges application event sources to SSE client connections. It
// tags every event with a sequence number via the shared History instance
// and replays missed events to clients that reconnect with a resumption
// cursor.
//
// A single Streamer can serve many concurrent connections, each with its
// own event source. All connections share one History, so admission order
// across concurrently active streams establishes the global sequence order.
type Streamer struct {
	history  *History
	cfg      Config
	allowed  map[string]struct{}
	terminal string
	stop     chan struct{}
	log      logrus.FieldLogger
}

// StreamerConfig bundles stream adapter settings that are not part of the
// wire-level Config.
type StreamerConfig struct {
	// AllowedTypes is the set of event types a stream is permitted to
	// carry. An event of any other type terminates the stream with
	// ErrDisallowedType. Leaving AllowedTypes empty permits all types.
	AllowedTypes []string

	// TerminalType is an event type whose delivery signals intentional
	// end of stream. After writing an event of this type the connection
	// is closed and no further events are consumed from the source.
	// Empty value disables terminal event handling.
	TerminalType string

	// Logger is used for connection lifecycle logging. Nil value
	// selects logrus.StandardLogger().
	Logger *logrus.Logger
}

// NewStreamer creates a stream adapter writing events through the given
// history instance. Passing the history explicitly allows multiple
// adapters to share one sequence number space and allows tests to
// instantiate isolated stores.
func NewStreamer(history *History, cfg Config, scfg StreamerConfig) *Streamer {
	var allowed map[string]struct{}
	if len(scfg.AllowedTypes) > 0 {
		allowed = make(map[string]struct{}, len(scfg.AllowedTypes))
		for _, t := range scfg.AllowedTypes {
			allowed[t] = struct{}{}
		}
	}
	logger := scfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Streamer{
		history:  history,
		cfg:      cfg,
		allowed:  allowed,
		terminal: scfg.TerminalType,
		stop:     make(chan struct{}),
		log:      logger.WithField("component", "sseresume.streamer"),
	}
}

// Serve attaches one client connection to one application event source and
// keeps both in sync until the source completes, errors with a disallowed
// event type, emits the terminal event type, or the connection is closed by
// the peer.
//
// If the request carries a resumption cursor (Last-Event-ID header, or
// lastEventId query parameter when the header is not set), all retained
// events newer than the cursor are replayed before any new source events.
//
// Serve returns nil on orderly shutdown and ErrDisallowedType when the
// source violates the allowlist. After a disallowed event nothing more is
// written and the remote peer observes end of stream.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, source <-chan Event) error {
	log := s.log.WithFields(logrus.Fields{
		"connection": uuid.NewString(),
		"remote":     r.RemoteAddr,
	})

	var replay []Event
	if lastSeen, ok := resumeID(r); ok {
		for _, e := range s.history.MissedSince(lastSeen) {
			replay = append(replay, *e)
		}
		log.WithFields(logrus.Fields{
			"last_seen": lastSeen,
			"replay":    len(replay),
		}).Debug("resuming client")
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	live := make(chan *Event, s.cfg.QueueLength)
	violation := make(chan error, 1)
	go s.pump(ctx, source, live, violation)

	log.Debug("client connected")
	if err := Respond(w, r, prependStream(replay, live), &s.cfg, s.stop); err != nil {
		log.WithError(err).Warn("client connection failed")
		return err
	}
	cancel()

	select {
	case err := <-violation:
		log.WithError(err).Warn("terminating stream")
		return err
	default:
	}
	log.Debug("client disconnected")
	return nil
}

// pump consumes the application event source, admits each event to the
// history store and forwards it to the response writer. It stops on context
// cancellation (connection closed by the peer), source exhaustion, an
// allowlist violation or the terminal event type. Closing the live channel
// is the only way pump signals completion.
func (s *Streamer) pump(ctx context.Context, source <-chan Event, live chan<- *Event, violation chan<- error) {
	defer close(live)

	for {
		// Cancellation wins over a ready source, a closed connection
		// must not keep draining events it can no longer deliver
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case ev, ok := <-source:
			if !ok {
				return
			}
			if s.allowed != nil {
				if _, ok := s.allowed[ev.Event]; !ok {
					violation <- ErrDisallowedType
					return
				}
			}
			admitted := s.history.Admit(ev.Event, ev.Data)
			select {
			case live <- admitted:
			case <-ctx.Done():
				return
			}
			if s.terminal != "" && ev.Event == s.terminal {
				return
			}
		}
	}
}

// DropConnections removes all currently active stream connections and
// closes all active HTTP responses. After call to this method all new
// connections would be closed immediately. Calling DropConnections more
// than one time would panic.
//
// This function is useful in implementing graceful application shutdown,
// this method should be called only when web server is not accepting any
// new connections and all that is left is terminating already connected
// ones.
func (s *Streamer) DropConnections() {
	close(s.stop)
}

// resumeID extracts the resumption cursor from a request. Last-Event-ID
// header takes precedence over the lastEventId query parameter. The second
// return value reports whether a valid cursor was present, absent or
// malformed cursors connect the client to the live tail without replay.
func resumeID(r *http.Request) (uint64, bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// prependStream takes slice and channel of events and produces new channel
// that will contain all events in the slice followed by the events in
// source channel. If source channel is nil it will be ignored and only
// events in the slice will be used.
func prependStream(events []Event, source <-chan *Event) <-chan *Event {
	sink := make(chan *Event)
	go func() {
		defer close(sink)
		// Stream static events
		for i := range events {
			sink <- &events[i]
		}
		// Exit if source stream is missing, this allows to reuse this
		// function for generating stream from slice only
		if source == nil {
			return
		}
		// Restream source channel
		for event := range source {
			sink <- event
		}
	}()
	return sink
}
