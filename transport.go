package sseresume

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// frame is a single parsed SSE frame received from the server.
type frame struct {
	id    uint64
	hasID bool
	data  []byte
}

// transportEvents are the callbacks through which a transport reports its
// lifecycle to the connection state machine. Callbacks are never invoked
// after close() returned on the owning goroutine side.
type transportEvents struct {
	onOpen  func()
	onFrame func(f frame)
	onError func(err error)
}

// transport is one physical connection attempt. It is owned exclusively by
// the client session that dialed it and is replaced, never reused, on
// reconnect.
type transport interface {
	close()
}

// dialFunc opens a transport. The client uses dialHTTP in production,
// tests substitute fakes.
type dialFunc func(url, lastEventID string, httpc *http.Client, ev transportEvents) transport

// httpTransport reads an SSE stream over a plain HTTP GET request.
type httpTransport struct {
	cancel context.CancelFunc
	closed int32
}

// dialHTTP opens the SSE endpoint and starts a reader goroutine. Errors,
// including the initial dial failure, are reported through ev.onError.
func dialHTTP(url, lastEventID string, httpc *http.Client, ev transportEvents) transport {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &httpTransport{cancel: cancel}
	go t.run(ctx, url, lastEventID, httpc, ev)
	return t
}

// close tears the connection down. Any error produced by the aborted read
// is suppressed so a deliberate close never surfaces as a transport error.
func (t *httpTransport) close() {
	atomic.StoreInt32(&t.closed, 1)
	t.cancel()
}

func (t *httpTransport) fail(ev transportEvents, err error) {
	if atomic.LoadInt32(&t.closed) != 0 {
		return
	}
	ev.onError(err)
}

func (t *httpTransport) run(ctx context.Context, url, lastEventID string, httpc *http.Client, ev transportEvents) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.fail(ev, errors.Wrap(err, "building stream request"))
		return
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		t.fail(ev, errors.Wrap(err, "opening event stream"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.fail(ev, errors.Errorf("unexpected response status %s", resp.Status))
		return
	}

	if atomic.LoadInt32(&t.closed) != 0 {
		return
	}
	ev.onOpen()

	var (
		f         frame
		dataLines []string
	)
	reader := bufio.NewReader(resp.Body)
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			// Server closing the stream is a transport error too,
			// the state machine decides whether to reconnect.
			t.fail(ev, errors.Wrap(err, "reading event stream"))
			return
		}
		if atomic.LoadInt32(&t.closed) != 0 {
			return
		}

		line := strings.TrimRight(raw, "\r\n")
		switch {
		case line == "":
			if len(dataLines) > 0 {
				f.data = []byte(strings.Join(dataLines, "\n"))
				ev.onFrame(f)
			}
			f = frame{}
			dataLines = nil
		case strings.HasPrefix(line, ":"):
			// Comment line, used for keep-alive frames
		case strings.HasPrefix(line, "id:"):
			val := strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			if id, err := strconv.ParseUint(val, 10, 64); err == nil {
				f.id = id
				f.hasID = true
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// retry hints and unknown fields are ignored
		}
	}
}
