// Package syncer is the client-side adaptor: it keeps a local handler in
// step with one server recipe, preferring the push stream and falling
// back to polling when the stream is unavailable.
package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"wikid/internal/wiki"
	"wikid/internal/wire"
)

// State is the adaptor's connection state.
type State int

const (
	// StateNotConnected means no sync channel is active.
	StateNotConnected State = iota
	// StateConnectingPush means a push stream is being established.
	StateConnectingPush
	// StateConnectedPush means the push stream delivers changes.
	StateConnectedPush
	// StatePolling means a one-shot polling pass is running.
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not-connected"
	case StateConnectingPush:
		return "connecting-push"
	case StateConnectedPush:
		return "connected-push"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

type opKind int

const (
	opRead opKind = iota
	opWrite
	opDelete
)

// inflightOp marks a title with a local operation in progress. Incoming
// changes for that title are deferred: only the highest revision seen is
// remembered, and the title is re-fetched once the operation completes.
type inflightOp struct {
	kind             opKind
	deferredRevision int64
}

// titleInfo is the client's record of what the server holds for one
// title: the last revision and originating bag reported by any response
// or event. A title absent from the map was never seen by the server, so
// deleting it needs no round trip.
type titleInfo struct {
	revision int64
	bagName  string
}

// Handler receives changes the adaptor decides to apply. A change with
// IsDeleted set carries no fields.
type Handler interface {
	ApplyChange(change wire.Change) error
}

// Options configures a Client.
type Options struct {
	// BaseURL is the server root, e.g. "http://localhost:8088".
	BaseURL string
	// Recipe is the recipe this adaptor follows.
	Recipe string
	// Token is an optional session token sent as a bearer credential.
	Token string
	// Handler receives applied changes. Required.
	Handler Handler
	// Interested filters changes by title; nil means all titles.
	Interested func(title string) bool
	// EnablePush permits push-stream attempts; when false every Sync
	// polls.
	EnablePush bool
	// MinRetryInterval throttles push reconnect attempts. Sync calls
	// inside the window poll instead. Zero means no throttle.
	MinRetryInterval time.Duration

	HTTPClient *http.Client
	Logger     wiki.Logger
	Clock      wiki.Clock
}

// Client synchronizes one recipe. All exported methods are safe for
// concurrent use.
type Client struct {
	baseURL    *url.URL
	recipe     string
	token      string
	http       *http.Client
	handler    Handler
	interested func(string) bool
	enablePush bool
	minRetry   time.Duration
	logger     wiki.Logger
	clock      wiki.Clock

	mu          sync.Mutex
	state       State
	watermark   int64
	inflight    map[string]*inflightOp
	known       map[string]titleInfo
	lastAttempt time.Time
	cancelPush  context.CancelFunc
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = &wiki.NopLogger{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = &wiki.RealClock{}
	}

	return &Client{
		baseURL:    base,
		recipe:     opts.Recipe,
		token:      opts.Token,
		http:       httpClient,
		handler:    opts.Handler,
		interested: opts.Interested,
		enablePush: opts.EnablePush,
		minRetry:   opts.MinRetryInterval,
		logger:     logger,
		clock:      clock,
		state:      StateNotConnected,
		inflight:   make(map[string]*inflightOp),
		known:      make(map[string]titleInfo),
	}, nil
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watermark reports the highest revision applied so far.
func (c *Client) Watermark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// Sync brings the handler up to date. With push enabled and no active
// stream it starts one and lets it deliver changes asynchronously;
// otherwise, or when a new push attempt is throttled, it runs one polling
// pass synchronously.
func (c *Client) Sync(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnectedPush || c.state == StateConnectingPush {
		c.mu.Unlock()
		return nil
	}

	tryPush := c.enablePush &&
		(c.minRetry == 0 || c.clock.Now().Sub(c.lastAttempt) >= c.minRetry)
	if tryPush {
		c.state = StateConnectingPush
		c.lastAttempt = c.clock.Now()
	} else {
		c.state = StatePolling
	}
	c.mu.Unlock()

	if tryPush {
		pushCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancelPush = cancel
		c.mu.Unlock()
		go c.runPush(pushCtx)
		return nil
	}

	err := c.pollOnce(ctx)
	c.setState(StateNotConnected)
	return err
}

// Close stops any active push stream.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancelPush
	c.cancelPush = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// dispatch routes one incoming change. Changes for titles with a local
// operation in flight are deferred; uninteresting titles only advance the
// watermark. Revisions at or below the watermark are duplicates from
// stream catch-up and are dropped.
func (c *Client) dispatch(change wire.Change) {
	c.mu.Lock()
	if change.RevisionID <= c.watermark {
		c.mu.Unlock()
		return
	}

	if op, ok := c.inflight[change.Title]; ok {
		if change.RevisionID > op.deferredRevision {
			op.deferredRevision = change.RevisionID
		}
		c.mu.Unlock()
		return
	}

	c.noteLocked(change)
	if c.interested != nil && !c.interested(change.Title) {
		c.watermark = change.RevisionID
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.handler.ApplyChange(change); err != nil {
		c.logger.Error("applying change", "title", change.Title, "revision", change.RevisionID, "error", err)
		return
	}

	c.mu.Lock()
	if change.RevisionID > c.watermark {
		c.watermark = change.RevisionID
	}
	c.mu.Unlock()
}

// noteLocked updates the per-title bookkeeping from one server-reported
// change. A tombstone removes the title. Callers hold c.mu.
func (c *Client) noteLocked(change wire.Change) {
	if change.IsDeleted {
		delete(c.known, change.Title)
		return
	}
	info := c.known[change.Title]
	if change.RevisionID >= info.revision {
		info.revision = change.RevisionID
		if change.BagName != "" {
			info.bagName = change.BagName
		}
		c.known[change.Title] = info
	}
}

// remember records a title the server confirmed via response metadata.
func (c *Client) remember(title string, revision int64, bagName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noteLocked(wire.Change{Title: title, RevisionID: revision, BagName: bagName})
}

// forget drops a title from the bookkeeping after a confirmed tombstone.
func (c *Client) forget(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.known, title)
}

// seen reports whether the server has ever reported the title.
func (c *Client) seen(title string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.known[title]
	return ok
}

// TitleInfo returns the last revision and originating bag the server
// reported for a title, if it was ever seen.
func (c *Client) TitleInfo(title string) (revision int64, bagName string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.known[title]
	return info.revision, info.bagName, ok
}

// beginOp marks a title in flight. It returns false if another operation
// already holds the title.
func (c *Client) beginOp(title string, kind opKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[title]; ok {
		return false
	}
	c.inflight[title] = &inflightOp{kind: kind}
	return true
}

// endOp clears the in-flight marker and resolves anything deferred while
// the operation ran: the title is re-fetched so the handler ends up with
// the server's current view.
func (c *Client) endOp(ctx context.Context, title string, completedRevision int64) {
	c.mu.Lock()
	op := c.inflight[title]
	delete(c.inflight, title)
	if completedRevision > c.watermark {
		c.watermark = completedRevision
	}
	deferred := int64(0)
	if op != nil {
		deferred = op.deferredRevision
	}
	c.mu.Unlock()

	if deferred <= completedRevision {
		return
	}
	if err := c.refetch(ctx, title, deferred); err != nil {
		c.logger.Error("refetching deferred title", "title", title, "error", err)
	}
}
