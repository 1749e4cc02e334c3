// Package churn tracks the chain height, the next churn height and the
// churn interval of a THORChain-style network, and derives the average
// block time from the new-block feed.
//
// All state is owned by a single loop goroutine. Feed frames, dial results
// and HTTP refresh results are posted to that loop tagged with the
// connection generation they belong to; anything from an older generation
// is discarded.
package churn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/internal/feed"
	"github.com/churnwatch/churnwatch/internal/store"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

// Defaults used when nothing has been persisted or fetched yet
const (
	DefaultChurnInterval int64 = 43200
	DefaultBlockSeconds        = 5.9
	DefaultWorkers             = 2
)

const (
	eventBuffer    = 64
	persistTimeout = 3 * time.Second
)

// ErrAlreadyStarted is returned by Start on a running client
var ErrAlreadyStarted = errors.New("client already started")

// NetworkAPI fetches the two churn parameters over HTTP.
type NetworkAPI interface {
	FetchChurnInterval(ctx context.Context) (int64, error)
	FetchNextChurnHeight(ctx context.Context) (int64, error)
}

// Options configures a Client. API, Dialer, Store and Logger are required.
type Options struct {
	API    NetworkAPI
	Dialer feed.Dialer
	Store  store.Store
	Logger *logger.Logger

	// DefaultInterval applies when no positive interval is persisted
	DefaultInterval int64
	// DefaultBlockSeconds is reported until five blocks have arrived
	DefaultBlockSeconds float64
	// MaxBackoff of zero, the default, reconnects immediately on every feed
	// failure. A positive value backs off exponentially on consecutive
	// failures up to that cap. Negative values are rejected. config's
	// churn.max_backoff maps onto this field unchanged.
	MaxBackoff time.Duration
	Workers    int

	Now func() time.Time
}

// Client is the network state client.
type Client struct {
	api    NetworkAPI
	dialer feed.Dialer
	store  store.Store
	logger *logger.Logger

	now                 func() time.Time
	jitter              func() float64
	defaultBlockSeconds float64
	maxBackoff          time.Duration

	pool   pond.Pool
	submit func(func())

	reconnectCh chan struct{}
	refreshCh   chan struct{}
	events      chan event

	// Owned by the loop goroutine
	current      int64
	next         int64
	interval     int64
	avg          float64
	times        *BlockTimes
	conn         feed.Conn
	gen          uint64
	connected    bool
	lastActivity time.Time
	reconnects   uint64
	failures     int
	retry        *time.Timer

	snapshot   atomic.Pointer[Snapshot]
	subMu      sync.Mutex
	subs       []chan Snapshot
	subsClosed bool

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loopWg  sync.WaitGroup
}

// NewClient restores persisted values from opts.Store and returns a
// client that is not yet connected.
func NewClient(opts Options) (*Client, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("network API is required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("feed dialer is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = DefaultChurnInterval
	}
	if opts.DefaultBlockSeconds <= 0 {
		opts.DefaultBlockSeconds = DefaultBlockSeconds
	}
	if opts.MaxBackoff < 0 {
		return nil, fmt.Errorf("max backoff cannot be negative: %s", opts.MaxBackoff)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := pond.NewPool(opts.Workers)

	c := &Client{
		api:                 opts.API,
		dialer:              opts.Dialer,
		store:               opts.Store,
		logger:              opts.Logger.Named("churn"),
		now:                 opts.Now,
		jitter:              defaultJitter,
		defaultBlockSeconds: opts.DefaultBlockSeconds,
		maxBackoff:          opts.MaxBackoff,
		pool:                pool,
		reconnectCh:         make(chan struct{}, 1),
		refreshCh:           make(chan struct{}, 1),
		events:              make(chan event, eventBuffer),
		interval:            opts.DefaultInterval,
		avg:                 opts.DefaultBlockSeconds,
		times:               NewBlockTimes(),
		ctx:                 ctx,
		cancel:              cancel,
	}
	c.submit = func(task func()) { pool.Submit(task) }

	if err := c.restore(opts.DefaultInterval); err != nil {
		pool.StopAndWait()
		cancel()
		return nil, err
	}

	c.publish(c.buildSnapshot())
	return c, nil
}

func (c *Client) restore(defaultInterval int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	next, ok, err := c.store.GetInt(ctx, store.KeyNextChurnHeight)
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", store.KeyNextChurnHeight, err)
	}
	if ok && next > 0 {
		c.next = next
	}

	interval, ok, err := c.store.GetInt(ctx, store.KeyChurnInterval)
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", store.KeyChurnInterval, err)
	}
	if ok && interval > 0 {
		c.interval = interval
	} else {
		c.interval = defaultInterval
	}

	c.logger.Debug("restored churn state",
		zap.Int64("next_churn_height", c.next),
		zap.Int64("churn_interval", c.interval))
	return nil
}

// Start connects the feed and begins processing.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if c.stopped {
		return fmt.Errorf("client has been stopped")
	}
	c.started = true

	c.loopWg.Add(1)
	go c.run()

	c.Reconnect()
	return nil
}

// Stop tears down the feed, waits for in-flight work and closes every
// subscriber channel. Safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.loopWg.Wait()
	c.wg.Wait()
	c.pool.StopAndWait()
	c.drainEvents()
	c.closeSubscribers()
}

// drainEvents closes connections that were posted after the loop exited.
func (c *Client) drainEvents() {
	for {
		select {
		case ev := <-c.events:
			if e, ok := ev.(connectedEvent); ok {
				e.conn.Close()
			}
		default:
			return
		}
	}
}

// Reconnect requests a fresh subscription and refetch of both churn
// parameters. It never blocks; requests made while one is pending are
// coalesced.
func (c *Client) Reconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

// Refresh refetches both churn parameters without touching the feed.
func (c *Client) Refresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the most recently published state
func (c *Client) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// LastActivity returns when the feed last delivered a frame, or when the
// last reconnect was issued if that is later.
func (c *Client) LastActivity() time.Time {
	return c.snapshot.Load().LastActivity
}

func (c *Client) run() {
	defer c.loopWg.Done()

	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return
		case <-c.reconnectCh:
			c.reconnect()
		case <-c.refreshCh:
			c.refreshNextChurnHeight()
			c.refreshChurnInterval()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Client) teardown() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.closeConn()
	c.logger.Debug("churn client stopped", zap.Uint64("generation", c.gen))
}

// reconnect clears the block window, drops the current subscription,
// triggers both refreshes and dials a new subscription, in that order.
func (c *Client) reconnect() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}

	c.times.Clear()
	c.closeConn()

	if c.gen > 0 {
		c.reconnects++
	}
	c.gen++
	c.lastActivity = c.now()

	c.refreshNextChurnHeight()
	c.refreshChurnInterval()
	c.dial(c.gen)

	c.logger.Debug("reconnecting feed", zap.Uint64("generation", c.gen))
	c.publish(c.buildSnapshot())
}

func (c *Client) closeConn() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("error closing feed", zap.Error(err))
		}
		c.conn = nil
	}
	c.connected = false
}

func (c *Client) dial(gen uint64) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		conn, err := c.dialer.Dial(c.ctx)
		if err != nil {
			c.post(dialFailedEvent{gen: gen, err: err})
			return
		}
		if !c.post(connectedEvent{gen: gen, conn: conn}) {
			conn.Close()
		}
	}()
}

// readLoop delivers frames from conn until it fails or is closed.
func (c *Client) readLoop(gen uint64, conn feed.Conn) {
	defer c.wg.Done()

	for {
		msg, err := conn.Next()
		if err != nil {
			c.post(readFailedEvent{gen: gen, err: err})
			return
		}
		if !c.post(messageEvent{gen: gen, msg: msg}) {
			return
		}
	}
}

// post hands ev to the loop. It returns false once the client is stopping.
func (c *Client) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) refreshChurnInterval() {
	gen := c.gen
	c.submit(func() {
		v, err := c.api.FetchChurnInterval(c.ctx)
		c.post(churnIntervalEvent{gen: gen, value: v, err: err})
	})
}

func (c *Client) refreshNextChurnHeight() {
	gen := c.gen
	c.submit(func() {
		v, err := c.api.FetchNextChurnHeight(c.ctx)
		c.post(nextChurnHeightEvent{gen: gen, value: v, err: err})
	})
}

func (c *Client) handle(ev event) {
	if ev.generation() != c.gen {
		c.logger.Debug("discarding stale result",
			zap.String("event", fmt.Sprintf("%T", ev)),
			zap.Uint64("generation", ev.generation()),
			zap.Uint64("current", c.gen))
		if e, ok := ev.(connectedEvent); ok {
			e.conn.Close()
		}
		return
	}

	switch e := ev.(type) {
	case connectedEvent:
		c.conn = e.conn
		c.connected = true
		c.wg.Add(1)
		go c.readLoop(e.gen, e.conn)
		c.logger.Info("feed connected", zap.Uint64("generation", e.gen))
		c.publish(c.buildSnapshot())

	case dialFailedEvent:
		c.feedFailed("dial", e.err)

	case readFailedEvent:
		c.closeConn()
		c.feedFailed("read", e.err)

	case messageEvent:
		c.handleMessage(e.msg)

	case churnIntervalEvent:
		if e.err != nil {
			c.discard("churn interval refresh failed", e.err)
			return
		}
		if e.value <= 0 {
			c.discard("churn interval refresh failed", fmt.Errorf("non-positive interval %d", e.value))
			return
		}
		c.interval = e.value
		c.persist(store.KeyChurnInterval, e.value)
		c.publish(c.buildSnapshot())

	case nextChurnHeightEvent:
		if e.err != nil {
			c.discard("next churn height refresh failed", e.err)
			return
		}
		c.next = e.value
		c.persist(store.KeyNextChurnHeight, e.value)
		c.publish(c.buildSnapshot())

	default:
		panic(fmt.Sprintf("churn: unhandled event %T", ev))
	}
}

// handleMessage applies one feed frame. Text frames carrying a block
// header advance the height and the block window; anything else that
// parses as text is ignored, as are binary frames.
func (c *Client) handleMessage(msg feed.Message) {
	now := c.now()
	c.lastActivity = now

	switch msg.Kind {
	case feed.KindText:
		height, err := feed.ParseBlockHeight(msg.Data)
		if err != nil {
			c.discard("ignoring feed message", err)
			return
		}
		c.applyBlock(height, now)

	case feed.KindBinary:
		return

	default:
		panic(fmt.Sprintf("churn: unreachable feed message kind %v", msg.Kind))
	}
}

func (c *Client) applyBlock(height int64, at time.Time) {
	c.current = height
	c.failures = 0

	if c.current >= c.next {
		c.refreshNextChurnHeight()
	}

	c.times.Push(at)
	if avg, ok := c.times.Average(); ok {
		c.avg = avg
	}

	c.publish(c.buildSnapshot())
}

func (c *Client) feedFailed(op string, err error) {
	c.failures++
	delay := retryDelay(c.failures, c.maxBackoff, c.jitter)

	c.logger.Debug("feed failed",
		zap.String("op", op),
		zap.Int("failures", c.failures),
		zap.Duration("retry_in", delay),
		zap.Error(err))

	c.publish(c.buildSnapshot())

	if delay == 0 {
		c.reconnect()
		return
	}
	c.retry = time.AfterFunc(delay, c.Reconnect)
}

func (c *Client) persist(key string, value int64) {
	ctx, cancel := context.WithTimeout(c.ctx, persistTimeout)
	defer cancel()

	if err := c.store.SetInt(ctx, key, value); err != nil {
		c.logger.Warn("failed to persist churn state",
			zap.String("key", key),
			zap.Int64("value", value),
			zap.Error(err))
	}
}

// discard is the single path for network errors that leave state as is.
func (c *Client) discard(msg string, err error) {
	c.logger.Debug(msg, zap.Error(err))
}

func (c *Client) buildSnapshot() *Snapshot {
	return &Snapshot{
		CurrentBlockHeight:  c.current,
		NextChurnHeight:     c.next,
		ChurnIntervalBlocks: c.interval,
		AverageBlockSeconds: c.avg,
		RecentBlockTimes:    c.times.Times(),
		Connected:           c.connected,
		LastActivity:        c.lastActivity,
		Generation:          c.gen,
		Reconnects:          c.reconnects,
		UpdatedAt:           c.now(),
	}
}
