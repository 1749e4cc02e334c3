package churn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/churnwatch/churnwatch/internal/feed"
)

var errConnClosed = errors.New("connection closed")

type fakeAPI struct {
	mu          sync.Mutex
	interval    int64
	intervalErr error
	next        int64
	nextErr     error

	intervalCalls atomic.Int32
	nextCalls     atomic.Int32
}

func (a *fakeAPI) FetchChurnInterval(ctx context.Context) (int64, error) {
	a.intervalCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval, a.intervalErr
}

func (a *fakeAPI) FetchNextChurnHeight(ctx context.Context) (int64, error) {
	a.nextCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next, a.nextErr
}

func (a *fakeAPI) set(interval, next int64) {
	a.mu.Lock()
	a.interval, a.next = interval, next
	a.intervalErr, a.nextErr = nil, nil
	a.mu.Unlock()
}

type fakeConn struct {
	msgs      chan feed.Message
	closed    chan struct{}
	closeOnce sync.Once
	failure   chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs:    make(chan feed.Message, 16),
		closed:  make(chan struct{}),
		failure: make(chan error, 1),
	}
}

func (c *fakeConn) Next() (feed.Message, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case err := <-c.failure:
		return feed.Message{}, err
	case <-c.closed:
		return feed.Message{}, errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sendBlock(height int64) {
	c.msgs <- feed.Message{Kind: feed.KindText, Data: blockFrame(height)}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context) (feed.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) openConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	open := 0
	for _, c := range d.conns {
		if !c.isClosed() {
			open++
		}
	}
	return open
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

func blockFrame(height int64) []byte {
	return []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"result":{"query":"tm.event='NewBlock'","data":{"type":"tendermint/event/NewBlock","value":{"block":{"header":{"height":"%d"}}}}}}`,
		height))
}
