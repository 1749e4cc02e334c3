package churn

import "github.com/churnwatch/churnwatch/internal/feed"

// event is a result posted to the loop goroutine, tagged with the
// generation that produced it.
type event interface {
	generation() uint64
}

type connectedEvent struct {
	gen  uint64
	conn feed.Conn
}

type dialFailedEvent struct {
	gen uint64
	err error
}

type readFailedEvent struct {
	gen uint64
	err error
}

type messageEvent struct {
	gen uint64
	msg feed.Message
}

type churnIntervalEvent struct {
	gen   uint64
	value int64
	err   error
}

type nextChurnHeightEvent struct {
	gen   uint64
	value int64
	err   error
}

func (e connectedEvent) generation() uint64       { return e.gen }
func (e dialFailedEvent) generation() uint64      { return e.gen }
func (e readFailedEvent) generation() uint64      { return e.gen }
func (e messageEvent) generation() uint64         { return e.gen }
func (e churnIntervalEvent) generation() uint64   { return e.gen }
func (e nextChurnHeightEvent) generation() uint64 { return e.gen }
