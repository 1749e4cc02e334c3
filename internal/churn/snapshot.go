package churn

import "time"

// Snapshot is an immutable copy of the observed network state.
type Snapshot struct {
	CurrentBlockHeight  int64       `json:"currentBlockHeight"`
	NextChurnHeight     int64       `json:"nextChurnHeight"`
	ChurnIntervalBlocks int64       `json:"churnIntervalBlocks"`
	AverageBlockSeconds float64     `json:"averageBlockSeconds"`
	RecentBlockTimes    []time.Time `json:"recentBlockTimes"`

	Connected    bool      `json:"connected"`
	LastActivity time.Time `json:"lastActivity"`
	Generation   uint64    `json:"generation"`
	Reconnects   uint64    `json:"reconnects"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NextChurnKnown reports whether a churn height has been fetched or restored
func (s Snapshot) NextChurnKnown() bool {
	return s.NextChurnHeight > 0
}

// subscriberBuffer is the per-subscriber channel depth
const subscriberBuffer = 8

// publish hands snap to every subscriber. A subscriber that is full loses
// its oldest pending snapshot so it always ends up with the newest one.
func (c *Client) publish(snap *Snapshot) {
	c.snapshot.Store(snap)

	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- *snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- *snap:
		default:
		}
	}
}

// Subscribe returns a channel receiving a snapshot after every state
// change, starting with the current one. The channel is closed by Stop.
func (c *Client) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subsClosed {
		close(ch)
		return ch
	}
	ch <- *c.snapshot.Load()
	c.subs = append(c.subs, ch)
	return ch
}

// Unsubscribe stops delivery to ch and closes it
func (c *Client) Unsubscribe(ch <-chan Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for i, sub := range c.subs {
		if sub == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (c *Client) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.subsClosed = true
}
