// Package countdown turns block heights into a human countdown to the
// next churn.
package countdown

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	minutesPerDay  = 1440
	minutesPerHour = 60
)

// Remaining is a countdown split into calendar units. Minutes are rounded
// up, so a partial minute still counts as one.
type Remaining struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Split converts a block count into days, hours and minutes at the given
// block time.
func Split(blocks int64, secondsPerBlock float64) Remaining {
	total := float64(blocks) * secondsPerBlock / 60.0

	days := math.Floor(total / minutesPerDay)
	hours := math.Floor((total - days*minutesPerDay) / minutesPerHour)
	minutes := math.Ceil(total - days*minutesPerDay - hours*minutesPerHour)

	return Remaining{Days: int(days), Hours: int(hours), Minutes: int(minutes)}
}

// String renders "3d 4h 12m"
func (r Remaining) String() string {
	return fmt.Sprintf("%dd %dh %dm", r.Days, r.Hours, r.Minutes)
}

// Countdown is everything an observer shows about the next churn.
type Countdown struct {
	CurrentBlockHeight  int64     `json:"currentBlockHeight"`
	NextChurnHeight     int64     `json:"nextChurnHeight"`
	ChurnIntervalBlocks int64     `json:"churnIntervalBlocks"`
	SecondsPerBlock     float64   `json:"secondsPerBlock"`
	Known               bool      `json:"known"`
	BlocksRemaining     int64     `json:"blocksRemaining"`
	Remaining           Remaining `json:"remaining"`
	Interval            Remaining `json:"interval"`
	Progress            float64   `json:"progress"`
	ETA                 time.Time `json:"eta,omitempty"`
}

// Compute derives the countdown at now. Known is false while the next
// churn height is still zero; the remaining fields are then zero too.
func Compute(current, next, interval int64, secondsPerBlock float64, now time.Time) Countdown {
	c := Countdown{
		CurrentBlockHeight:  current,
		NextChurnHeight:     next,
		ChurnIntervalBlocks: interval,
		SecondsPerBlock:     secondsPerBlock,
		Known:               next > 0,
		Interval:            Split(interval, secondsPerBlock),
	}
	if !c.Known {
		return c
	}

	c.BlocksRemaining = BlocksRemaining(current, next)
	c.Remaining = Split(c.BlocksRemaining, secondsPerBlock)
	c.Progress = Progress(c.BlocksRemaining, interval)
	c.ETA = now.Add(time.Duration(float64(c.BlocksRemaining) * secondsPerBlock * float64(time.Second)))
	return c
}

// BlocksRemaining is next - current, never negative.
func BlocksRemaining(current, next int64) int64 {
	if next <= current {
		return 0
	}
	return next - current
}

// Progress is the completed fraction of the churn interval, clamped to [0, 1].
func Progress(remaining, interval int64) float64 {
	if interval <= 0 {
		return 0
	}
	p := 1.0 - float64(remaining)/float64(interval)
	return math.Min(math.Max(p, 0), 1)
}

// FormatCount zero pads values below 1000 to two digits
func FormatCount(v int) string {
	if v >= 1000 {
		return strconv.Itoa(v)
	}
	return fmt.Sprintf("%02d", v)
}

// Line renders the countdown on a single line, in calendar units or in
// blocks.
func (c Countdown) Line(blocks bool) string {
	if !c.Known {
		return fmt.Sprintf("block %d | next churn unknown | %.1f sec/block", c.CurrentBlockHeight, c.SecondsPerBlock)
	}
	var left string
	if blocks {
		left = fmt.Sprintf("%s blocks", FormatCount(int(c.BlocksRemaining)))
	} else {
		left = fmt.Sprintf("%s days %s hours %s minutes",
			FormatCount(c.Remaining.Days), FormatCount(c.Remaining.Hours), FormatCount(c.Remaining.Minutes))
	}
	return fmt.Sprintf("%s | %5.1f%% | block %d -> %d | %.1f sec/block",
		left, c.Progress*100, c.CurrentBlockHeight, c.NextChurnHeight, c.SecondsPerBlock)
}
