// Package feed carries the Tendermint NewBlock subscription.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// MessageKind classifies an inbound frame
type MessageKind int

const (
	KindText MessageKind = iota + 1
	KindBinary
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is one inbound subscription frame.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Conn is a live subscription. Next blocks until a frame arrives or the
// connection fails; there is no read deadline.
type Conn interface {
	Next() (Message, error)
	Close() error
}

// Dialer opens subscriptions. The returned Conn has already sent the
// subscribe request.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ErrNoBlockHeight is returned when a frame carries no usable header height
var ErrNoBlockHeight = errors.New("no block height in message")

type newBlockEvent struct {
	Result *struct {
		Data *struct {
			Value *struct {
				Block *struct {
					Header *struct {
						Height json.RawMessage `json:"height"`
					} `json:"header"`
				} `json:"block"`
			} `json:"value"`
		} `json:"data"`
	} `json:"result"`
}

// ParseBlockHeight extracts result.data.value.block.header.height, which
// Tendermint encodes as a decimal string. The subscribe acknowledgement
// and any other frame without that path yield ErrNoBlockHeight.
func ParseBlockHeight(data []byte) (int64, error) {
	var ev newBlockEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoBlockHeight, err)
	}

	r := ev.Result
	if r == nil || r.Data == nil || r.Data.Value == nil || r.Data.Value.Block == nil ||
		r.Data.Value.Block.Header == nil || r.Data.Value.Block.Header.Height == nil {
		return 0, ErrNoBlockHeight
	}

	var raw string
	if err := json.Unmarshal(r.Data.Value.Block.Header.Height, &raw); err != nil {
		return 0, fmt.Errorf("%w: height is not a string", ErrNoBlockHeight)
	}

	height, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || height < 0 {
		return 0, fmt.Errorf("%w: invalid height %q", ErrNoBlockHeight, raw)
	}
	return height, nil
}
