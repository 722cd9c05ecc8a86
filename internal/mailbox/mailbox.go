// Package mailbox implements the per-tick message box handed to the
// controller: an ordered multiset of protocol messages. The driver fills an
// inbound box from the plant's sensor bundle, the controller drains it and
// fills an outbound box; neither box outlives its tick.
package mailbox

import (
	"errors"
	"fmt"

	"github.com/mbarbier/steamboiler/internal/protocol"
)

// ErrMissing is returned by ExtractUnique when no message of the requested
// kind (and pump index, for addressed kinds) is present.
var ErrMissing = errors.New("mailbox: no such message")

// Box is an ordered multiset of messages.
type Box struct {
	msgs []protocol.Message
}

// New creates a box preloaded with the given messages, preserving order.
func New(msgs ...protocol.Message) *Box {
	b := &Box{msgs: make([]protocol.Message, len(msgs))}
	copy(b.msgs, msgs)
	return b
}

// Send appends a message.
func (b *Box) Send(msg protocol.Message) {
	b.msgs = append(b.msgs, msg)
}

// Len returns the number of messages currently held.
func (b *Box) Len() int { return len(b.msgs) }

// Messages returns the held messages in order. The slice is a copy.
func (b *Box) Messages() []protocol.Message {
	out := make([]protocol.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// ExtractUnique removes and returns the single message of the given kind.
// It returns ErrMissing when none is present, and an error when more than
// one is present (the plant sends at most one per sensor kind per tick, so a
// duplicate is a transmission fault).
func (b *Box) ExtractUnique(kind protocol.Kind) (protocol.Message, error) {
	found := -1
	for i, m := range b.msgs {
		if m.Kind != kind {
			continue
		}
		if found >= 0 {
			return protocol.Message{}, fmt.Errorf("mailbox: duplicate %q message", kind)
		}
		found = i
	}
	if found < 0 {
		return protocol.Message{}, fmt.Errorf("%w: %q", ErrMissing, kind)
	}
	msg := b.msgs[found]
	b.msgs = append(b.msgs[:found], b.msgs[found+1:]...)
	return msg, nil
}

// ExtractUniqueFor removes and returns the single message of the given kind
// addressed to one pump. Same multiplicity rules as ExtractUnique.
func (b *Box) ExtractUniqueFor(kind protocol.Kind, pump int) (protocol.Message, error) {
	found := -1
	for i, m := range b.msgs {
		if m.Kind != kind || m.Pump != pump {
			continue
		}
		if found >= 0 {
			return protocol.Message{}, fmt.Errorf("mailbox: duplicate %q message for pump %d", kind, pump)
		}
		found = i
	}
	if found < 0 {
		return protocol.Message{}, fmt.Errorf("%w: %q pump %d", ErrMissing, kind, pump)
	}
	msg := b.msgs[found]
	b.msgs = append(b.msgs[:found], b.msgs[found+1:]...)
	return msg, nil
}

// ExtractAllOfKind removes and returns every message of the given kind, in
// arrival order.
func (b *Box) ExtractAllOfKind(kind protocol.Kind) []protocol.Message {
	var out []protocol.Message
	rest := b.msgs[:0]
	for _, m := range b.msgs {
		if m.Kind == kind {
			out = append(out, m)
		} else {
			rest = append(rest, m)
		}
	}
	b.msgs = rest
	return out
}
