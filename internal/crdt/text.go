// Package crdt applies positional text edits against a drift-tracking BIT
// session, rebasing client positions onto the current document.
package crdt

import (
	"github.com/fruitsalade/volumefs/internal/bit"
)

// OpKind discriminates text operations.
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
)

// Op is a single positional edit. At is the position in the document as the
// client saw it when its session began; the server rebases it. Text is set
// for inserts, Length for deletes. Positions count runes.
type Op struct {
	Kind   OpKind
	At     int
	Text   string
	Length int
}

// Apply runs ops left to right against doc, rebasing each position through
// drift. On success the drift mutations are retained so later edits against
// the same session see the accumulated offsets, and the new document is
// returned with ok=true. If any op rebases to a negative offset the drift
// mutations are rolled back in reverse and the original document is returned
// with ok=false.
func Apply(doc string, ops []Op, drift *bit.Tree) (string, bool) {
	runes := []rune(doc)

	type mutation struct {
		at    int
		delta int64
	}
	var applied []mutation

	rollback := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			drift.Update(applied[i].at, -applied[i].delta)
		}
	}

	for _, op := range ops {
		off := int(drift.RangeQuery(0, op.At)) + op.At
		if off < 0 {
			rollback()
			return doc, false
		}
		if off > len(runes) {
			off = len(runes)
		}

		switch op.Kind {
		case OpInsert:
			ins := []rune(op.Text)
			next := make([]rune, 0, len(runes)+len(ins))
			next = append(next, runes[:off]...)
			next = append(next, ins...)
			next = append(next, runes[off:]...)
			runes = next
			drift.Update(op.At, int64(len(ins)))
			applied = append(applied, mutation{op.At, int64(len(ins))})

		case OpDelete:
			n := op.Length
			if n > len(runes)-off {
				n = len(runes) - off
			}
			if n > 0 {
				runes = append(runes[:off], runes[off+n:]...)
			}
			drift.Update(op.At, -int64(op.Length))
			applied = append(applied, mutation{op.At, -int64(op.Length)})
		}
	}

	return string(runes), true
}
