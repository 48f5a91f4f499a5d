package board

import "slices"

// History holds the active operation log of a room and its undo/redo stacks.
//
// ops is the active log in sequence order. Entries from floor onwards form the
// undo stack; older entries are committed and can no longer be undone. redo holds
// undone operations, most recent last. History is owned by the room goroutine.
type History struct {
	limit int
	ops   []DrawOperation
	floor int
	redo  []DrawOperation
}

// NewHistory creates a History whose undo stack keeps at most limit entries.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit}
}

// RecordApplied appends op to the active log and clears the redo stack.
// Operations dropped from the redo stack are returned.
func (h *History) RecordApplied(op DrawOperation) []DrawOperation {
	h.ops = append(h.ops, op)

	if len(h.ops)-h.floor > h.limit {
		h.floor++
	}

	dropped := h.redo
	h.redo = nil
	return dropped
}

// Undo moves the most recent undoable operation to the redo stack.
func (h *History) Undo() (DrawOperation, bool) {
	if len(h.ops) == h.floor {
		return DrawOperation{}, false
	}

	last := len(h.ops) - 1
	op := h.ops[last]
	h.ops = h.ops[:last]
	h.redo = append(h.redo, op)
	return op, true
}

// Redo re-applies the most recently undone operation with its original sequence number.
func (h *History) Redo() (DrawOperation, bool) {
	if len(h.redo) == 0 {
		return DrawOperation{}, false
	}

	last := len(h.redo) - 1
	op := h.redo[last]
	h.redo = h.redo[:last]
	h.ops = append(h.ops, op)
	return op, true
}

// Active returns a copy of the active log.
func (h *History) Active() []DrawOperation {
	out := make([]DrawOperation, len(h.ops))
	copy(out, h.ops)
	return out
}

// After returns a copy of the active operations whose sequence number is greater than seq.
func (h *History) After(seq uint64) []DrawOperation {
	out := make([]DrawOperation, 0)
	for _, op := range h.ops {
		if op.Seq > seq {
			out = append(out, op)
		}
	}
	return out
}

// Settled reports whether no undo or redo can reach an operation with a sequence
// number at or below seq. The log is in sequence order and undoable entries follow
// the committed ones.
func (h *History) Settled(seq uint64) bool {
	if h.floor < len(h.ops) && h.ops[h.floor].Seq <= seq {
		return false
	}
	for _, op := range h.redo {
		if op.Seq <= seq {
			return false
		}
	}
	return true
}

// Compact drops the committed operations with a sequence number at or below seq
// and returns how many were dropped.
func (h *History) Compact(seq uint64) int {
	k := 0
	for k < h.floor && h.ops[k].Seq <= seq {
		k++
	}
	if k == 0 {
		return 0
	}

	h.ops = slices.Clone(h.ops[k:])
	h.floor -= k
	return k
}

// undoDepth is the number of operations that can still be undone.
func (h *History) undoDepth() int { return len(h.ops) - h.floor }

// redoDepth is the number of operations waiting on the redo stack.
func (h *History) redoDepth() int { return len(h.redo) }
