package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(seq uint64) DrawOperation {
	return DrawOperation{Seq: seq, Kind: KindStroke, Event: EventDraw}
}

func TestHistoryUndoRedo(t *testing.T) {
	h := NewHistory(10)
	h.RecordApplied(op(1))
	h.RecordApplied(op(2))

	undone, ok := h.Undo()
	require.True(t, ok)
	assert.Equal(t, uint64(2), undone.Seq)
	assert.Equal(t, []uint64{1}, seqs(h.Active()))
	assert.Equal(t, 1, h.redoDepth())

	redone, ok := h.Redo()
	require.True(t, ok)
	assert.Equal(t, uint64(2), redone.Seq)
	assert.Equal(t, []uint64{1, 2}, seqs(h.Active()))
	assert.Equal(t, 0, h.redoDepth())
}

func TestHistoryEmptyStacksAreNoOps(t *testing.T) {
	h := NewHistory(10)

	_, ok := h.Undo()
	assert.False(t, ok)
	_, ok = h.Redo()
	assert.False(t, ok)

	h.RecordApplied(op(1))
	h.Undo()

	_, ok = h.Undo()
	assert.False(t, ok)
	assert.Equal(t, 1, h.redoDepth(), "a no-op undo leaves the redo stack alone")
}

func TestHistoryNewOperationClearsRedo(t *testing.T) {
	h := NewHistory(10)
	h.RecordApplied(op(1))
	h.RecordApplied(op(2))
	h.Undo()

	dropped := h.RecordApplied(op(3))
	assert.Equal(t, []uint64{2}, seqs(dropped))
	assert.Equal(t, 0, h.redoDepth())
	assert.Equal(t, []uint64{1, 3}, seqs(h.Active()))

	_, ok := h.Redo()
	assert.False(t, ok)
}

func TestHistoryLimitCommitsOldOperations(t *testing.T) {
	h := NewHistory(2)
	for seq := uint64(1); seq <= 4; seq++ {
		h.RecordApplied(op(seq))
	}
	assert.Equal(t, 2, h.undoDepth())

	h.Undo()
	h.Undo()
	_, ok := h.Undo()
	assert.False(t, ok, "operations beyond the limit are committed")
	assert.Equal(t, []uint64{1, 2}, seqs(h.Active()))

	h.Redo()
	h.Redo()
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs(h.Active()))
}

func TestHistoryAfter(t *testing.T) {
	h := NewHistory(10)
	for seq := uint64(1); seq <= 3; seq++ {
		h.RecordApplied(op(seq))
	}

	assert.Equal(t, []uint64{1, 2, 3}, seqs(h.After(0)))
	assert.Equal(t, []uint64{3}, seqs(h.After(2)))
	assert.Empty(t, h.After(3))
	assert.NotNil(t, h.After(3))
}

func TestHistoryCompactKeepsUndoableOperations(t *testing.T) {
	h := NewHistory(2)
	for seq := uint64(1); seq <= 5; seq++ {
		h.RecordApplied(op(seq))
	}

	assert.False(t, h.Settled(4), "operation 4 can still be undone")
	assert.True(t, h.Settled(3))

	assert.Equal(t, 3, h.Compact(3))
	assert.Equal(t, []uint64{4, 5}, seqs(h.Active()))
	assert.Equal(t, 2, h.undoDepth())

	assert.Zero(t, h.Compact(5), "undoable operations are never dropped")

	h.Undo()
	h.Undo()
	_, ok := h.Undo()
	assert.False(t, ok)
	assert.Empty(t, h.Active())
	assert.False(t, h.Settled(4), "undone operations can be redone")

	h.Redo()
	assert.Equal(t, []uint64{4}, seqs(h.Active()))
}
