package board

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchsync/internal/pkg/errs"
)

func TestUndoRedoIsSharedAcrossMembers(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	b := NewBroadcaster(reg)
	coord := NewCoordinator(reg)
	ctx := context.Background()

	a, c := &fakePeer{}, &fakePeer{}
	resA := join(t, reg, "R1", "ana", a)
	resC := join(t, reg, "R1", "cy", c)

	draw(t, b, "R1", resA.Participant.ID, "")
	draw(t, b, "R1", resA.Participant.ID, "")
	a.reset()
	c.reset()

	payload, applied, err := coord.Undo(ctx, "R1", resC.Participant.ID)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, uint64(2), payload.Operation.Seq, "undo is global: the last operation goes, whoever drew it")
	assert.Equal(t, []uint64{1}, seqs(payload.Operations))
	assert.Equal(t, uint64(1), payload.HistoryRevision)

	for _, p := range []*fakePeer{a, c} {
		undos := p.ofType(EventUndo)
		require.Len(t, undos, 1, "undo results reach every member, the requester included")
		assert.Equal(t, uint64(2), undos[0].Seq)
	}

	payload, applied, err = coord.Redo(ctx, "R1", resA.Participant.ID)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, uint64(2), payload.Operation.Seq, "redo restores the original sequence number")
	assert.Equal(t, []uint64{1, 2}, seqs(payload.Operations))
	assert.Len(t, c.ofType(EventRedo), 1)
}

func TestNewOperationAfterUndoNeverReusesSequence(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	b := NewBroadcaster(reg)
	coord := NewCoordinator(reg)
	ctx := context.Background()
	res := join(t, reg, "R1", "ana", &fakePeer{})

	draw(t, b, "R1", res.Participant.ID, "")
	draw(t, b, "R1", res.Participant.ID, "")
	_, _, err := coord.Undo(ctx, "R1", res.Participant.ID)
	require.NoError(t, err)

	op := draw(t, b, "R1", res.Participant.ID, "")
	assert.Equal(t, uint64(3), op.Seq)

	_, applied, err := coord.Redo(ctx, "R1", res.Participant.ID)
	require.NoError(t, err)
	assert.False(t, applied, "a new operation clears the redo stack")

	canvas, err := NewSnapshots(reg).Request(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, seqs(canvas.Operations))
}

func TestUndoOnEmptyHistoryIsSilent(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	coord := NewCoordinator(reg)
	peer := &fakePeer{}
	res := join(t, reg, "R1", "ana", peer)
	peer.reset()

	_, applied, err := coord.Undo(context.Background(), "R1", res.Participant.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	_, applied, err = coord.Redo(context.Background(), "R1", res.Participant.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Empty(t, peer.messages())
}

func TestRequestWithoutBlobReturnsEveryOperation(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	b := NewBroadcaster(reg)
	res := join(t, reg, "R1", "ana", &fakePeer{})

	for range 3 {
		draw(t, b, "R1", res.Participant.ID, "")
	}

	canvas, err := NewSnapshots(reg).Request(context.Background(), "R1")
	require.NoError(t, err)
	assert.Empty(t, canvas.CanvasData)
	assert.Len(t, canvas.Operations, 3)
	assert.Equal(t, uint64(3), canvas.LastSeq)
	assert.False(t, canvas.Empty())
}

func TestPublishedBlobCoversEarlierOperations(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	b := NewBroadcaster(reg)
	snaps := NewSnapshots(reg)
	ctx := context.Background()
	res := join(t, reg, "R1", "ana", &fakePeer{})

	draw(t, b, "R1", res.Participant.ID, "")
	draw(t, b, "R1", res.Participant.ID, "")
	require.NoError(t, snaps.Publish(ctx, "R1", res.Participant.ID, CanvasUpload{CanvasData: "data:image/png;base64,AAA", Seq: 2}))
	draw(t, b, "R1", res.Participant.ID, "")

	joiner := &fakePeer{}
	join(t, reg, "R1", "bo", joiner)
	canvas := decode[CanvasPayload](t, joiner.messages()[1])
	assert.Equal(t, "data:image/png;base64,AAA", canvas.CanvasData)
	assert.Equal(t, uint64(2), canvas.SnapshotSeq)
	assert.Equal(t, []uint64{3}, seqs(canvas.Operations))
	assert.Equal(t, uint64(3), canvas.LastSeq)
}

func TestStaleSnapshotsAreRejected(t *testing.T) {
	reg := newTestRegistry(t, Options{MaxSnapshotBytes: 32})
	b := NewBroadcaster(reg)
	coord := NewCoordinator(reg)
	snaps := NewSnapshots(reg)
	ctx := context.Background()
	res := join(t, reg, "R1", "ana", &fakePeer{})
	id := res.Participant.ID

	draw(t, b, "R1", id, "")
	draw(t, b, "R1", id, "")

	stale := errs.NewError(errs.ErrSnapshotStale)
	assert.ErrorIs(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "x", Seq: 5}), stale, "ahead of the room")

	require.NoError(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "x", Seq: 2}))
	assert.ErrorIs(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "y", Seq: 1}), stale, "older than the stored blob")

	_, _, err := coord.Undo(ctx, "R1", id)
	require.NoError(t, err)
	assert.ErrorIs(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "y", Seq: 2}), stale, "rendered before the undo")
	assert.NoError(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "y", Seq: 2, HistoryRevision: 1}))

	err = snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: strings.Repeat("z", 33), Seq: 2, HistoryRevision: 1})
	assert.ErrorIs(t, err, errs.NewError(errs.ErrPayloadTooLarge))

	err = snaps.Publish(ctx, "R1", id, CanvasUpload{Seq: 2, HistoryRevision: 1})
	assert.ErrorIs(t, err, errs.NewError(errs.ErrInvalidParams))
}

func TestUndoInsideSnapshotDiscardsBlob(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	b := NewBroadcaster(reg)
	coord := NewCoordinator(reg)
	snaps := NewSnapshots(reg)
	ctx := context.Background()
	res := join(t, reg, "R1", "ana", &fakePeer{})
	id := res.Participant.ID

	draw(t, b, "R1", id, "")
	draw(t, b, "R1", id, "")
	require.NoError(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "blob", Seq: 2}))

	payload, applied, err := coord.Undo(ctx, "R1", id)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Zero(t, payload.SnapshotSeq)
	assert.Equal(t, []uint64{1}, seqs(payload.Operations))

	canvas, err := snaps.Request(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, canvas.CanvasData, "the blob showed an operation that is no longer active")
	assert.Equal(t, []uint64{1}, seqs(canvas.Operations))
}

func TestUndoAfterSnapshotKeepsBlob(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	b := NewBroadcaster(reg)
	snaps := NewSnapshots(reg)
	ctx := context.Background()
	res := join(t, reg, "R1", "ana", &fakePeer{})
	id := res.Participant.ID

	draw(t, b, "R1", id, "")
	require.NoError(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "blob", Seq: 1}))
	draw(t, b, "R1", id, "")

	_, _, err := NewCoordinator(reg).Undo(ctx, "R1", id)
	require.NoError(t, err)

	canvas, err := snaps.Request(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "blob", canvas.CanvasData)
	assert.Empty(t, canvas.Operations)
}

func TestResyncDeliversCanvasInOrder(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	b := NewBroadcaster(reg)
	peer := &fakePeer{}
	res := join(t, reg, "R1", "ana", peer)
	draw(t, b, "R1", res.Participant.ID, "")
	peer.reset()

	canvas, err := NewSnapshots(reg).Resync(context.Background(), "R1", res.Participant.ID)
	require.NoError(t, err)
	assert.Len(t, canvas.Operations, 1)

	require.Len(t, peer.messages(), 1)
	assert.Equal(t, EventCanvasData, peer.messages()[0].Type)
	assert.Equal(t, uint64(1), peer.messages()[0].Seq)

	_, err = NewSnapshots(reg).Request(context.Background(), "gone")
	assert.ErrorIs(t, err, errs.NewError(errs.ErrRoomNotFound))
}

// retainedOps returns the length of the room's operation log.
func retainedOps(t *testing.T, reg *Registry, roomID string) int {
	t.Helper()
	var n int
	require.NoError(t, reg.withRoom(context.Background(), roomID, func(room *Room) error {
		n = len(room.history.ops)
		return nil
	}))
	return n
}

func TestSettledSnapshotCompactsLog(t *testing.T) {
	reg := newTestRegistry(t, Options{HistoryLimit: 2})
	b := NewBroadcaster(reg)
	snaps := NewSnapshots(reg)
	ctx := context.Background()
	res := join(t, reg, "R1", "ana", &fakePeer{})
	id := res.Participant.ID

	for range 100 {
		draw(t, b, "R1", id, "")
	}
	require.NoError(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "blob-100", Seq: 100}))
	assert.Equal(t, 100, retainedOps(t, reg, "R1"), "operations 99 and 100 can still be undone")

	for range 10 {
		draw(t, b, "R1", id, "")
	}
	assert.Equal(t, 10, retainedOps(t, reg, "R1"))

	joiner := &fakePeer{}
	join(t, reg, "R1", "bo", joiner)
	canvas := decode[CanvasPayload](t, joiner.messages()[1])
	assert.Equal(t, "blob-100", canvas.CanvasData)
	assert.Equal(t, uint64(100), canvas.SnapshotSeq)
	assert.Len(t, canvas.Operations, 10)
	assert.Equal(t, uint64(110), canvas.LastSeq)
}

func TestUndoAfterCompactionFallsBackToSettledSnapshot(t *testing.T) {
	reg := newTestRegistry(t, Options{HistoryLimit: 2})
	b := NewBroadcaster(reg)
	coord := NewCoordinator(reg)
	snaps := NewSnapshots(reg)
	ctx := context.Background()
	res := join(t, reg, "R1", "ana", &fakePeer{})
	id := res.Participant.ID

	for range 5 {
		draw(t, b, "R1", id, "")
	}
	require.NoError(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "blob-3", Seq: 3}))
	require.Equal(t, 2, retainedOps(t, reg, "R1"))

	require.NoError(t, snaps.Publish(ctx, "R1", id, CanvasUpload{CanvasData: "blob-5", Seq: 5}))

	payload, applied, err := coord.Undo(ctx, "R1", id)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, uint64(3), payload.SnapshotSeq)
	assert.Equal(t, []uint64{4}, seqs(payload.Operations))

	canvas, err := snaps.Request(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "blob-3", canvas.CanvasData, "the newer blob showed the undone operation")
	assert.Equal(t, []uint64{4}, seqs(canvas.Operations))
}
