package store

import (
	"errors"

	"github.com/google/uuid"
)

// BatchState is the lifecycle position of a CancelableWriteBatch.
type BatchState uint8

const (
	StateEmpty BatchState = iota
	StateAccumulating
	StateWritten
	StateCanceled
	StateDiscarded
)

func (s BatchState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateWritten:
		return "written"
	case StateCanceled:
		return "canceled"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

func (s BatchState) terminal() bool {
	return s == StateCanceled || s == StateDiscarded
}

// CancelableWriteBatch is a WriteBatch that can be rolled back after it was
// written. Before a key is first mutated its current value (or absence) is
// read through a snapshot opened when the batch was created and kept in a
// restore record; Cancel writes those originals back atomically.
//
// Concurrent writers touching the same keys between the touch and the
// write or cancel are not detected.
type CancelableWriteBatch struct {
	id     uuid.UUID
	batch  *WriteBatch
	snap   Snapshot
	snapH  *handle
	record *restoreRecord
	state  BatchState
}

func newCancelableWriteBatch(db *DB, snap Snapshot, h *handle, opts ...BatchOption) *CancelableWriteBatch {
	return &CancelableWriteBatch{
		id:     uuid.New(),
		batch:  newWriteBatch(db, opts...),
		snap:   snap,
		snapH:  h,
		record: newRestoreRecord(),
	}
}

// ID identifies the batch in logs.
func (b *CancelableWriteBatch) ID() uuid.UUID {
	return b.id
}

func (b *CancelableWriteBatch) State() BatchState {
	return b.state
}

// Len returns the number of recorded ops.
func (b *CancelableWriteBatch) Len() int {
	return b.batch.Len()
}

// Original reports what key held before the batch first touched it.
// touched is false when the batch never touched key.
func (b *CancelableWriteBatch) Original(key []byte) (value []byte, present, touched bool) {
	c, ok := b.record.get(key)
	if !ok {
		return nil, false, false
	}
	if !c.present {
		return nil, false, true
	}
	return CloneValue(c.value), true, true
}

func (b *CancelableWriteBatch) Put(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	if err := b.mutable("put"); err != nil {
		return err
	}
	if err := b.batch.db.check(); err != nil {
		return err
	}
	if err := b.touch(key); err != nil {
		return err
	}
	if err := b.batch.Put(key, value); err != nil {
		return err
	}
	b.state = StateAccumulating
	return nil
}

func (b *CancelableWriteBatch) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := b.mutable("delete"); err != nil {
		return err
	}
	if err := b.batch.db.check(); err != nil {
		return err
	}
	if err := b.touch(key); err != nil {
		return err
	}
	if err := b.batch.Delete(key); err != nil {
		return err
	}
	b.state = StateAccumulating
	return nil
}

func (b *CancelableWriteBatch) mutable(op string) error {
	switch b.state {
	case StateEmpty, StateAccumulating:
		return nil
	default:
		return invalidState("%s on %s batch", op, b.state)
	}
}

// touch captures the pre-batch state of key once.
func (b *CancelableWriteBatch) touch(key []byte) error {
	if b.record.has(key) {
		return nil
	}
	var v []byte
	err := b.batch.db.guard(func() (err error) {
		v, err = b.snap.Get(key)
		return err
	})
	switch {
	case err == nil:
		b.record.add(key, v, true)
	case errors.Is(err, ErrNotFound):
		b.record.add(key, nil, false)
	default:
		return b.batch.db.wrap("snapshot get", err)
	}
	return nil
}

// Write applies the recorded ops atomically. Writing an already written
// batch applies the same ops again.
func (b *CancelableWriteBatch) Write() error {
	if b.state.terminal() {
		return invalidState("write on %s batch", b.state)
	}
	if err := b.batch.Write(); err != nil {
		return err
	}
	b.state = StateWritten
	logger.Debug("cancelable batch written", "batch", b.id, "ops", b.batch.Len(), "touched", b.record.len())
	return nil
}

// Cancel restores every touched key to its original state in one atomic
// apply, then releases the snapshot. It is only valid after Write. If the
// apply fails the restore record is kept so Cancel can be retried.
func (b *CancelableWriteBatch) Cancel() error {
	if b.state != StateWritten {
		return invalidState("cancel on %s batch", b.state)
	}
	restore := b.record.ops()
	if len(restore) > 0 {
		if err := b.batch.db.apply(restore, b.batch.sync); err != nil {
			logger.Warn("cancel failed", "batch", b.id, "keys", len(restore), "err", err)
			return err
		}
	}
	logger.Debug("cancelable batch canceled", "batch", b.id, "restored", len(restore))

	b.state = StateCanceled
	b.record.reset()
	b.batch.Clear()
	return b.releaseSnapshot()
}

// Clear drops the recorded ops and restore record. A written batch keeps
// its rollback capability until Cancel or Close, so Clear is refused there.
func (b *CancelableWriteBatch) Clear() error {
	if err := b.mutable("clear"); err != nil {
		return err
	}
	b.batch.Clear()
	b.record.reset()
	b.state = StateEmpty
	return nil
}

// Close gives up the rollback capability without restoring anything.
// Closing a canceled or already closed batch is a no-op.
func (b *CancelableWriteBatch) Close() error {
	if b.state.terminal() {
		return nil
	}
	b.state = StateDiscarded
	b.record.reset()
	b.batch.Clear()
	return b.releaseSnapshot()
}

func (b *CancelableWriteBatch) releaseSnapshot() error {
	return b.batch.db.wrap("release snapshot", b.batch.db.release(b.snapH))
}
