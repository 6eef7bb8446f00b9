package store

// WriteBatch accumulates puts and deletes in memory and applies them to the
// store as a single atomic unit. A batch is owned by one goroutine.
type WriteBatch struct {
	db   *DB
	ops  []Op
	sync bool
}

// BatchOption configures a WriteBatch or CancelableWriteBatch.
type BatchOption func(*WriteBatch)

// WithSync makes every write of the batch durable before it returns, even
// when the store was opened without sync.
func WithSync(sync bool) BatchOption {
	return func(b *WriteBatch) { b.sync = sync }
}

func newWriteBatch(db *DB, opts ...BatchOption) *WriteBatch {
	b := &WriteBatch{db: db}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Put records key=value. Key and value are copied.
func (b *WriteBatch) Put(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	b.ops = append(b.ops, Op{
		Kind:  OpPut,
		Key:   append([]byte(nil), key...),
		Value: CloneValue(value),
	})
	return nil
}

// Delete records the removal of key.
func (b *WriteBatch) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b.ops = append(b.ops, Op{
		Kind: OpDelete,
		Key:  append([]byte(nil), key...),
	})
	return nil
}

// Write applies every recorded op atomically. The ops are kept after a
// successful write, so a second Write applies them again; call Clear
// between logical batches. On failure the ops are left intact for a retry.
func (b *WriteBatch) Write() error {
	if len(b.ops) == 0 {
		return nil
	}
	return b.db.apply(b.ops, b.sync)
}

// Clear drops all recorded ops without touching the store.
func (b *WriteBatch) Clear() {
	b.ops = b.ops[:0]
}

// Len returns the number of recorded ops.
func (b *WriteBatch) Len() int {
	return len(b.ops)
}
