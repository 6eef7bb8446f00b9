package store

// restoreRecord maps every key a cancelable batch touched to the value it
// held before the first touch. Insertion order is kept so the restore ops
// are deterministic.
type restoreRecord struct {
	order   []string
	entries map[string]cachedValue
}

func newRestoreRecord() *restoreRecord {
	return &restoreRecord{entries: make(map[string]cachedValue)}
}

func (r *restoreRecord) has(key []byte) bool {
	_, ok := r.entries[string(key)]
	return ok
}

// add records the original state of key. First touch wins: later calls for
// the same key are ignored and report false.
func (r *restoreRecord) add(key, value []byte, present bool) bool {
	k := string(key)
	if _, ok := r.entries[k]; ok {
		return false
	}
	c := cachedValue{present: present}
	if present {
		c.value = CloneValue(value)
	}
	r.entries[k] = c
	r.order = append(r.order, k)
	return true
}

func (r *restoreRecord) get(key []byte) (cachedValue, bool) {
	c, ok := r.entries[string(key)]
	return c, ok
}

// ops builds the mutations that put every touched key back. Keys that were
// absent are deleted rather than overwritten with a sentinel.
func (r *restoreRecord) ops() []Op {
	ops := make([]Op, 0, len(r.order))
	for _, k := range r.order {
		c := r.entries[k]
		if c.present {
			ops = append(ops, Op{Kind: OpPut, Key: []byte(k), Value: CloneValue(c.value)})
		} else {
			ops = append(ops, Op{Kind: OpDelete, Key: []byte(k)})
		}
	}
	return ops
}

func (r *restoreRecord) len() int {
	return len(r.order)
}

func (r *restoreRecord) reset() {
	r.order = nil
	r.entries = make(map[string]cachedValue)
}
