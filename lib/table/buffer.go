package table

// WriteBuffer implements the auto-flush contract of ITable for backends.
// While auto-flush is enabled every write is handed to the send function
// immediately, otherwise puts are collected until Flush is called.
//
// Thread-safety: not thread-safe, like the handle that embeds it.
type WriteBuffer struct {
	manual  bool // true if auto-flush is disabled
	pending []Put
	send    func(puts []Put) error
}

// NewWriteBuffer creates a buffer with auto-flush enabled.
func NewWriteBuffer(send func(puts []Put) error) *WriteBuffer {
	return &WriteBuffer{send: send}
}

// SetAutoFlush toggles auto-flush. Enabling it does not flush pending writes.
func (b *WriteBuffer) SetAutoFlush(enabled bool) {
	b.manual = !enabled
}

// AutoFlush reports whether auto-flush is enabled.
func (b *WriteBuffer) AutoFlush() bool {
	return !b.manual
}

// Add sends or buffers the puts depending on the auto-flush setting.
func (b *WriteBuffer) Add(puts ...Put) error {
	if len(puts) == 0 {
		return nil
	}
	if !b.manual {
		return b.send(puts)
	}
	b.pending = append(b.pending, puts...)
	return nil
}

// Pending returns the number of buffered puts.
func (b *WriteBuffer) Pending() int {
	return len(b.pending)
}

// Flush sends all buffered puts. The buffer is emptied even if sending fails,
// the store may have applied a subset of the writes in that case.
func (b *WriteBuffer) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	puts := b.pending
	b.pending = nil
	return b.send(puts)
}

// Discard drops all buffered puts.
func (b *WriteBuffer) Discard() {
	b.pending = nil
}
