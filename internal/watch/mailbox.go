package watch

// Mailbox is a single-slot channel where the latest value wins. Put never
// blocks; an unread value is replaced.
type Mailbox[T any] struct {
	ch chan T
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// Put stores v, dropping any value not yet received.
func (m *Mailbox[T]) Put(v T) {
	for {
		select {
		case m.ch <- v:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// C returns the receive side.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}
