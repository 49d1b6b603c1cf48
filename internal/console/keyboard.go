package console

import "github.com/splanck/vana/internal/fsiface"

// BufferSize is the keyboard ring buffer's capacity.
const BufferSize = 256

// Keyboard is a ring-buffer queue decoupling interrupt-time key production
// (Push, called by a keyboard driver's IRQ handler) from consumption
// (ReadByte, called by the getkey syscall). A zero byte is never queued, so
// it doubles as the sentinel an empty slot holds.
type Keyboard struct {
	buf        [BufferSize]byte
	head, tail int
}

// NewKeyboard returns an empty keyboard queue.
func NewKeyboard() *Keyboard { return &Keyboard{} }

// Push appends c to the queue. A zero byte is ignored, matching
// keyboard_push's guard.
func (k *Keyboard) Push(c byte) {
	if c == 0 {
		return
	}
	k.buf[k.tail%BufferSize] = c
	k.tail++
}

// Backspace drops the most recently pushed character, if any.
func (k *Keyboard) Backspace() {
	if k.tail == k.head {
		return
	}
	k.tail--
	k.buf[k.tail%BufferSize] = 0
}

// ReadByte satisfies fsiface.Keyboard: it pops and returns the oldest
// queued character, or ok=false if the queue is empty.
func (k *Keyboard) ReadByte() (byte, bool) {
	i := k.head % BufferSize
	c := k.buf[i]
	if c == 0 {
		return 0, false
	}
	k.buf[i] = 0
	k.head++
	return c, true
}

var _ fsiface.Keyboard = (*Keyboard)(nil)
