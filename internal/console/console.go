// Package console is the VGA text-mode console and the keyboard input
// queue syscall commands 1-3 (print/getkey/putchar) read and write
// through.
package console

// Width and Height are the classic 80x25 VGA text mode dimensions.
const (
	Width  = 80
	Height = 25
)

// DefaultColor is the attribute byte print/putchar use when no other
// color is specified: white on black.
const DefaultColor uint8 = 15

// cell packs an ASCII byte and its colour attribute into one VGA text-mode
// entry: attribute in the high byte, character in the low byte.
func cell(c byte, color uint8) uint16 { return uint16(color)<<8 | uint16(c) }

// Console is a software stand-in for the 0xB8000 VGA text buffer plus the
// cursor state terminal_writechar tracks.
type Console struct {
	cells    [Width * Height]uint16
	row, col int
}

// New returns a cleared console with the cursor at the origin.
func New() *Console {
	c := &Console{}
	c.Clear()
	return c
}

// Clear blanks every cell and resets the cursor, mirroring
// terminal_initialize.
func (c *Console) Clear() {
	for i := range c.cells {
		c.cells[i] = cell(' ', 0)
	}
	c.row, c.col = 0, 0
}

// PutCharAt writes c directly into the cell at (x, y), unchecked.
func (c *Console) PutCharAt(x, y int, ch byte, color uint8) {
	c.cells[y*Width+x] = cell(ch, color)
}

// Backspace moves the cursor back one cell, wrapping to the previous row,
// and blanks the cell it lands on.
func (c *Console) Backspace() {
	if c.row == 0 && c.col == 0 {
		return
	}
	if c.col == 0 {
		c.row--
		c.col = Width
	}
	c.col--
	c.PutCharAt(c.col, c.row, ' ', DefaultColor)
}

// scrollUp shifts every row up by one, dropping row 0, and blanks the row
// left behind at the bottom.
func (c *Console) scrollUp() {
	copy(c.cells[:], c.cells[Width:])
	for i := (Height - 1) * Width; i < Height*Width; i++ {
		c.cells[i] = cell(' ', 0)
	}
}

// advanceRow moves the cursor to the next row, scrolling the whole console
// up when that would run past the last row. The cursor's row is always left
// within [0, Height) afterward.
func (c *Console) advanceRow() {
	c.row++
	if c.row >= Height {
		c.scrollUp()
		c.row = Height - 1
	}
}

// WriteChar writes one character at the cursor and advances it, wrapping
// lines and scrolling the way terminal_writechar does: newline moves to the
// next row, 0x08 backspaces, everything else is placed and the cursor steps
// forward, wrapping to a new row past the last column. Either kind of
// row advance scrolls once the cursor would pass the last row.
func (c *Console) WriteChar(ch byte, color uint8) {
	switch ch {
	case '\n':
		c.advanceRow()
		c.col = 0
		return
	case 0x08:
		c.Backspace()
		return
	}

	c.PutCharAt(c.col, c.row, ch, color)
	c.col++
	if c.col >= Width {
		c.col = 0
		c.advanceRow()
	}
}

// WriteString writes every byte of s in order.
func (c *Console) WriteString(s string, color uint8) {
	for i := 0; i < len(s); i++ {
		c.WriteChar(s[i], color)
	}
}

// Cursor returns the current column and row, mainly for tests.
func (c *Console) Cursor() (col, row int) { return c.col, c.row }

// CellAt returns the raw packed cell at (x, y), mainly for tests.
func (c *Console) CellAt(x, y int) uint16 { return c.cells[y*Width+x] }
