package console

import "testing"

func TestWriteCharAdvancesCursorAndWraps(t *testing.T) {
	c := New()
	c.WriteChar('A', DefaultColor)
	col, row := c.Cursor()
	if col != 1 || row != 0 {
		t.Fatalf("Cursor() = (%d,%d), want (1,0)", col, row)
	}
	if got := c.CellAt(0, 0); got != cell('A', DefaultColor) {
		t.Fatalf("CellAt(0,0) = %#x, want %#x", got, cell('A', DefaultColor))
	}

	for i := 0; i < Width-1; i++ {
		c.WriteChar('x', DefaultColor)
	}
	col, row = c.Cursor()
	if col != 0 || row != 1 {
		t.Fatalf("Cursor() after filling a row = (%d,%d), want (0,1)", col, row)
	}
}

func TestWriteCharNewline(t *testing.T) {
	c := New()
	c.WriteChar('a', DefaultColor)
	c.WriteChar('\n', DefaultColor)
	col, row := c.Cursor()
	if col != 0 || row != 1 {
		t.Fatalf("Cursor() after newline = (%d,%d), want (0,1)", col, row)
	}
}

func TestBackspaceClearsPreviousCell(t *testing.T) {
	c := New()
	c.WriteString("ab", DefaultColor)
	c.WriteChar(0x08, DefaultColor)
	col, row := c.Cursor()
	if col != 1 || row != 0 {
		t.Fatalf("Cursor() after backspace = (%d,%d), want (1,0)", col, row)
	}
	if got := c.CellAt(1, 0); got != cell(' ', DefaultColor) {
		t.Fatalf("CellAt(1,0) after backspace = %#x, want blank", got)
	}
}

func TestBackspaceAtOriginIsNoop(t *testing.T) {
	c := New()
	c.Backspace()
	col, row := c.Cursor()
	if col != 0 || row != 0 {
		t.Fatalf("Cursor() = (%d,%d), want (0,0)", col, row)
	}
}

func TestClearResetsEveryCellAndCursor(t *testing.T) {
	c := New()
	c.WriteString("hello\n", DefaultColor)
	c.Clear()
	col, row := c.Cursor()
	if col != 0 || row != 0 {
		t.Fatalf("Cursor() after Clear = (%d,%d), want (0,0)", col, row)
	}
	if got := c.CellAt(0, 0); got != cell(' ', 0) {
		t.Fatalf("CellAt(0,0) after Clear = %#x, want blank", got)
	}
}

func TestWriteCharScrollsPastLastRow(t *testing.T) {
	c := New()
	for row := 0; row < Height; row++ {
		c.WriteChar(byte('0'+row%10), DefaultColor)
		c.WriteChar('\n', DefaultColor)
	}
	col, row := c.Cursor()
	if col != 0 || row != Height-1 {
		t.Fatalf("Cursor() after filling every row = (%d,%d), want (0,%d)", col, row, Height-1)
	}

	// Row 0's content ('0') was pushed off the top; row 1's content ('1')
	// is now at row 0.
	if got := c.CellAt(0, 0); got != cell('1', DefaultColor) {
		t.Fatalf("CellAt(0,0) after scroll = %#x, want %#x", got, cell('1', DefaultColor))
	}
	if got := c.CellAt(0, Height-1); got != cell(' ', 0) {
		t.Fatalf("CellAt(0,Height-1) after scroll = %#x, want blank", got)
	}
}

func TestWriteCharScrollByColumnWrapPastLastRow(t *testing.T) {
	c := New()
	for row := 0; row < Height; row++ {
		for col := 0; col < Width; col++ {
			c.WriteChar('x', DefaultColor)
		}
	}
	col, row := c.Cursor()
	if col != 0 || row != Height-1 {
		t.Fatalf("Cursor() after wrapping every row = (%d,%d), want (0,%d)", col, row, Height-1)
	}
	// The last full row of 'x's was shifted up by the scroll that made room
	// for the new (blank) bottom row.
	if got := c.CellAt(Width-1, Height-2); got != cell('x', DefaultColor) {
		t.Fatalf("CellAt(Width-1,Height-2) after scroll = %#x, want 'x'", got)
	}
	if got := c.CellAt(Width-1, Height-1); got != cell(' ', 0) {
		t.Fatalf("CellAt(Width-1,Height-1) after scroll = %#x, want blank", got)
	}
}

func TestKeyboardQueueFIFO(t *testing.T) {
	k := NewKeyboard()
	k.Push('h')
	k.Push('i')

	if b, ok := k.ReadByte(); !ok || b != 'h' {
		t.Fatalf("ReadByte() = (%q,%v), want ('h',true)", b, ok)
	}
	if b, ok := k.ReadByte(); !ok || b != 'i' {
		t.Fatalf("ReadByte() = (%q,%v), want ('i',true)", b, ok)
	}
	if _, ok := k.ReadByte(); ok {
		t.Fatal("ReadByte() on empty queue returned ok=true")
	}
}

func TestKeyboardPushIgnoresZeroByte(t *testing.T) {
	k := NewKeyboard()
	k.Push(0)
	if _, ok := k.ReadByte(); ok {
		t.Fatal("ReadByte() after pushing a zero byte returned ok=true")
	}
}

func TestKeyboardBackspaceDropsLastPushed(t *testing.T) {
	k := NewKeyboard()
	k.Push('a')
	k.Push('b')
	k.Backspace()
	if b, ok := k.ReadByte(); !ok || b != 'a' {
		t.Fatalf("ReadByte() after Backspace = (%q,%v), want ('a',true)", b, ok)
	}
	if _, ok := k.ReadByte(); ok {
		t.Fatal("ReadByte() after Backspace should be empty past 'a'")
	}
}
