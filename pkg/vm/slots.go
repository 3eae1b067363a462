package vm

import "fmt"

// Slots is a method's local variable table. Long and double values occupy two
// consecutive slots; the upper slot is reserved and cannot be read on its own.
type Slots struct {
	cells []Value
}

// NewSlots creates a table with size slots.
func NewSlots(size int) *Slots {
	return &Slots{cells: make([]Value, size)}
}

// Len returns the number of slots.
func (s *Slots) Len() int {
	return len(s.cells)
}

// Get returns the value stored at index.
func (s *Slots) Get(index int) (Value, error) {
	if index < 0 || index >= len(s.cells) {
		return Value{}, fmt.Errorf("%w: local %d (max %d)", ErrIndexOutOfRange, index, len(s.cells))
	}
	v := s.cells[index]
	if v.Type == typeUnusable {
		return Value{}, fmt.Errorf("%w: local %d is part of a wide value", ErrTypeMismatch, index)
	}
	return v, nil
}

// Set stores v at index with the given width (1, or 2 for long and double).
func (s *Slots) Set(index int, v Value, width int) error {
	if width != 1 && width != 2 {
		return fmt.Errorf("%w: invalid slot width %d", ErrTypeMismatch, width)
	}
	if index < 0 || index+width-1 >= len(s.cells) {
		return fmt.Errorf("%w: local %d width %d (max %d)", ErrIndexOutOfRange, index, width, len(s.cells))
	}
	s.release(index)
	if width == 2 {
		s.release(index + 1)
	}
	s.cells[index] = v
	if width == 2 {
		s.cells[index+1] = Value{Type: typeUnusable}
	}
	return nil
}

// release breaks up a wide value whose upper half is slot i so its lower
// half can no longer be read. Overwriting the lower half needs nothing: the
// upper half is already unusable.
func (s *Slots) release(i int) {
	if s.cells[i].Type == typeUnusable && i > 0 && s.cells[i-1].Width() == 2 {
		s.cells[i-1] = Value{Type: typeUnusable}
	}
}
