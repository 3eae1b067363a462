package vm

import "fmt"

// OperandStack is a bounded LIFO of values; its capacity comes from the
// method's max_stack and never changes. Long and double values take a single
// entry.
type OperandStack struct {
	values []Value
	sp     int
}

// NewOperandStack creates an empty stack holding at most capacity values.
func NewOperandStack(capacity int) *OperandStack {
	return &OperandStack{values: make([]Value, capacity)}
}

// Push pushes a value onto the operand stack.
func (s *OperandStack) Push(v Value) error {
	if s.sp >= len(s.values) {
		return fmt.Errorf("%w: operand stack full (max %d)", ErrStackOverflow, len(s.values))
	}
	s.values[s.sp] = v
	s.sp++
	return nil
}

// Pop pops a value from the operand stack.
func (s *OperandStack) Pop() (Value, error) {
	if s.sp <= 0 {
		return Value{}, fmt.Errorf("%w: operand stack empty", ErrStackUnderflow)
	}
	s.sp--
	v := s.values[s.sp]
	s.values[s.sp] = Value{}
	return v, nil
}

// Peek returns the top value without removing it.
func (s *OperandStack) Peek() (Value, error) {
	if s.sp <= 0 {
		return Value{}, fmt.Errorf("%w: operand stack empty", ErrStackUnderflow)
	}
	return s.values[s.sp-1], nil
}

// Len returns the number of values on the stack.
func (s *OperandStack) Len() int { return s.sp }

// Cap returns the declared capacity.
func (s *OperandStack) Cap() int { return len(s.values) }
