package vm

import (
	"fmt"

	"github.com/daimatz/stackjvm/pkg/classfile"
)

// Frame represents one in-progress method invocation.
type Frame struct {
	Locals       *Slots
	Stack        *OperandStack
	PC           int
	Code         []byte
	Instructions []*Instruction
	Pool         classfile.ConstantPool
	Class        *Class
	Method       *BytecodeMethod

	returnValue Value
	returnType  classfile.FieldType
	returned    bool

	// initializes is set on a <clinit> frame to the class being initialized.
	initializes *Class
	// onReturn runs when the frame is popped after returning.
	onReturn func()
}

// NewFrame creates a frame for executing method.
func NewFrame(method *BytecodeMethod) *Frame {
	return &Frame{
		Locals:       NewSlots(method.MaxLocals),
		Stack:        NewOperandStack(method.MaxStack),
		Code:         method.Code,
		Instructions: method.Instructions,
		Pool:         method.class.Pool,
		Class:        method.class,
		Method:       method,
	}
}

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v Value) error {
	return f.Stack.Push(v)
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() (Value, error) {
	return f.Stack.Pop()
}

// Peek returns the top of the operand stack.
func (f *Frame) Peek() (Value, error) {
	return f.Stack.Peek()
}

func (f *Frame) popType(t ValueType) (Value, error) {
	v, err := f.Stack.Pop()
	if err != nil {
		return Value{}, err
	}
	if v.Type != t {
		return Value{}, fmt.Errorf("%w: expected %s on operand stack, got %s", ErrTypeMismatch, t, v.Type)
	}
	return v, nil
}

// PopInt pops an int.
func (f *Frame) PopInt() (int32, error) {
	v, err := f.popType(TypeInt)
	return v.Int, err
}

// PopLong pops a long.
func (f *Frame) PopLong() (int64, error) {
	v, err := f.popType(TypeLong)
	return v.Long, err
}

// PopFloat pops a float.
func (f *Frame) PopFloat() (float32, error) {
	v, err := f.popType(TypeFloat)
	return v.Float, err
}

// PopDouble pops a double.
func (f *Frame) PopDouble() (float64, error) {
	v, err := f.popType(TypeDouble)
	return v.Double, err
}

// PopRef pops a reference, which may be null.
func (f *Frame) PopRef() (Value, error) {
	v, err := f.Stack.Pop()
	if err != nil {
		return Value{}, err
	}
	if !v.IsReference() {
		return Value{}, fmt.Errorf("%w: expected reference on operand stack, got %s", ErrTypeMismatch, v.Type)
	}
	return v, nil
}

// GetLocal returns the value at the given local variable index.
func (f *Frame) GetLocal(index int) (Value, error) {
	return f.Locals.Get(index)
}

// SetLocal stores v at index, using two slots for long and double.
func (f *Frame) SetLocal(index int, v Value) error {
	return f.Locals.Set(index, v, v.Width())
}

// SetReturn stages the frame's result and marks it returned.
func (f *Frame) SetReturn(v Value, t classfile.FieldType) {
	f.returnValue = v
	f.returnType = t
	f.returned = true
}

// Returned reports whether the frame has executed a return instruction.
func (f *Frame) Returned() bool { return f.returned }

// ReturnValue returns the staged result and its declared type ("V" for void).
func (f *Frame) ReturnValue() (Value, classfile.FieldType) {
	return f.returnValue, f.returnType
}

// Operand readers. Decode has already checked every instruction's operands
// lie inside Code, so these never run past the end.

// ReadU8 reads a uint8 operand and advances PC.
func (f *Frame) ReadU8() uint8 {
	val := f.Code[f.PC]
	f.PC++
	return val
}

// ReadI8 reads an int8 operand and advances PC.
func (f *Frame) ReadI8() int8 {
	val := int8(f.Code[f.PC])
	f.PC++
	return val
}

// ReadU16 reads a uint16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadU16() uint16 {
	val := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ReadI16 reads an int16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadI16() int16 {
	return int16(f.ReadU16())
}

// ReadI32 reads an int32 operand (big-endian) and advances PC by 4.
func (f *Frame) ReadI32() int32 {
	val := int32(f.Code[f.PC])<<24 | int32(f.Code[f.PC+1])<<16 | int32(f.Code[f.PC+2])<<8 | int32(f.Code[f.PC+3])
	f.PC += 4
	return val
}

func (f *Frame) String() string {
	if f.Method == nil {
		return "<frame>"
	}
	return f.Method.String()
}
