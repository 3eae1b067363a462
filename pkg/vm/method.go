package vm

import (
	"fmt"

	"github.com/daimatz/stackjvm/pkg/classfile"
)

// Method is an invocable member of a class, backed either by bytecode or by
// a Go function.
type Method interface {
	Name() string
	Descriptor() string
	// ParamCount is the number of declared parameters, excluding this.
	ParamCount() int
	IsStatic() bool
	Class() *Class
	// Invoke starts a call with arguments already popped by the caller.
	// A bytecode method pushes a frame and returns; its result reaches the
	// caller through the interpreter loop. A native method runs to
	// completion and delivers its result immediately.
	Invoke(env *Env, this Value, args []Value) error
}

type methodHeader struct {
	class *Class
	name  string
	desc  string
	sig   *classfile.MethodDescriptor
	flags uint16
}

func (m *methodHeader) Name() string       { return m.name }
func (m *methodHeader) Descriptor() string { return m.desc }
func (m *methodHeader) ParamCount() int    { return len(m.sig.Params) }
func (m *methodHeader) IsStatic() bool     { return m.flags&classfile.AccStatic != 0 }
func (m *methodHeader) Class() *Class      { return m.class }

// ReturnType is the declared return descriptor, "V" for void.
func (m *methodHeader) ReturnType() classfile.FieldType { return m.sig.Return }

func (m *methodHeader) String() string {
	return m.class.Name + "." + m.name + m.desc
}

// checkArgs verifies arguments against the declared parameter types.
func (m *methodHeader) checkArgs(this Value, args []Value) error {
	if len(args) != len(m.sig.Params) {
		return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrTypeMismatch, m, len(m.sig.Params), len(args))
	}
	if !m.IsStatic() && !this.IsReference() {
		return fmt.Errorf("%w: %s receiver is %s", ErrTypeMismatch, m, this.Type)
	}
	for i, arg := range args {
		if !assignable(arg, m.sig.Params[i]) {
			return fmt.Errorf("%w: %s argument %d: %s is not assignable to %s", ErrTypeMismatch, m, i, arg.Type, m.sig.Params[i])
		}
	}
	return nil
}

// BytecodeMethod is a method implemented by decoded instructions.
type BytecodeMethod struct {
	methodHeader
	MaxLocals    int
	MaxStack     int
	Code         []byte
	Instructions []*Instruction
}

func newBytecodeMethod(c *Class, info *classfile.MethodInfo, sig *classfile.MethodDescriptor) (*BytecodeMethod, error) {
	insts, err := Decode(info.Code.Code)
	if err != nil {
		return nil, fmt.Errorf("decoding %s.%s%s: %w", c.Name, info.Name, info.Descriptor, err)
	}
	return &BytecodeMethod{
		methodHeader: methodHeader{class: c, name: info.Name, desc: info.Descriptor, sig: sig, flags: info.AccessFlags},
		MaxLocals:    int(info.Code.MaxLocals),
		MaxStack:     int(info.Code.MaxStack),
		Code:         info.Code.Code,
		Instructions: insts,
	}, nil
}

// newFrame creates a frame for a call and binds the receiver and arguments
// into its locals. The receiver takes slot 0; each argument then takes as
// many slots as its declared type needs.
func (m *BytecodeMethod) newFrame(this Value, args []Value) (*Frame, error) {
	if err := m.checkArgs(this, args); err != nil {
		return nil, err
	}
	f := NewFrame(m)
	slot := 0
	if !m.IsStatic() {
		if err := f.Locals.Set(0, this, 1); err != nil {
			return nil, err
		}
		slot = 1
	}
	for i, arg := range args {
		width := m.sig.Params[i].Width()
		if err := f.Locals.Set(slot, arg, width); err != nil {
			return nil, fmt.Errorf("binding argument %d of %s: %w", i, m, err)
		}
		slot += width
	}
	return f, nil
}

// Invoke pushes a frame for the call, then makes sure the declaring class is
// initialized. Initializer frames land above the new frame, so they finish
// before its first instruction runs.
func (m *BytecodeMethod) Invoke(env *Env, this Value, args []Value) error {
	f, err := m.newFrame(this, args)
	if err != nil {
		return err
	}
	if err := env.Stack.Push(f); err != nil {
		return err
	}
	_, err = m.class.Initialize(env)
	return err
}

// NativeFunc implements a method in Go. this is the zero Value for static
// methods. The result is ignored for void methods.
type NativeFunc func(env *Env, this Value, args []Value) (Value, error)

// NativeMethod is a method implemented by a NativeFunc.
type NativeMethod struct {
	methodHeader
	fn NativeFunc
}

func newNativeMethod(c *Class, name, desc string, flags uint16, fn NativeFunc) (*NativeMethod, error) {
	sig, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil, fmt.Errorf("native %s.%s: %w", c.Name, name, err)
	}
	return &NativeMethod{
		methodHeader: methodHeader{class: c, name: name, desc: desc, sig: sig, flags: flags | classfile.AccNative},
		fn:           fn,
	}, nil
}

// Invoke runs the function and hands a non-void result to the current frame,
// or to the run's result when no frame is active.
func (m *NativeMethod) Invoke(env *Env, this Value, args []Value) error {
	if err := m.checkArgs(this, args); err != nil {
		return err
	}
	v, err := m.fn(env, this, args)
	if err != nil {
		return err
	}
	if m.sig.IsVoid() {
		return nil
	}
	if !assignable(v, m.sig.Return) {
		return fmt.Errorf("%w: native %s returned %s", ErrTypeMismatch, m, v.Type)
	}
	return env.deliver(v)
}
