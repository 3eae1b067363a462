package vm

import (
	"fmt"

	"github.com/daimatz/stackjvm/pkg/classfile"
)

// ensureInitialized starts initialization of c on behalf of the instruction
// executing in f. When initializer frames were pushed it rewinds f.PC to the
// instruction so it runs again once they return, and reports false.
func ensureInitialized(env *Env, f *Frame, start int, c *Class) (bool, error) {
	pushed, err := c.Initialize(env)
	if err != nil {
		return false, err
	}
	if pushed {
		f.PC = start
		return false, nil
	}
	return true, nil
}

func resolveStaticField(env *Env, f *Frame, index uint16) (*Field, error) {
	ref, err := f.Pool.FieldRef(index)
	if err != nil {
		return nil, err
	}
	field, err := env.ResolveField(ref.ClassName, ref.Name)
	if err != nil {
		return nil, err
	}
	if !field.Static {
		return nil, fmt.Errorf("%w: %s is not static", ErrTypeMismatch, ref)
	}
	return field, nil
}

func getstatic(env *Env, f *Frame) error {
	start := f.PC - 1
	field, err := resolveStaticField(env, f, f.ReadU16())
	if err != nil {
		return err
	}
	if ready, err := ensureInitialized(env, f, start, field.Class); !ready {
		return err
	}
	v, err := field.Class.GetStatic(field.Name)
	if err != nil {
		return err
	}
	return f.Push(v)
}

func putstatic(env *Env, f *Frame) error {
	start := f.PC - 1
	field, err := resolveStaticField(env, f, f.ReadU16())
	if err != nil {
		return err
	}
	if ready, err := ensureInitialized(env, f, start, field.Class); !ready {
		return err
	}
	v, err := f.Pop()
	if err != nil {
		return err
	}
	if v.Type == TypeInt {
		v.Int = narrowInt(v.Int, field.Descriptor[0])
	}
	return field.Class.SetStatic(field.Name, v)
}

func resolveInstanceField(env *Env, f *Frame, index uint16) (*Field, error) {
	ref, err := f.Pool.FieldRef(index)
	if err != nil {
		return nil, err
	}
	field, err := env.ResolveField(ref.ClassName, ref.Name)
	if err != nil {
		return nil, err
	}
	if field.Static {
		return nil, fmt.Errorf("%w: %s is static", ErrTypeMismatch, ref)
	}
	return field, nil
}

func popObject(f *Frame, field *Field) (*JObject, error) {
	ref, err := f.PopRef()
	if err != nil {
		return nil, err
	}
	if ref.IsNull() {
		return nil, NewJavaException("java/lang/NullPointerException",
			fmt.Sprintf("cannot access field %s of null", field.Name))
	}
	obj, ok := ref.Ref.(*JObject)
	if !ok {
		return nil, fmt.Errorf("%w: field %s on %T", ErrTypeMismatch, field.Name, ref.Ref)
	}
	return obj, nil
}

func getfield(env *Env, f *Frame) error {
	field, err := resolveInstanceField(env, f, f.ReadU16())
	if err != nil {
		return err
	}
	obj, err := popObject(f, field)
	if err != nil {
		return err
	}
	v, ok := obj.Fields[field.Name]
	if !ok {
		return fmt.Errorf("%w: %s has no field %s", ErrNoSuchField, obj.Class.Name, field.Name)
	}
	return f.Push(v)
}

func putfield(env *Env, f *Frame) error {
	field, err := resolveInstanceField(env, f, f.ReadU16())
	if err != nil {
		return err
	}
	v, err := f.Pop()
	if err != nil {
		return err
	}
	if !assignable(v, field.Descriptor) {
		return fmt.Errorf("%w: %s stored into %s:%s", ErrTypeMismatch, v.Type, field.Name, field.Descriptor)
	}
	if v.Type == TypeInt {
		v.Int = narrowInt(v.Int, field.Descriptor[0])
	}
	obj, err := popObject(f, field)
	if err != nil {
		return err
	}
	obj.Fields[field.Name] = v
	return nil
}

// popArgs pops n arguments, returning them in declaration order.
func popArgs(f *Frame, n int) ([]Value, error) {
	args := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := f.Pop()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func popReceiver(f *Frame, ref *classfile.MemberRef) (Value, error) {
	this, err := f.PopRef()
	if err != nil {
		return Value{}, err
	}
	if this.IsNull() {
		return Value{}, NewJavaException("java/lang/NullPointerException",
			fmt.Sprintf("cannot invoke %s on null", ref))
	}
	return this, nil
}

func methodRef(f *Frame, index uint16) (*classfile.MemberRef, *classfile.MethodDescriptor, error) {
	ref, err := f.Pool.MethodRef(index)
	if err != nil {
		return nil, nil, err
	}
	sig, err := classfile.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return nil, nil, err
	}
	return ref, sig, nil
}

// invokeVirtual dispatches on the receiver's runtime class. It serves both
// invokevirtual and invokeinterface.
func invokeVirtual(env *Env, f *Frame, index uint16) error {
	ref, sig, err := methodRef(f, index)
	if err != nil {
		return err
	}
	args, err := popArgs(f, len(sig.Params))
	if err != nil {
		return err
	}
	this, err := popReceiver(f, ref)
	if err != nil {
		return err
	}
	c, err := classOf(env, this.Ref)
	if err != nil {
		return err
	}
	m, err := c.FindMethod(ref.Name, ref.Descriptor)
	if err != nil {
		return err
	}
	if m.IsStatic() {
		return fmt.Errorf("%w: virtual call of static %s", ErrTypeMismatch, ref)
	}
	return m.Invoke(env, this, args)
}

// invokeSpecial calls the method the reference names without virtual
// dispatch: constructors, private methods and super calls.
func invokeSpecial(env *Env, f *Frame) error {
	ref, sig, err := methodRef(f, f.ReadU16())
	if err != nil {
		return err
	}
	m, err := env.ResolveMethod(ref.ClassName, ref.Name, ref.Descriptor)
	if err != nil {
		return err
	}
	if m.IsStatic() {
		return fmt.Errorf("%w: invokespecial of static %s", ErrTypeMismatch, ref)
	}
	args, err := popArgs(f, len(sig.Params))
	if err != nil {
		return err
	}
	this, err := popReceiver(f, ref)
	if err != nil {
		return err
	}
	return m.Invoke(env, this, args)
}

// invokeStatic initializes the declaring class before a native method runs.
// A bytecode method handles initialization itself when it is invoked.
func invokeStatic(env *Env, f *Frame) error {
	start := f.PC - 1
	ref, sig, err := methodRef(f, f.ReadU16())
	if err != nil {
		return err
	}
	m, err := env.ResolveMethod(ref.ClassName, ref.Name, ref.Descriptor)
	if err != nil {
		return err
	}
	if !m.IsStatic() {
		return fmt.Errorf("%w: invokestatic of instance method %s", ErrTypeMismatch, ref)
	}
	if _, native := m.(*NativeMethod); native {
		if ready, err := ensureInitialized(env, f, start, m.Class()); !ready {
			return err
		}
	}
	args, err := popArgs(f, len(sig.Params))
	if err != nil {
		return err
	}
	return m.Invoke(env, Value{}, args)
}

func newObject(env *Env, f *Frame) error {
	start := f.PC - 1
	name, err := f.Pool.ClassName(f.ReadU16())
	if err != nil {
		return err
	}
	c, err := env.ResolveClass(name)
	if err != nil {
		return err
	}
	if c.Flags&(classfile.AccAbstract|classfile.AccInterface) != 0 {
		return fmt.Errorf("%w: cannot instantiate %s", ErrTypeMismatch, name)
	}
	if ready, err := ensureInitialized(env, f, start, c); !ready {
		return err
	}
	if c.alloc != nil {
		return f.Push(RefValue(c.alloc()))
	}
	return f.Push(RefValue(NewObject(c)))
}
