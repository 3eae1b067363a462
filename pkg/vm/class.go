package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/daimatz/stackjvm/pkg/classfile"
)

// InitState tracks a class through static initialization.
type InitState int

const (
	Uninitialized InitState = iota
	Initializing
	Initialized
	// Erroneous marks a class whose initializer failed or was abandoned.
	Erroneous
)

func (s InitState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case Erroneous:
		return "erroneous"
	}
	return fmt.Sprintf("InitState(%d)", int(s))
}

// Field describes a field declared by a class.
type Field struct {
	Name       string
	Descriptor classfile.FieldType
	Static     bool
	Class      *Class
}

// Class is a loaded class: its constant pool, methods, fields, static
// storage and initialization state.
type Class struct {
	Name       string
	Pool       classfile.ConstantPool
	Flags      uint16
	Super      *Class
	Interfaces []*Class

	methods    map[string]Method // keyed by name+descriptor
	methodList []Method          // declaration order
	fields     map[string]*Field
	fieldList  []*Field
	statics    map[string]Value
	state      InitState
	initErr    error

	// alloc creates the host representation of a native class instance.
	alloc func() interface{}
}

func newClass(name string, pool classfile.ConstantPool, flags uint16) *Class {
	return &Class{
		Name:    name,
		Pool:    pool,
		Flags:   flags,
		methods: make(map[string]Method),
		fields:  make(map[string]*Field),
		statics: make(map[string]Value),
	}
}

func (c *Class) String() string { return c.Name }

// State returns the class's initialization state.
func (c *Class) State() InitState { return c.state }

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Flags&classfile.AccInterface != 0 }

func (c *Class) addMethod(m Method) {
	key := m.Name() + m.Descriptor()
	if _, dup := c.methods[key]; !dup {
		c.methodList = append(c.methodList, m)
	}
	c.methods[key] = m
}

func (c *Class) addField(name string, desc classfile.FieldType, static bool) *Field {
	f := &Field{Name: name, Descriptor: desc, Static: static, Class: c}
	c.fields[name] = f
	c.fieldList = append(c.fieldList, f)
	if static {
		c.statics[name] = ZeroValue(desc)
	}
	return f
}

// Methods returns the methods declared by the class, in declaration order.
func (c *Class) Methods() []Method { return c.methodList }

// DeclaredMethod returns a method declared by c itself, or nil.
func (c *Class) DeclaredMethod(name, desc string) Method {
	return c.methods[name+desc]
}

// FindMethod looks name and descriptor up in c, then its superclasses, then
// its superinterfaces.
func (c *Class) FindMethod(name, desc string) (Method, error) {
	for k := c; k != nil; k = k.Super {
		if m, ok := k.methods[name+desc]; ok {
			return m, nil
		}
	}
	seen := make(map[*Class]bool)
	for k := c; k != nil; k = k.Super {
		if m := findInInterfaces(k.Interfaces, name+desc, seen); m != nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s%s", ErrNoSuchMethod, c.Name, name, desc)
}

func findInInterfaces(ifaces []*Class, key string, seen map[*Class]bool) Method {
	for _, i := range ifaces {
		if seen[i] {
			continue
		}
		seen[i] = true
		if m, ok := i.methods[key]; ok {
			return m
		}
		if m := findInInterfaces(i.Interfaces, key, seen); m != nil {
			return m
		}
	}
	return nil
}

// FindField looks a field up in c, its superinterfaces, then its
// superclasses.
func (c *Class) FindField(name string) (*Field, error) {
	for k := c; k != nil; k = k.Super {
		if f, ok := k.fields[name]; ok {
			return f, nil
		}
		for _, i := range k.Interfaces {
			if f, err := i.FindField(name); err == nil {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrNoSuchField, c.Name, name)
}

// IsSubclassOf reports whether c is other, extends it, or implements it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
		for _, i := range k.Interfaces {
			if i.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

// GetStatic reads a static field declared by c.
func (c *Class) GetStatic(name string) (Value, error) {
	v, ok := c.statics[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: static %s.%s", ErrNoSuchField, c.Name, name)
	}
	return v, nil
}

// SetStatic writes a static field declared by c.
func (c *Class) SetStatic(name string, v Value) error {
	f, ok := c.fields[name]
	if !ok || !f.Static {
		return fmt.Errorf("%w: static %s.%s", ErrNoSuchField, c.Name, name)
	}
	if !assignable(v, f.Descriptor) {
		return fmt.Errorf("%w: %s stored into %s.%s:%s", ErrTypeMismatch, v.Type, c.Name, name, f.Descriptor)
	}
	c.statics[name] = v
	return nil
}

// Initialize starts static initialization if c has not begun it. The
// <clinit> frame, if any, is pushed onto the call stack and marks the class
// initialized when it returns; the superclass is initialized after c so its
// initializer frame sits on top and runs first. Calls made while c's
// initializer is on env's stack are no-ops. A class whose initializer failed
// is erroneous and every later call reports that failure. Initialize reports
// whether it pushed any frame, in which case the caller must let those
// frames run before relying on the class's state.
func (c *Class) Initialize(env *Env) (bool, error) {
	switch c.state {
	case Initialized:
		return false, nil
	case Erroneous:
		return false, &ClassInitializationError{Class: c.Name, Err: fmt.Errorf("class is erroneous: %w", c.initErr)}
	case Initializing:
		if env.initializing(c) {
			return false, nil
		}
		log.Debugf("restarting abandoned initialization of %s", c.Name)
	}
	log.Debugf("initializing %s", c.Name)

	depth := env.Stack.Depth()
	pushed := false
	if m, ok := c.methods[classfile.ClinitName+"()V"].(*BytecodeMethod); ok {
		f, err := m.newFrame(Value{}, nil)
		if err != nil {
			return false, err
		}
		f.initializes = c
		f.onReturn = func() {
			c.state = Initialized
			log.Debugf("initialized %s", c.Name)
		}
		if err := env.Stack.Push(f); err != nil {
			c.state = Uninitialized
			return false, err
		}
		c.state = Initializing
		pushed = true
	} else {
		c.state = Initialized
	}

	if c.Super != nil {
		p, err := c.Super.Initialize(env)
		if err != nil {
			env.Stack.Unwind(depth)
			c.state = Uninitialized
			return false, err
		}
		pushed = pushed || p
	}
	return pushed, nil
}

// fail records err as the reason c's initialization did not complete.
func (c *Class) fail(err error) {
	var cie *ClassInitializationError
	if errors.As(err, &cie) && cie.Class == c.Name {
		err = cie.Err
	}
	c.state, c.initErr = Erroneous, err
	log.Debugf("%s is erroneous: %v", c.Name, err)
}

// constantValue applies a field's ConstantValue attribute, if present.
func (c *Class) constantValue(f *classfile.FieldInfo) error {
	for _, a := range f.Attributes {
		if a.Name != "ConstantValue" {
			continue
		}
		if len(a.Data) != 2 {
			return fmt.Errorf("ConstantValue of %s.%s: bad length %d", c.Name, f.Name, len(a.Data))
		}
		e, err := c.Pool.Entry(binary.BigEndian.Uint16(a.Data))
		if err != nil {
			return err
		}
		var v Value
		switch k := e.(type) {
		case *classfile.ConstantInteger:
			v = IntValue(k.Value)
		case *classfile.ConstantLong:
			v = LongValue(k.Value)
		case *classfile.ConstantFloat:
			v = FloatValue(k.Value)
		case *classfile.ConstantDouble:
			v = DoubleValue(k.Value)
		case *classfile.ConstantString:
			s, err := c.Pool.Utf8(k.StringIndex)
			if err != nil {
				return err
			}
			v = RefValue(s)
		default:
			return fmt.Errorf("ConstantValue of %s.%s: tag %d", c.Name, f.Name, e.Tag())
		}
		return c.SetStatic(f.Name, v)
	}
	return nil
}
