package vm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/daimatz/stackjvm/pkg/classfile"
)

// DefaultMaxFrameDepth is the default ceiling on nested method calls.
const DefaultMaxFrameDepth = 1024

// VM is the virtual machine that executes Java bytecode. It owns the class
// registry; classes are loaded on first reference and live as long as the
// VM.
type VM struct {
	loader   ClassLoader
	stdout   io.Writer
	maxDepth int
	trace    TraceFunc

	classes       map[string]*Class
	loading       map[string]bool
	natives       map[string]*NativeClass
	nativeMethods map[string]NativeFunc

	hashes   map[interface{}]int32
	nextHash int32
}

// Option configures a VM.
type Option func(*VM)

// WithMaxFrameDepth sets the call stack depth at which a run fails with
// ErrStackOverflow.
func WithMaxFrameDepth(n int) Option {
	return func(vm *VM) { vm.maxDepth = n }
}

// WithStdout sets the writer behind System.out.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.stdout = w }
}

// WithNatives adds or replaces native classes.
func WithNatives(classes ...*NativeClass) Option {
	return func(vm *VM) {
		for _, nc := range classes {
			vm.natives[nc.Name] = nc
		}
	}
}

// WithNativeMethod binds a method declared native in a loaded class to fn.
func WithNativeMethod(class, name, desc string, fn NativeFunc) Option {
	return func(vm *VM) { vm.nativeMethods[nativeKey(class, name, desc)] = fn }
}

// WithTrace installs a hook observing every frame push and pop.
func WithTrace(fn TraceFunc) Option {
	return func(vm *VM) { vm.trace = fn }
}

// NewVM creates a VM that loads classes through loader. A nil loader leaves
// only the native classes available.
func NewVM(loader ClassLoader, opts ...Option) *VM {
	vm := &VM{
		loader:        loader,
		stdout:        os.Stdout,
		maxDepth:      DefaultMaxFrameDepth,
		classes:       make(map[string]*Class),
		loading:       make(map[string]bool),
		natives:       make(map[string]*NativeClass),
		nativeMethods: make(map[string]NativeFunc),
		hashes:        make(map[interface{}]int32),
		nextHash:      0x2545F491,
	}
	for _, nc := range builtinNatives() {
		vm.natives[nc.Name] = nc
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// LoadClass returns the named class, loading, linking and decoding it on
// first use.
func (vm *VM) LoadClass(name string) (*Class, error) {
	if c, ok := vm.classes[name]; ok {
		return c, nil
	}
	if vm.loading[name] {
		return nil, fmt.Errorf("class %s: circular class hierarchy", name)
	}
	vm.loading[name] = true
	defer delete(vm.loading, name)

	var (
		c   *Class
		err error
	)
	if nc, ok := vm.natives[name]; ok {
		c, err = vm.defineNative(nc)
	} else {
		c, err = vm.loadBytecodeClass(name)
	}
	if err != nil {
		return nil, err
	}
	vm.classes[name] = c
	log.Debugf("loaded %s (%d methods)", name, len(c.methodList))
	return c, nil
}

func (vm *VM) loadBytecodeClass(name string) (*Class, error) {
	if vm.loader == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchClass, name)
	}
	cf, err := vm.loader.LoadClass(name)
	if err != nil {
		return nil, err
	}
	return vm.DefineClass(cf)
}

// DefineClass links parsed class metadata into a Class: it resolves the
// superclass and interfaces, decodes every method and sets up static
// storage. The class is not registered; LoadClass does that.
func (vm *VM) DefineClass(cf *classfile.ClassFile) (*Class, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	c := newClass(name, cf.ConstantPool, cf.AccessFlags)

	if super := cf.SuperClassName(); super != "" {
		if c.Super, err = vm.LoadClass(super); err != nil {
			return nil, fmt.Errorf("superclass of %s: %w", name, err)
		}
	} else if name != ObjectClass {
		return nil, fmt.Errorf("class %s has no superclass", name)
	}

	ifaces, err := cf.InterfaceNames()
	if err != nil {
		return nil, err
	}
	for _, iname := range ifaces {
		i, err := vm.LoadClass(iname)
		if errors.Is(err, ErrNoSuchClass) {
			// Unknown library interfaces only matter to instanceof.
			loaderLog.Debugf("%s: skipping interface %s: %v", name, iname, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("interface of %s: %w", name, err)
		}
		c.Interfaces = append(c.Interfaces, i)
	}

	for i := range cf.Fields {
		fi := &cf.Fields[i]
		c.addField(fi.Name, classfile.FieldType(fi.Descriptor), fi.IsStatic())
		if fi.IsStatic() {
			if err := c.constantValue(fi); err != nil {
				return nil, err
			}
		}
	}

	for i := range cf.Methods {
		mi := &cf.Methods[i]
		sig, err := classfile.ParseMethodDescriptor(mi.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, mi.Name, err)
		}
		switch {
		case mi.IsNative():
			key := nativeKey(name, mi.Name, mi.Descriptor)
			fn, ok := vm.nativeMethods[key]
			if !ok {
				fn = unlinked(key)
			}
			m, err := newNativeMethod(c, mi.Name, mi.Descriptor, mi.AccessFlags, fn)
			if err != nil {
				return nil, err
			}
			c.addMethod(m)
		case mi.IsAbstract():
			// Nothing to run; lookups continue into supertypes.
		case mi.Code == nil:
			return nil, fmt.Errorf("%s.%s%s has no Code attribute", name, mi.Name, mi.Descriptor)
		default:
			m, err := newBytecodeMethod(c, mi, sig)
			if err != nil {
				return nil, err
			}
			c.addMethod(m)
		}
	}
	return c, nil
}

// NewEnv creates the execution context for one run.
func (vm *VM) NewEnv() *Env {
	s := NewCallStack(vm.maxDepth)
	s.trace = vm.trace
	return &Env{ID: uuid.New(), Stack: s, vm: vm}
}

// Invoke runs the method named by class, name and descriptor in a fresh
// Env and returns its result. this is ignored for static methods.
func (vm *VM) Invoke(className, name, desc string, this Value, args []Value) (Value, error) {
	c, err := vm.LoadClass(className)
	if err != nil {
		return Value{}, err
	}
	m, err := c.FindMethod(name, desc)
	if err != nil {
		return Value{}, err
	}
	return vm.call(m, this, args)
}

// RunEntryPoint resolves methodName in the class by name alone and runs it.
// When several overloads exist, the one whose parameter count matches args
// wins. For an instance method args[0] is the receiver.
func (vm *VM) RunEntryPoint(className, methodName string, args []Value) (Value, error) {
	c, err := vm.LoadClass(className)
	if err != nil {
		return Value{}, err
	}
	var m Method
	for _, cand := range c.Methods() {
		if cand.Name() != methodName {
			continue
		}
		want := len(args)
		if !cand.IsStatic() {
			want--
		}
		if cand.ParamCount() == want {
			m = cand
			break
		}
		if m == nil {
			m = cand
		}
	}
	if m == nil {
		return Value{}, fmt.Errorf("%w: %s.%s", ErrNoSuchMethod, className, methodName)
	}

	this := Value{}
	if !m.IsStatic() {
		if len(args) == 0 {
			return Value{}, fmt.Errorf("%w: %s needs a receiver", ErrTypeMismatch, methodName)
		}
		this, args = args[0], args[1:]
	}
	return vm.call(m, this, args)
}

// Execute runs the class's main method with a null argument array.
func (vm *VM) Execute(className string) error {
	_, err := vm.Invoke(className, "main", "([Ljava/lang/String;)V", Value{}, []Value{NullValue()})
	return err
}

func (vm *VM) call(m Method, this Value, args []Value) (Value, error) {
	env := vm.NewEnv()
	log.Debugf("run %s: %s.%s%s", env.ID, m.Class().Name, m.Name(), m.Descriptor())
	if err := m.Invoke(env, this, args); err != nil {
		env.abort(0, err)
		return Value{}, err
	}
	if err := Run(env); err != nil {
		return Value{}, err
	}
	v, _ := env.Result()
	log.Debugf("run %s: done", env.ID)
	return v, nil
}
