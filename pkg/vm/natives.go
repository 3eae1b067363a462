package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/daimatz/stackjvm/pkg/classfile"
	"github.com/daimatz/stackjvm/pkg/native"
)

// Well-known class names.
const (
	ObjectClass    = "java/lang/Object"
	StringClass    = "java/lang/String"
	ThrowableClass = "java/lang/Throwable"
)

const detailMessageField = "detailMessage"

// NativeClass describes a class implemented in Go. Native classes take
// precedence over classes of the same name found by the class loader and
// start out initialized.
type NativeClass struct {
	Name string
	// Super is the superclass name; empty only for java/lang/Object.
	Super string
	// New creates the host object for a `new` of this class. When nil,
	// instances are plain objects with Fields.
	New     func() interface{}
	Fields  map[string]classfile.FieldType
	Statics map[string]func(vm *VM) Value
	Methods []NativeMember
}

// NativeMember is one method of a NativeClass.
type NativeMember struct {
	Name       string
	Descriptor string
	Static     bool
	Fn         NativeFunc
}

func virtual(name, desc string, fn NativeFunc) NativeMember {
	return NativeMember{Name: name, Descriptor: desc, Fn: fn}
}

func static(name, desc string, fn NativeFunc) NativeMember {
	return NativeMember{Name: name, Descriptor: desc, Static: true, Fn: fn}
}

func nativeKey(class, name, desc string) string {
	return class + "." + name + desc
}

func (vm *VM) defineNative(nc *NativeClass) (*Class, error) {
	c := newClass(nc.Name, nil, classfile.AccPublic)
	if nc.Super != "" {
		super, err := vm.LoadClass(nc.Super)
		if err != nil {
			return nil, fmt.Errorf("superclass of native %s: %w", nc.Name, err)
		}
		c.Super = super
	}
	c.alloc = nc.New
	for name, desc := range nc.Fields {
		c.addField(name, desc, false)
	}
	for name, initial := range nc.Statics {
		c.addField(name, "Ljava/lang/Object;", true)
		c.statics[name] = initial(vm)
	}
	for _, nm := range nc.Methods {
		var flags uint16 = classfile.AccPublic
		if nm.Static {
			flags |= classfile.AccStatic
		}
		m, err := newNativeMethod(c, nm.Name, nm.Descriptor, flags, nm.Fn)
		if err != nil {
			return nil, err
		}
		c.addMethod(m)
	}
	c.state = Initialized
	return c, nil
}

// unlinked stands in for a native method declared in bytecode with no Go
// implementation registered.
func unlinked(key string) NativeFunc {
	return func(*Env, Value, []Value) (Value, error) {
		return Value{}, fmt.Errorf("%w: no native implementation for %s", ErrNoSuchMethod, key)
	}
}

// identityHash returns a stable per-VM hash for a reference.
func (vm *VM) identityHash(ref interface{}) int32 {
	if s, ok := ref.(string); ok {
		return stringHash(s)
	}
	h, ok := vm.hashes[ref]
	if !ok {
		vm.nextHash = vm.nextHash*1103515245 + 12345
		h = vm.nextHash & 0x7fffffff
		vm.hashes[ref] = h
	}
	return h
}

func stringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

// stringOf converts v the way String.valueOf does, calling toString on
// objects. A bytecode toString runs to completion on the current stack.
func stringOf(env *Env, v Value) (string, error) {
	if v.IsNull() {
		return "null", nil
	}
	switch r := v.Ref.(type) {
	case string:
		return r, nil
	case *native.Integer:
		return r.String(), nil
	case *native.StringBuilder:
		return r.String(), nil
	}
	c, err := classOf(env, v.Ref)
	if err != nil {
		return "", err
	}
	m, err := c.FindMethod("toString", "()Ljava/lang/String;")
	if err != nil {
		return "", err
	}
	res, err := env.Call(m, v, nil)
	if err != nil {
		return "", err
	}
	if res.IsNull() {
		return "null", nil
	}
	s, ok := res.Ref.(string)
	if !ok {
		return "", fmt.Errorf("%w: toString returned %s", ErrTypeMismatch, res.Type)
	}
	return s, nil
}

// formatArg renders a println/print/append argument of type t.
func formatArg(env *Env, v Value, t classfile.FieldType) (string, error) {
	switch t {
	case "I", "B", "S":
		return strconv.FormatInt(int64(v.Int), 10), nil
	case "J":
		return strconv.FormatInt(v.Long, 10), nil
	case "F":
		return native.FormatFloat(v.Float), nil
	case "D":
		return native.FormatDouble(v.Double), nil
	case "Z":
		return native.FormatBool(v.Int), nil
	case "C":
		return native.FormatChar(uint16(v.Int)), nil
	}
	return stringOf(env, v)
}

func hostThis[T any](this Value) (T, error) {
	h, ok := this.Ref.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: receiver %T is not %T", ErrTypeMismatch, this.Ref, zero)
	}
	return h, nil
}

func stringThis(this Value) (string, error) {
	return hostThis[string](this)
}

func void() (Value, error) { return Value{}, nil }

func builtinNatives() []*NativeClass {
	classes := []*NativeClass{
		objectNatives(),
		stringNatives(),
		systemNatives(),
		printStreamNatives(),
		integerNatives(),
		mathNatives(),
		stringBuilderNatives(),
		hashMapNatives(),
		throwableNatives(),
	}
	exceptions := [][2]string{
		{"java/lang/Exception", ThrowableClass},
		{"java/lang/Error", ThrowableClass},
		{"java/lang/RuntimeException", "java/lang/Exception"},
		{"java/lang/ArithmeticException", "java/lang/RuntimeException"},
		{"java/lang/NullPointerException", "java/lang/RuntimeException"},
		{"java/lang/ClassCastException", "java/lang/RuntimeException"},
		{"java/lang/IllegalArgumentException", "java/lang/RuntimeException"},
		{"java/lang/NumberFormatException", "java/lang/IllegalArgumentException"},
		{"java/lang/IllegalStateException", "java/lang/RuntimeException"},
		{"java/lang/UnsupportedOperationException", "java/lang/RuntimeException"},
		{"java/lang/IndexOutOfBoundsException", "java/lang/RuntimeException"},
		{"java/lang/ArrayIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"},
		{"java/lang/StringIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"},
		{"java/lang/ArrayStoreException", "java/lang/RuntimeException"},
		{"java/lang/NegativeArraySizeException", "java/lang/RuntimeException"},
	}
	for _, e := range exceptions {
		classes = append(classes, &NativeClass{Name: e[0], Super: e[1]})
	}
	return classes
}

func objectNatives() *NativeClass {
	return &NativeClass{
		Name: ObjectClass,
		Methods: []NativeMember{
			virtual("<init>", "()V", func(*Env, Value, []Value) (Value, error) { return void() }),
			virtual("hashCode", "()I", func(env *Env, this Value, _ []Value) (Value, error) {
				return IntValue(env.vm.identityHash(this.Ref)), nil
			}),
			virtual("equals", "(Ljava/lang/Object;)Z", func(_ *Env, this Value, args []Value) (Value, error) {
				return BoolValue(sameRef(this, args[0])), nil
			}),
			virtual("toString", "()Ljava/lang/String;", func(env *Env, this Value, _ []Value) (Value, error) {
				name, err := classNameOf(this.Ref)
				if err != nil {
					return Value{}, err
				}
				hash := uint32(env.vm.identityHash(this.Ref))
				return RefValue(strings.ReplaceAll(name, "/", ".") + "@" + strconv.FormatUint(uint64(hash), 16)), nil
			}),
		},
	}
}

func stringNatives() *NativeClass {
	return &NativeClass{
		Name:  StringClass,
		Super: ObjectClass,
		Methods: []NativeMember{
			virtual("length", "()I", func(_ *Env, this Value, _ []Value) (Value, error) {
				s, err := stringThis(this)
				return IntValue(int32(native.StringLength(s))), err
			}),
			virtual("isEmpty", "()Z", func(_ *Env, this Value, _ []Value) (Value, error) {
				s, err := stringThis(this)
				return BoolValue(s == ""), err
			}),
			virtual("charAt", "(I)C", func(_ *Env, this Value, args []Value) (Value, error) {
				s, err := stringThis(this)
				if err != nil {
					return Value{}, err
				}
				units := utf16.Encode([]rune(s))
				i := args[0].Int
				if i < 0 || int(i) >= len(units) {
					return Value{}, NewJavaException("java/lang/StringIndexOutOfBoundsException",
						fmt.Sprintf("index %d, length %d", i, len(units)))
				}
				return IntValue(int32(units[i])), nil
			}),
			virtual("equals", "(Ljava/lang/Object;)Z", func(_ *Env, this Value, args []Value) (Value, error) {
				s, err := stringThis(this)
				other, ok := args[0].Ref.(string)
				return BoolValue(ok && s == other), err
			}),
			virtual("hashCode", "()I", func(_ *Env, this Value, _ []Value) (Value, error) {
				s, err := stringThis(this)
				return IntValue(stringHash(s)), err
			}),
			virtual("toString", "()Ljava/lang/String;", func(_ *Env, this Value, _ []Value) (Value, error) {
				return this, nil
			}),
			virtual("concat", "(Ljava/lang/String;)Ljava/lang/String;", func(_ *Env, this Value, args []Value) (Value, error) {
				s, err := stringThis(this)
				if err != nil {
					return Value{}, err
				}
				other, ok := args[0].Ref.(string)
				if !ok {
					return Value{}, NewJavaException("java/lang/NullPointerException", "concat(null)")
				}
				return RefValue(s + other), nil
			}),
			static("valueOf", "(I)Ljava/lang/String;", func(_ *Env, _ Value, args []Value) (Value, error) {
				return RefValue(strconv.FormatInt(int64(args[0].Int), 10)), nil
			}),
			static("valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", func(env *Env, _ Value, args []Value) (Value, error) {
				s, err := stringOf(env, args[0])
				return RefValue(s), err
			}),
		},
	}
}

func systemNatives() *NativeClass {
	return &NativeClass{
		Name:  "java/lang/System",
		Super: ObjectClass,
		Statics: map[string]func(*VM) Value{
			"out": func(vm *VM) Value { return RefValue(&native.PrintStream{Writer: vm.stdout}) },
		},
		Methods: []NativeMember{
			static("identityHashCode", "(Ljava/lang/Object;)I", func(env *Env, _ Value, args []Value) (Value, error) {
				if args[0].IsNull() {
					return IntValue(0), nil
				}
				return IntValue(env.vm.identityHash(args[0].Ref)), nil
			}),
			static("arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", arraycopy),
		},
	}
}

func arraycopy(_ *Env, _ Value, args []Value) (Value, error) {
	if args[0].IsNull() || args[2].IsNull() {
		return Value{}, NewJavaException("java/lang/NullPointerException", "arraycopy")
	}
	src, ok1 := args[0].Ref.(*JArray)
	dst, ok2 := args[2].Ref.(*JArray)
	if !ok1 || !ok2 || src.Type != dst.Type && !(src.ElementType().IsReference() && dst.ElementType().IsReference()) {
		return Value{}, NewJavaException("java/lang/ArrayStoreException", "arraycopy: type mismatch")
	}
	sp, dp, n := int(args[1].Int), int(args[3].Int), int(args[4].Int)
	if sp < 0 || dp < 0 || n < 0 || sp+n > len(src.Elements) || dp+n > len(dst.Elements) {
		return Value{}, NewJavaException("java/lang/ArrayIndexOutOfBoundsException", "arraycopy: last source index out of bounds")
	}
	copy(dst.Elements[dp:dp+n], src.Elements[sp:sp+n])
	return void()
}

func printStreamNatives() *NativeClass {
	nc := &NativeClass{Name: "java/io/PrintStream", Super: ObjectClass}
	nc.Methods = append(nc.Methods, virtual("println", "()V", func(_ *Env, this Value, _ []Value) (Value, error) {
		ps, err := hostThis[*native.PrintStream](this)
		if err != nil {
			return Value{}, err
		}
		return Value{}, ps.Println("")
	}))
	for _, t := range []classfile.FieldType{"I", "J", "F", "D", "Z", "C", "Ljava/lang/String;", "Ljava/lang/Object;"} {
		t := t
		desc := "(" + string(t) + ")V"
		for _, name := range []string{"print", "println"} {
			newline := name == "println"
			nc.Methods = append(nc.Methods, virtual(name, desc, func(env *Env, this Value, args []Value) (Value, error) {
				ps, err := hostThis[*native.PrintStream](this)
				if err != nil {
					return Value{}, err
				}
				s, err := formatArg(env, args[0], t)
				if err != nil {
					return Value{}, err
				}
				if newline {
					return Value{}, ps.Println(s)
				}
				return Value{}, ps.Print(s)
			}))
		}
	}
	return nc
}

func integerNatives() *NativeClass {
	intThis := hostThis[*native.Integer]
	return &NativeClass{
		Name:  "java/lang/Integer",
		Super: ObjectClass,
		Methods: []NativeMember{
			static("valueOf", "(I)Ljava/lang/Integer;", func(_ *Env, _ Value, args []Value) (Value, error) {
				return RefValue(native.IntegerValueOf(args[0].Int)), nil
			}),
			static("parseInt", "(Ljava/lang/String;)I", func(_ *Env, _ Value, args []Value) (Value, error) {
				s, _ := args[0].Ref.(string)
				n, err := strconv.ParseInt(s, 10, 32)
				if err != nil {
					return Value{}, NewJavaException("java/lang/NumberFormatException", fmt.Sprintf("For input string: %q", s))
				}
				return IntValue(int32(n)), nil
			}),
			virtual("intValue", "()I", func(_ *Env, this Value, _ []Value) (Value, error) {
				i, err := intThis(this)
				if err != nil {
					return Value{}, err
				}
				return IntValue(i.Value), nil
			}),
			virtual("hashCode", "()I", func(_ *Env, this Value, _ []Value) (Value, error) {
				i, err := intThis(this)
				if err != nil {
					return Value{}, err
				}
				return IntValue(i.Value), nil
			}),
			virtual("equals", "(Ljava/lang/Object;)Z", func(_ *Env, this Value, args []Value) (Value, error) {
				i, err := intThis(this)
				if err != nil {
					return Value{}, err
				}
				other, ok := args[0].Ref.(*native.Integer)
				return BoolValue(ok && other.Value == i.Value), nil
			}),
			virtual("toString", "()Ljava/lang/String;", func(_ *Env, this Value, _ []Value) (Value, error) {
				i, err := intThis(this)
				if err != nil {
					return Value{}, err
				}
				return RefValue(i.String()), nil
			}),
		},
	}
}

func mathNatives() *NativeClass {
	return &NativeClass{
		Name:  "java/lang/Math",
		Super: ObjectClass,
		Methods: []NativeMember{
			static("abs", "(I)I", func(_ *Env, _ Value, args []Value) (Value, error) {
				if v := args[0].Int; v < 0 {
					return IntValue(-v), nil
				}
				return args[0], nil
			}),
			static("max", "(II)I", func(_ *Env, _ Value, args []Value) (Value, error) {
				return IntValue(max(args[0].Int, args[1].Int)), nil
			}),
			static("min", "(II)I", func(_ *Env, _ Value, args []Value) (Value, error) {
				return IntValue(min(args[0].Int, args[1].Int)), nil
			}),
			static("sqrt", "(D)D", func(_ *Env, _ Value, args []Value) (Value, error) {
				return DoubleValue(math.Sqrt(args[0].Double)), nil
			}),
			static("pow", "(DD)D", func(_ *Env, _ Value, args []Value) (Value, error) {
				return DoubleValue(math.Pow(args[0].Double, args[1].Double)), nil
			}),
		},
	}
}

func stringBuilderNatives() *NativeClass {
	sbThis := hostThis[*native.StringBuilder]
	nc := &NativeClass{
		Name:  "java/lang/StringBuilder",
		Super: ObjectClass,
		New:   func() interface{} { return &native.StringBuilder{} },
		Methods: []NativeMember{
			virtual("<init>", "()V", func(*Env, Value, []Value) (Value, error) { return void() }),
			virtual("<init>", "(Ljava/lang/String;)V", func(env *Env, this Value, args []Value) (Value, error) {
				sb, err := sbThis(this)
				if err != nil {
					return Value{}, err
				}
				s, err := stringOf(env, args[0])
				sb.Append(s)
				return Value{}, err
			}),
			virtual("length", "()I", func(_ *Env, this Value, _ []Value) (Value, error) {
				sb, err := sbThis(this)
				if err != nil {
					return Value{}, err
				}
				return IntValue(int32(sb.Len())), nil
			}),
			virtual("toString", "()Ljava/lang/String;", func(_ *Env, this Value, _ []Value) (Value, error) {
				sb, err := sbThis(this)
				if err != nil {
					return Value{}, err
				}
				return RefValue(sb.String()), nil
			}),
		},
	}
	for _, t := range []classfile.FieldType{"I", "J", "F", "D", "Z", "C", "Ljava/lang/String;", "Ljava/lang/Object;"} {
		t := t
		nc.Methods = append(nc.Methods, virtual("append", "("+string(t)+")Ljava/lang/StringBuilder;",
			func(env *Env, this Value, args []Value) (Value, error) {
				sb, err := sbThis(this)
				if err != nil {
					return Value{}, err
				}
				s, err := formatArg(env, args[0], t)
				if err != nil {
					return Value{}, err
				}
				sb.Append(s)
				return this, nil
			}))
	}
	return nc
}

func hashMapNatives() *NativeClass {
	mapThis := hostThis[*native.HashMap]
	return &NativeClass{
		Name:  "java/util/HashMap",
		Super: ObjectClass,
		New:   func() interface{} { return native.NewHashMap() },
		Methods: []NativeMember{
			virtual("<init>", "()V", func(*Env, Value, []Value) (Value, error) { return void() }),
			virtual("get", "(Ljava/lang/Object;)Ljava/lang/Object;", func(_ *Env, this Value, args []Value) (Value, error) {
				m, err := mapThis(this)
				if err != nil {
					return Value{}, err
				}
				return RefValue(m.Get(args[0].Ref)), nil
			}),
			virtual("put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", func(_ *Env, this Value, args []Value) (Value, error) {
				m, err := mapThis(this)
				if err != nil {
					return Value{}, err
				}
				return RefValue(m.Put(args[0].Ref, args[1].Ref)), nil
			}),
			virtual("containsKey", "(Ljava/lang/Object;)Z", func(_ *Env, this Value, args []Value) (Value, error) {
				m, err := mapThis(this)
				if err != nil {
					return Value{}, err
				}
				return BoolValue(m.ContainsKey(args[0].Ref)), nil
			}),
			virtual("remove", "(Ljava/lang/Object;)Ljava/lang/Object;", func(_ *Env, this Value, args []Value) (Value, error) {
				m, err := mapThis(this)
				if err != nil {
					return Value{}, err
				}
				return RefValue(m.Remove(args[0].Ref)), nil
			}),
			virtual("size", "()I", func(_ *Env, this Value, _ []Value) (Value, error) {
				m, err := mapThis(this)
				if err != nil {
					return Value{}, err
				}
				return IntValue(int32(m.Size())), nil
			}),
		},
	}
}

func throwableNatives() *NativeClass {
	objThis := hostThis[*JObject]
	return &NativeClass{
		Name:   ThrowableClass,
		Super:  ObjectClass,
		Fields: map[string]classfile.FieldType{detailMessageField: "Ljava/lang/String;"},
		Methods: []NativeMember{
			virtual("<init>", "()V", func(*Env, Value, []Value) (Value, error) { return void() }),
			virtual("<init>", "(Ljava/lang/String;)V", func(_ *Env, this Value, args []Value) (Value, error) {
				obj, err := objThis(this)
				if err != nil {
					return Value{}, err
				}
				obj.Fields[detailMessageField] = args[0]
				return void()
			}),
			virtual("getMessage", "()Ljava/lang/String;", func(_ *Env, this Value, _ []Value) (Value, error) {
				obj, err := objThis(this)
				if err != nil {
					return Value{}, err
				}
				return obj.Fields[detailMessageField], nil
			}),
			virtual("toString", "()Ljava/lang/String;", func(_ *Env, this Value, _ []Value) (Value, error) {
				obj, err := objThis(this)
				if err != nil {
					return Value{}, err
				}
				s := strings.ReplaceAll(obj.Class.Name, "/", ".")
				if msg, ok := obj.Fields[detailMessageField].Ref.(string); ok {
					s += ": " + msg
				}
				return RefValue(s), nil
			}),
		},
	}
}
