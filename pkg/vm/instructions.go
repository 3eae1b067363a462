package vm

import (
	"fmt"
	"math"

	"github.com/daimatz/stackjvm/pkg/classfile"
)

func init() {
	register(OpNop, "nop", 0, func(*Env, *Frame) error { return nil })

	// --- Constants ---
	register(OpAconstNull, "aconst_null", 0, pushConst(NullValue()))
	register(OpIconstM1, "iconst_m1", 0, pushConst(IntValue(-1)))
	for n := 0; n <= 5; n++ {
		register(byte(OpIconst0+n), fmt.Sprintf("iconst_%d", n), 0, pushConst(IntValue(int32(n))))
	}
	register(OpLconst0, "lconst_0", 0, pushConst(LongValue(0)))
	register(OpLconst1, "lconst_1", 0, pushConst(LongValue(1)))
	register(OpFconst0, "fconst_0", 0, pushConst(FloatValue(0)))
	register(OpFconst1, "fconst_1", 0, pushConst(FloatValue(1)))
	register(OpFconst2, "fconst_2", 0, pushConst(FloatValue(2)))
	register(OpDconst0, "dconst_0", 0, pushConst(DoubleValue(0)))
	register(OpDconst1, "dconst_1", 0, pushConst(DoubleValue(1)))
	register(OpBipush, "bipush", 1, func(_ *Env, f *Frame) error {
		return f.Push(IntValue(int32(f.ReadI8())))
	})
	register(OpSipush, "sipush", 2, func(_ *Env, f *Frame) error {
		return f.Push(IntValue(int32(f.ReadI16())))
	})
	register(OpLdc, "ldc", 1, func(_ *Env, f *Frame) error {
		return ldc(f, uint16(f.ReadU8()))
	})
	register(OpLdcW, "ldc_w", 2, func(_ *Env, f *Frame) error {
		return ldc(f, f.ReadU16())
	})
	register(OpLdc2W, "ldc2_w", 2, ldc2w)

	// --- Loads and stores ---
	kinds := []struct {
		prefix string
		typ    ValueType
		load   byte
		load0  byte
		store  byte
		store0 byte
	}{
		{"i", TypeInt, OpIload, OpIload0, OpIstore, OpIstore0},
		{"l", TypeLong, OpLload, OpLload0, OpLstore, OpLstore0},
		{"f", TypeFloat, OpFload, OpFload0, OpFstore, OpFstore0},
		{"d", TypeDouble, OpDload, OpDload0, OpDstore, OpDstore0},
		{"a", TypeRef, OpAload, OpAload0, OpAstore, OpAstore0},
	}
	for _, k := range kinds {
		typ := k.typ
		register(k.load, k.prefix+"load", 1, func(_ *Env, f *Frame) error {
			return loadLocal(f, typ, int(f.ReadU8()))
		})
		register(k.store, k.prefix+"store", 1, func(_ *Env, f *Frame) error {
			return storeLocal(f, typ, int(f.ReadU8()))
		})
		for n := 0; n <= 3; n++ {
			index := n
			register(k.load0+byte(n), fmt.Sprintf("%sload_%d", k.prefix, n), 0, func(_ *Env, f *Frame) error {
				return loadLocal(f, typ, index)
			})
			register(k.store0+byte(n), fmt.Sprintf("%sstore_%d", k.prefix, n), 0, func(_ *Env, f *Frame) error {
				return storeLocal(f, typ, index)
			})
		}
	}
	register(OpIinc, "iinc", 2, func(_ *Env, f *Frame) error {
		index := int(f.ReadU8())
		return iinc(f, index, int32(f.ReadI8()))
	})
	register(OpWide, "wide", -1, wide)

	// --- Arrays ---
	register(OpIaload, "iaload", 0, arrayLoad("I"))
	register(OpLaload, "laload", 0, arrayLoad("J"))
	register(OpFaload, "faload", 0, arrayLoad("F"))
	register(OpDaload, "daload", 0, arrayLoad("D"))
	register(OpAaload, "aaload", 0, arrayLoad("L["))
	register(OpBaload, "baload", 0, arrayLoad("BZ"))
	register(OpCaload, "caload", 0, arrayLoad("C"))
	register(OpSaload, "saload", 0, arrayLoad("S"))
	register(OpIastore, "iastore", 0, arrayStore("I", TypeInt))
	register(OpLastore, "lastore", 0, arrayStore("J", TypeLong))
	register(OpFastore, "fastore", 0, arrayStore("F", TypeFloat))
	register(OpDastore, "dastore", 0, arrayStore("D", TypeDouble))
	register(OpAastore, "aastore", 0, arrayStore("L[", TypeRef))
	register(OpBastore, "bastore", 0, arrayStore("BZ", TypeInt))
	register(OpCastore, "castore", 0, arrayStore("C", TypeInt))
	register(OpSastore, "sastore", 0, arrayStore("S", TypeInt))
	register(OpNewarray, "newarray", 1, newarray)
	register(OpAnewarray, "anewarray", 2, anewarray)
	register(OpMultianewarray, "multianewarray", 3, multianewarray)
	register(OpArraylength, "arraylength", 0, arraylength)

	// --- Stack manipulation ---
	register(OpPop, "pop", 0, func(_ *Env, f *Frame) error {
		_, err := popCategory1(f)
		return err
	})
	register(OpPop2, "pop2", 0, func(_ *Env, f *Frame) error {
		_, err := popGroup(f)
		return err
	})
	register(OpDup, "dup", 0, func(_ *Env, f *Frame) error {
		v, err := popCategory1(f)
		if err != nil {
			return err
		}
		return pushAll(f, v, v)
	})
	register(OpDupX1, "dup_x1", 0, func(_ *Env, f *Frame) error {
		v1, err := popCategory1(f)
		if err != nil {
			return err
		}
		v2, err := popCategory1(f)
		if err != nil {
			return err
		}
		return pushAll(f, v1, v2, v1)
	})
	register(OpDupX2, "dup_x2", 0, func(_ *Env, f *Frame) error {
		v1, err := popCategory1(f)
		if err != nil {
			return err
		}
		below, err := popGroup(f)
		if err != nil {
			return err
		}
		return pushAll(f, append(append([]Value{v1}, below...), v1)...)
	})
	register(OpDup2, "dup2", 0, func(_ *Env, f *Frame) error {
		top, err := popGroup(f)
		if err != nil {
			return err
		}
		return pushAll(f, append(top, top...)...)
	})
	register(OpDup2X1, "dup2_x1", 0, func(_ *Env, f *Frame) error {
		top, err := popGroup(f)
		if err != nil {
			return err
		}
		v, err := popCategory1(f)
		if err != nil {
			return err
		}
		return pushAll(f, append(append(append([]Value{}, top...), v), top...)...)
	})
	register(OpDup2X2, "dup2_x2", 0, func(_ *Env, f *Frame) error {
		top, err := popGroup(f)
		if err != nil {
			return err
		}
		below, err := popGroup(f)
		if err != nil {
			return err
		}
		return pushAll(f, append(append(append([]Value{}, top...), below...), top...)...)
	})
	register(OpSwap, "swap", 0, func(_ *Env, f *Frame) error {
		v1, err := popCategory1(f)
		if err != nil {
			return err
		}
		v2, err := popCategory1(f)
		if err != nil {
			return err
		}
		return pushAll(f, v1, v2)
	})

	// --- Arithmetic ---
	popInt, popLong := (*Frame).PopInt, (*Frame).PopLong
	popFloat, popDouble := (*Frame).PopFloat, (*Frame).PopDouble

	register(OpIadd, "iadd", 0, binaryOp(popInt, IntValue, add[int32]))
	register(OpLadd, "ladd", 0, binaryOp(popLong, LongValue, add[int64]))
	register(OpFadd, "fadd", 0, binaryOp(popFloat, FloatValue, add[float32]))
	register(OpDadd, "dadd", 0, binaryOp(popDouble, DoubleValue, add[float64]))
	register(OpIsub, "isub", 0, binaryOp(popInt, IntValue, sub[int32]))
	register(OpLsub, "lsub", 0, binaryOp(popLong, LongValue, sub[int64]))
	register(OpFsub, "fsub", 0, binaryOp(popFloat, FloatValue, sub[float32]))
	register(OpDsub, "dsub", 0, binaryOp(popDouble, DoubleValue, sub[float64]))
	register(OpImul, "imul", 0, binaryOp(popInt, IntValue, mul[int32]))
	register(OpLmul, "lmul", 0, binaryOp(popLong, LongValue, mul[int64]))
	register(OpFmul, "fmul", 0, binaryOp(popFloat, FloatValue, mul[float32]))
	register(OpDmul, "dmul", 0, binaryOp(popDouble, DoubleValue, mul[float64]))
	register(OpIdiv, "idiv", 0, binaryOp(popInt, IntValue, idiv[int32]))
	register(OpLdiv, "ldiv", 0, binaryOp(popLong, LongValue, idiv[int64]))
	register(OpFdiv, "fdiv", 0, binaryOp(popFloat, FloatValue, fdiv[float32]))
	register(OpDdiv, "ddiv", 0, binaryOp(popDouble, DoubleValue, fdiv[float64]))
	register(OpIrem, "irem", 0, binaryOp(popInt, IntValue, irem[int32]))
	register(OpLrem, "lrem", 0, binaryOp(popLong, LongValue, irem[int64]))
	register(OpFrem, "frem", 0, binaryOp(popFloat, FloatValue, frem[float32]))
	register(OpDrem, "drem", 0, binaryOp(popDouble, DoubleValue, frem[float64]))
	register(OpIneg, "ineg", 0, unary(popInt, IntValue, neg[int32]))
	register(OpLneg, "lneg", 0, unary(popLong, LongValue, neg[int64]))
	register(OpFneg, "fneg", 0, unary(popFloat, FloatValue, neg[float32]))
	register(OpDneg, "dneg", 0, unary(popDouble, DoubleValue, neg[float64]))

	register(OpIshl, "ishl", 0, binaryOp(popInt, IntValue, func(a, b int32) (int32, error) { return a << (b & 0x1f), nil }))
	register(OpIshr, "ishr", 0, binaryOp(popInt, IntValue, func(a, b int32) (int32, error) { return a >> (b & 0x1f), nil }))
	register(OpIushr, "iushr", 0, binaryOp(popInt, IntValue, func(a, b int32) (int32, error) { return int32(uint32(a) >> (b & 0x1f)), nil }))
	register(OpLshl, "lshl", 0, longShift(func(a int64, s uint) int64 { return a << s }))
	register(OpLshr, "lshr", 0, longShift(func(a int64, s uint) int64 { return a >> s }))
	register(OpLushr, "lushr", 0, longShift(func(a int64, s uint) int64 { return int64(uint64(a) >> s) }))
	register(OpIand, "iand", 0, binaryOp(popInt, IntValue, and[int32]))
	register(OpLand, "land", 0, binaryOp(popLong, LongValue, and[int64]))
	register(OpIor, "ior", 0, binaryOp(popInt, IntValue, or[int32]))
	register(OpLor, "lor", 0, binaryOp(popLong, LongValue, or[int64]))
	register(OpIxor, "ixor", 0, binaryOp(popInt, IntValue, xor[int32]))
	register(OpLxor, "lxor", 0, binaryOp(popLong, LongValue, xor[int64]))

	// --- Conversions ---
	register(OpI2l, "i2l", 0, convert(popInt, LongValue, func(v int32) int64 { return int64(v) }))
	register(OpI2f, "i2f", 0, convert(popInt, FloatValue, func(v int32) float32 { return float32(v) }))
	register(OpI2d, "i2d", 0, convert(popInt, DoubleValue, func(v int32) float64 { return float64(v) }))
	register(OpL2i, "l2i", 0, convert(popLong, IntValue, func(v int64) int32 { return int32(v) }))
	register(OpL2f, "l2f", 0, convert(popLong, FloatValue, func(v int64) float32 { return float32(v) }))
	register(OpL2d, "l2d", 0, convert(popLong, DoubleValue, func(v int64) float64 { return float64(v) }))
	register(OpF2i, "f2i", 0, convert(popFloat, IntValue, func(v float32) int32 { return toInt32(float64(v)) }))
	register(OpF2l, "f2l", 0, convert(popFloat, LongValue, func(v float32) int64 { return toInt64(float64(v)) }))
	register(OpF2d, "f2d", 0, convert(popFloat, DoubleValue, func(v float32) float64 { return float64(v) }))
	register(OpD2i, "d2i", 0, convert(popDouble, IntValue, toInt32))
	register(OpD2l, "d2l", 0, convert(popDouble, LongValue, toInt64))
	register(OpD2f, "d2f", 0, convert(popDouble, FloatValue, func(v float64) float32 { return float32(v) }))
	register(OpI2b, "i2b", 0, convert(popInt, IntValue, func(v int32) int32 { return narrowInt(v, 'B') }))
	register(OpI2c, "i2c", 0, convert(popInt, IntValue, func(v int32) int32 { return narrowInt(v, 'C') }))
	register(OpI2s, "i2s", 0, convert(popInt, IntValue, func(v int32) int32 { return narrowInt(v, 'S') }))

	// --- Comparisons ---
	register(OpLcmp, "lcmp", 0, compare(popLong, 0))
	register(OpFcmpl, "fcmpl", 0, compare(popFloat, -1))
	register(OpFcmpg, "fcmpg", 0, compare(popFloat, 1))
	register(OpDcmpl, "dcmpl", 0, compare(popDouble, -1))
	register(OpDcmpg, "dcmpg", 0, compare(popDouble, 1))

	// --- Control flow ---
	register(OpIfeq, "ifeq", 2, branchIf(func(v int32) bool { return v == 0 }))
	register(OpIfne, "ifne", 2, branchIf(func(v int32) bool { return v != 0 }))
	register(OpIflt, "iflt", 2, branchIf(func(v int32) bool { return v < 0 }))
	register(OpIfge, "ifge", 2, branchIf(func(v int32) bool { return v >= 0 }))
	register(OpIfgt, "ifgt", 2, branchIf(func(v int32) bool { return v > 0 }))
	register(OpIfle, "ifle", 2, branchIf(func(v int32) bool { return v <= 0 }))
	register(OpIfIcmpeq, "if_icmpeq", 2, branchIcmp(func(a, b int32) bool { return a == b }))
	register(OpIfIcmpne, "if_icmpne", 2, branchIcmp(func(a, b int32) bool { return a != b }))
	register(OpIfIcmplt, "if_icmplt", 2, branchIcmp(func(a, b int32) bool { return a < b }))
	register(OpIfIcmpge, "if_icmpge", 2, branchIcmp(func(a, b int32) bool { return a >= b }))
	register(OpIfIcmpgt, "if_icmpgt", 2, branchIcmp(func(a, b int32) bool { return a > b }))
	register(OpIfIcmple, "if_icmple", 2, branchIcmp(func(a, b int32) bool { return a <= b }))
	register(OpIfAcmpeq, "if_acmpeq", 2, branchAcmp(true))
	register(OpIfAcmpne, "if_acmpne", 2, branchAcmp(false))
	register(OpIfnull, "ifnull", 2, branchNull(true))
	register(OpIfnonnull, "ifnonnull", 2, branchNull(false))
	register(OpGoto, "goto", 2, func(_ *Env, f *Frame) error {
		start := f.PC - 1
		f.PC = start + int(f.ReadI16())
		return nil
	})
	register(OpGotoW, "goto_w", 4, func(_ *Env, f *Frame) error {
		start := f.PC - 1
		f.PC = start + int(f.ReadI32())
		return nil
	})
	register(OpTableswitch, "tableswitch", -1, tableswitch)
	register(OpLookupswitch, "lookupswitch", -1, lookupswitch)

	// --- Returns ---
	register(OpIreturn, "ireturn", 0, valueReturn(TypeInt))
	register(OpLreturn, "lreturn", 0, valueReturn(TypeLong))
	register(OpFreturn, "freturn", 0, valueReturn(TypeFloat))
	register(OpDreturn, "dreturn", 0, valueReturn(TypeDouble))
	register(OpAreturn, "areturn", 0, valueReturn(TypeRef))
	register(OpReturn, "return", 0, func(_ *Env, f *Frame) error {
		if ret := f.Method.ReturnType(); ret != "V" {
			return fmt.Errorf("%w: void return from method returning %s", ErrTypeMismatch, ret)
		}
		f.SetReturn(Value{}, "V")
		return nil
	})

	// --- Objects, fields and invocation (invoke.go) ---
	register(OpGetstatic, "getstatic", 2, getstatic)
	register(OpPutstatic, "putstatic", 2, putstatic)
	register(OpGetfield, "getfield", 2, getfield)
	register(OpPutfield, "putfield", 2, putfield)
	register(OpInvokevirtual, "invokevirtual", 2, func(env *Env, f *Frame) error {
		return invokeVirtual(env, f, f.ReadU16())
	})
	register(OpInvokespecial, "invokespecial", 2, invokeSpecial)
	register(OpInvokestatic, "invokestatic", 2, invokeStatic)
	register(OpInvokeinterface, "invokeinterface", 4, func(env *Env, f *Frame) error {
		index := f.ReadU16()
		f.ReadU8() // count
		f.ReadU8() // always 0
		return invokeVirtual(env, f, index)
	})
	register(OpNew, "new", 2, newObject)
	register(OpAthrow, "athrow", 0, athrow)
	register(OpCheckcast, "checkcast", 2, checkcast)
	register(OpInstanceof, "instanceof", 2, instanceof)
	register(OpMonitorenter, "monitorenter", 0, monitor)
	register(OpMonitorexit, "monitorexit", 0, monitor)
}

func pushConst(v Value) execFunc {
	return func(_ *Env, f *Frame) error { return f.Push(v) }
}

func pushAll(f *Frame, vs ...Value) error {
	for _, v := range vs {
		if err := f.Push(v); err != nil {
			return err
		}
	}
	return nil
}

func ldc(f *Frame, index uint16) error {
	e, err := f.Pool.Entry(index)
	if err != nil {
		return err
	}
	switch c := e.(type) {
	case *classfile.ConstantInteger:
		return f.Push(IntValue(c.Value))
	case *classfile.ConstantFloat:
		return f.Push(FloatValue(c.Value))
	case *classfile.ConstantString:
		s, err := f.Pool.Utf8(c.StringIndex)
		if err != nil {
			return err
		}
		return f.Push(RefValue(s))
	}
	return fmt.Errorf("%w: ldc of constant pool entry %d (tag %d)", ErrTypeMismatch, index, e.Tag())
}

func ldc2w(_ *Env, f *Frame) error {
	index := f.ReadU16()
	e, err := f.Pool.Entry(index)
	if err != nil {
		return err
	}
	switch c := e.(type) {
	case *classfile.ConstantLong:
		return f.Push(LongValue(c.Value))
	case *classfile.ConstantDouble:
		return f.Push(DoubleValue(c.Value))
	}
	return fmt.Errorf("%w: ldc2_w of constant pool entry %d (tag %d)", ErrTypeMismatch, index, e.Tag())
}

func checkType(v Value, t ValueType) error {
	if t == TypeRef && v.IsReference() || v.Type == t {
		return nil
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, t, v.Type)
}

func loadLocal(f *Frame, t ValueType, index int) error {
	v, err := f.GetLocal(index)
	if err != nil {
		return err
	}
	if err := checkType(v, t); err != nil {
		return fmt.Errorf("local %d: %w", index, err)
	}
	return f.Push(v)
}

func storeLocal(f *Frame, t ValueType, index int) error {
	v, err := f.Pop()
	if err != nil {
		return err
	}
	if err := checkType(v, t); err != nil {
		return err
	}
	return f.SetLocal(index, v)
}

func iinc(f *Frame, index int, delta int32) error {
	v, err := f.GetLocal(index)
	if err != nil {
		return err
	}
	if v.Type != TypeInt {
		return fmt.Errorf("%w: iinc on local %d holding %s", ErrTypeMismatch, index, v.Type)
	}
	return f.SetLocal(index, IntValue(v.Int+delta))
}

// wide extends the local variable index of the following load, store or
// iinc to 16 bits.
func wide(_ *Env, f *Frame) error {
	op := f.ReadU8()
	index := int(f.ReadU16())
	switch {
	case op == OpIinc:
		return iinc(f, index, int32(f.ReadI16()))
	case op >= OpIload && op <= OpAload:
		return loadLocal(f, wideTypes[op-OpIload], index)
	case op >= OpIstore && op <= OpAstore:
		return storeLocal(f, wideTypes[op-OpIstore], index)
	}
	return &UnsupportedOpcodeError{Offset: f.PC - 3, Value: op}
}

var wideTypes = [...]ValueType{TypeInt, TypeLong, TypeFloat, TypeDouble, TypeRef}

// --- Stack manipulation helpers ---

func popCategory1(f *Frame) (Value, error) {
	v, err := f.Pop()
	if err != nil {
		return Value{}, err
	}
	if v.Width() != 1 {
		return Value{}, fmt.Errorf("%w: %s where a single-word value was expected", ErrTypeMismatch, v.Type)
	}
	return v, nil
}

// popGroup pops two words: one long or double, or two single-word values.
// The result is in stack order, bottom first.
func popGroup(f *Frame) ([]Value, error) {
	v1, err := f.Pop()
	if err != nil {
		return nil, err
	}
	if v1.Width() == 2 {
		return []Value{v1}, nil
	}
	v2, err := popCategory1(f)
	if err != nil {
		return nil, err
	}
	return []Value{v2, v1}, nil
}

// --- Arithmetic helpers ---

type integer interface{ ~int32 | ~int64 }
type float interface{ ~float32 | ~float64 }
type number interface{ integer | float }

func binaryOp[T number](pop func(*Frame) (T, error), box func(T) Value, op func(a, b T) (T, error)) execFunc {
	return func(_ *Env, f *Frame) error {
		b, err := pop(f)
		if err != nil {
			return err
		}
		a, err := pop(f)
		if err != nil {
			return err
		}
		r, err := op(a, b)
		if err != nil {
			return err
		}
		return f.Push(box(r))
	}
}

func unary[T number](pop func(*Frame) (T, error), box func(T) Value, op func(T) T) execFunc {
	return func(_ *Env, f *Frame) error {
		v, err := pop(f)
		if err != nil {
			return err
		}
		return f.Push(box(op(v)))
	}
}

func convert[A, B number](pop func(*Frame) (A, error), box func(B) Value, conv func(A) B) execFunc {
	return func(_ *Env, f *Frame) error {
		v, err := pop(f)
		if err != nil {
			return err
		}
		return f.Push(box(conv(v)))
	}
}

func add[T number](a, b T) (T, error)  { return a + b, nil }
func sub[T number](a, b T) (T, error)  { return a - b, nil }
func mul[T number](a, b T) (T, error)  { return a * b, nil }
func neg[T number](a T) T              { return -a }
func and[T integer](a, b T) (T, error) { return a & b, nil }
func or[T integer](a, b T) (T, error)  { return a | b, nil }
func xor[T integer](a, b T) (T, error) { return a ^ b, nil }

func fdiv[T float](a, b T) (T, error) { return a / b, nil }

func frem[T float](a, b T) (T, error) {
	return T(math.Mod(float64(a), float64(b))), nil
}

func divByZero() error {
	return NewJavaException("java/lang/ArithmeticException", "/ by zero")
}

// Go defines MinInt / -1 as MinInt and MinInt % -1 as 0, as the JVM does.
func idiv[T integer](a, b T) (T, error) {
	if b == 0 {
		return 0, divByZero()
	}
	return a / b, nil
}

func irem[T integer](a, b T) (T, error) {
	if b == 0 {
		return 0, divByZero()
	}
	return a % b, nil
}

func longShift(op func(a int64, s uint) int64) execFunc {
	return func(_ *Env, f *Frame) error {
		s, err := f.PopInt()
		if err != nil {
			return err
		}
		a, err := f.PopLong()
		if err != nil {
			return err
		}
		return f.Push(LongValue(op(a, uint(s&0x3f))))
	}
}

// toInt32 converts with JVM semantics: NaN is 0 and out-of-range values
// saturate.
func toInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func toInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// narrowInt truncates v to the range of the int-like descriptor t.
func narrowInt(v int32, t byte) int32 {
	switch t {
	case 'B':
		return int32(int8(v))
	case 'C':
		return int32(uint16(v))
	case 'S':
		return int32(int16(v))
	case 'Z':
		return v & 1
	}
	return v
}

func compare[T number](pop func(*Frame) (T, error), nan int32) execFunc {
	return func(_ *Env, f *Frame) error {
		b, err := pop(f)
		if err != nil {
			return err
		}
		a, err := pop(f)
		if err != nil {
			return err
		}
		r := nan
		switch {
		case a > b:
			r = 1
		case a == b:
			r = 0
		case a < b:
			r = -1
		}
		return f.Push(IntValue(r))
	}
}

// --- Branch helpers. Offsets are relative to the branch opcode. ---

func branchIf(cond func(int32) bool) execFunc {
	return func(_ *Env, f *Frame) error {
		start := f.PC - 1
		offset := f.ReadI16()
		v, err := f.PopInt()
		if err != nil {
			return err
		}
		if cond(v) {
			f.PC = start + int(offset)
		}
		return nil
	}
}

func branchIcmp(cond func(a, b int32) bool) execFunc {
	return func(_ *Env, f *Frame) error {
		start := f.PC - 1
		offset := f.ReadI16()
		b, err := f.PopInt()
		if err != nil {
			return err
		}
		a, err := f.PopInt()
		if err != nil {
			return err
		}
		if cond(a, b) {
			f.PC = start + int(offset)
		}
		return nil
	}
}

func branchAcmp(eq bool) execFunc {
	return func(_ *Env, f *Frame) error {
		start := f.PC - 1
		offset := f.ReadI16()
		b, err := f.PopRef()
		if err != nil {
			return err
		}
		a, err := f.PopRef()
		if err != nil {
			return err
		}
		if sameRef(a, b) == eq {
			f.PC = start + int(offset)
		}
		return nil
	}
}

func branchNull(isNull bool) execFunc {
	return func(_ *Env, f *Frame) error {
		start := f.PC - 1
		offset := f.ReadI16()
		v, err := f.PopRef()
		if err != nil {
			return err
		}
		if v.IsNull() == isNull {
			f.PC = start + int(offset)
		}
		return nil
	}
}

func tableswitch(_ *Env, f *Frame) error {
	start := f.PC - 1
	f.PC += (4 - f.PC%4) % 4
	def := f.ReadI32()
	low := f.ReadI32()
	high := f.ReadI32()
	key, err := f.PopInt()
	if err != nil {
		return err
	}
	if key < low || key > high {
		f.PC = start + int(def)
		return nil
	}
	f.PC += int(int64(key)-int64(low)) * 4
	f.PC = start + int(f.ReadI32())
	return nil
}

func lookupswitch(_ *Env, f *Frame) error {
	start := f.PC - 1
	f.PC += (4 - f.PC%4) % 4
	def := f.ReadI32()
	npairs := f.ReadI32()
	key, err := f.PopInt()
	if err != nil {
		return err
	}
	for i := int32(0); i < npairs; i++ {
		match := f.ReadI32()
		offset := f.ReadI32()
		if match == key {
			f.PC = start + int(offset)
			return nil
		}
	}
	f.PC = start + int(def)
	return nil
}

// --- Returns ---

func valueReturn(kind ValueType) execFunc {
	return func(_ *Env, f *Frame) error {
		ret := f.Method.ReturnType()
		if ret == "V" || typeFor(ret) != kind {
			return fmt.Errorf("%w: %s return from method returning %s", ErrTypeMismatch, kind, ret)
		}
		v, err := f.Pop()
		if err != nil {
			return err
		}
		if err := checkType(v, kind); err != nil {
			return err
		}
		if kind == TypeInt {
			v.Int = narrowInt(v.Int, ret[0])
		}
		f.SetReturn(v, ret)
		return nil
	}
}

// --- Arrays ---

func popArray(f *Frame) (*JArray, error) {
	ref, err := f.PopRef()
	if err != nil {
		return nil, err
	}
	if ref.IsNull() {
		return nil, NewJavaException("java/lang/NullPointerException", "array is null")
	}
	arr, ok := ref.Ref.(*JArray)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an array", ErrTypeMismatch, ref.Ref)
	}
	return arr, nil
}

func checkElement(arr *JArray, kinds string) error {
	e := arr.Type[1]
	for i := 0; i < len(kinds); i++ {
		if kinds[i] == e {
			return nil
		}
	}
	return fmt.Errorf("%w: array of %s accessed as [%c", ErrTypeMismatch, arr.ElementType(), kinds[0])
}

func checkIndex(arr *JArray, index int32) error {
	if index < 0 || int(index) >= len(arr.Elements) {
		return NewJavaException("java/lang/ArrayIndexOutOfBoundsException",
			fmt.Sprintf("Index %d out of bounds for length %d", index, len(arr.Elements)))
	}
	return nil
}

func arrayLoad(kinds string) execFunc {
	return func(_ *Env, f *Frame) error {
		index, err := f.PopInt()
		if err != nil {
			return err
		}
		arr, err := popArray(f)
		if err != nil {
			return err
		}
		if err := checkElement(arr, kinds); err != nil {
			return err
		}
		if err := checkIndex(arr, index); err != nil {
			return err
		}
		return f.Push(arr.Elements[index])
	}
}

func arrayStore(kinds string, t ValueType) execFunc {
	return func(_ *Env, f *Frame) error {
		v, err := f.Pop()
		if err != nil {
			return err
		}
		if err := checkType(v, t); err != nil {
			return err
		}
		index, err := f.PopInt()
		if err != nil {
			return err
		}
		arr, err := popArray(f)
		if err != nil {
			return err
		}
		if err := checkElement(arr, kinds); err != nil {
			return err
		}
		if err := checkIndex(arr, index); err != nil {
			return err
		}
		if t == TypeInt {
			v.Int = narrowInt(v.Int, arr.Type[1])
		}
		arr.Elements[index] = v
		return nil
	}
}

// newarrayTypes maps the newarray atype operand to an array descriptor.
var newarrayTypes = map[uint8]string{
	4: "[Z", 5: "[C", 6: "[F", 7: "[D", 8: "[B", 9: "[S", 10: "[I", 11: "[J",
}

func popCount(f *Frame) (int, error) {
	n, err := f.PopInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, NewJavaException("java/lang/NegativeArraySizeException", fmt.Sprint(n))
	}
	return int(n), nil
}

func newarray(_ *Env, f *Frame) error {
	atype := f.ReadU8()
	desc, ok := newarrayTypes[atype]
	if !ok {
		return fmt.Errorf("%w: newarray type %d", ErrTypeMismatch, atype)
	}
	n, err := popCount(f)
	if err != nil {
		return err
	}
	return f.Push(RefValue(NewArray(desc, n)))
}

func anewarray(_ *Env, f *Frame) error {
	name, err := f.Pool.ClassName(f.ReadU16())
	if err != nil {
		return err
	}
	n, err := popCount(f)
	if err != nil {
		return err
	}
	desc := "[L" + name + ";"
	if name[0] == '[' {
		desc = "[" + name
	}
	return f.Push(RefValue(NewArray(desc, n)))
}

func multianewarray(_ *Env, f *Frame) error {
	desc, err := f.Pool.ClassName(f.ReadU16())
	if err != nil {
		return err
	}
	dims := int(f.ReadU8())
	if dims == 0 || dims > len(desc) || !allBrackets(desc[:dims]) {
		return fmt.Errorf("%w: multianewarray of %s with %d dimensions", ErrTypeMismatch, desc, dims)
	}
	counts := make([]int, dims)
	for i := dims - 1; i >= 0; i-- {
		if counts[i], err = popCount(f); err != nil {
			return err
		}
	}
	return f.Push(RefValue(newMultiArray(desc, counts)))
}

func allBrackets(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			return false
		}
	}
	return true
}

func newMultiArray(desc string, counts []int) *JArray {
	arr := NewArray(desc, counts[0])
	if len(counts) > 1 {
		for i := range arr.Elements {
			arr.Elements[i] = RefValue(newMultiArray(desc[1:], counts[1:]))
		}
	}
	return arr
}

func arraylength(_ *Env, f *Frame) error {
	arr, err := popArray(f)
	if err != nil {
		return err
	}
	return f.Push(IntValue(int32(len(arr.Elements))))
}

// --- Type checks and monitors ---

func checkcast(env *Env, f *Frame) error {
	name, err := f.Pool.ClassName(f.ReadU16())
	if err != nil {
		return err
	}
	v, err := f.Peek()
	if err != nil {
		return err
	}
	if !v.IsReference() {
		return fmt.Errorf("%w: checkcast of %s", ErrTypeMismatch, v.Type)
	}
	if v.IsNull() {
		return nil
	}
	ok, err := isInstance(env, v.Ref, name)
	if err != nil {
		return err
	}
	if !ok {
		from, _ := classNameOf(v.Ref)
		return NewJavaException("java/lang/ClassCastException", fmt.Sprintf("%s cannot be cast to %s", from, name))
	}
	return nil
}

func instanceof(env *Env, f *Frame) error {
	name, err := f.Pool.ClassName(f.ReadU16())
	if err != nil {
		return err
	}
	v, err := f.PopRef()
	if err != nil {
		return err
	}
	if v.IsNull() {
		return f.Push(IntValue(0))
	}
	ok, err := isInstance(env, v.Ref, name)
	if err != nil {
		return err
	}
	return f.Push(BoolValue(ok))
}

// monitor implements monitorenter and monitorexit. Execution is
// single-threaded, so only the null check remains.
func monitor(_ *Env, f *Frame) error {
	v, err := f.PopRef()
	if err != nil {
		return err
	}
	if v.IsNull() {
		return NewJavaException("java/lang/NullPointerException", "monitor on null")
	}
	return nil
}

func athrow(_ *Env, f *Frame) error {
	v, err := f.PopRef()
	if err != nil {
		return err
	}
	if v.IsNull() {
		return NewJavaException("java/lang/NullPointerException", "throw null")
	}
	obj, ok := v.Ref.(*JObject)
	if !ok {
		return fmt.Errorf("%w: athrow of %T", ErrTypeMismatch, v.Ref)
	}
	exc := &JavaException{ClassName: obj.Class.Name, Object: obj}
	if msg, ok := obj.Fields[detailMessageField].Ref.(string); ok {
		exc.Message = msg
	}
	return exc
}
