package vm

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/daimatz/stackjvm/pkg/classfile"
)

// newTestVM creates a VM whose class path holds exactly classes.
func newTestVM(t *testing.T, stdout io.Writer, classes []*classfile.ClassFile, opts ...Option) *VM {
	t.Helper()
	cl, err := NewMapClassLoader(classes...)
	if err != nil {
		t.Fatalf("NewMapClassLoader: %v", err)
	}
	return NewVM(cl, append([]Option{WithStdout(stdout)}, opts...)...)
}

// runWith adds a static method run with the given descriptor and code to the
// class being built (named Test), then runs it with args.
func runWith(t *testing.T, b *classfile.Builder, desc string, code []byte, args ...Value) (Value, error) {
	t.Helper()
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "run", desc, 16, 16, code)
	v := newTestVM(t, io.Discard, []*classfile.ClassFile{b.Build()})
	return v.RunEntryPoint("Test", "run", args)
}

func runCode(t *testing.T, desc string, code []byte, args ...Value) (Value, error) {
	t.Helper()
	return runWith(t, classfile.NewBuilder("Test", ObjectClass), desc, code, args...)
}

func mustRun(t *testing.T, desc string, code []byte, args ...Value) Value {
	t.Helper()
	v, err := runCode(t, desc, code, args...)
	if err != nil {
		t.Fatalf("run %s: %v", desc, err)
	}
	return v
}

// executeAndGetInt runs code as a static method taking one int per local and
// returning int. The bytecodes must end with ireturn (0xAC).
func executeAndGetInt(t *testing.T, code []byte, locals ...int32) int32 {
	t.Helper()
	args := make([]Value, len(locals))
	for i, l := range locals {
		args[i] = IntValue(l)
	}
	desc := "(" + strings.Repeat("I", len(locals)) + ")I"
	v := mustRun(t, desc, code, args...)
	if v.Type != TypeInt {
		t.Fatalf("result type: got %v, want int", v.Type)
	}
	return v.Int
}

// digits is a code tail that pops n single-digit ints and returns them as
// one decimal number, bottom of the stack first.
func digits(n int) []byte {
	var code []byte
	for i := 0; i < n; i++ {
		code = append(code, OpIstore, byte(i))
	}
	code = append(code, OpIconst0)
	for i := n - 1; i >= 0; i-- {
		code = append(code, OpBipush, 10, OpImul, OpIload, byte(i), OpIadd)
	}
	return append(code, OpIreturn)
}

func be32(v int32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestIconst(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		want   int32
	}{
		{"iconst_m1", 0x02, -1},
		{"iconst_0", 0x03, 0},
		{"iconst_1", 0x04, 1},
		{"iconst_2", 0x05, 2},
		{"iconst_3", 0x06, 3},
		{"iconst_4", 0x07, 4},
		{"iconst_5", 0x08, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := []byte{tt.opcode, 0xAC} // iconst_N, ireturn
			got := executeAndGetInt(t, code)
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestBipushSipush(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"bipush positive", []byte{0x10, 42, 0xAC}, 42},
		{"bipush min_byte", []byte{0x10, 0x80, 0xAC}, -128},
		{"sipush positive", []byte{0x11, 0x01, 0x00, 0xAC}, 256},
		{"sipush negative", []byte{0x11, 0xFF, 0x00, 0xAC}, -256},
		{"sipush max_short", []byte{0x11, 0x7F, 0xFF, 0xAC}, 32767},
		{"sipush min_short", []byte{0x11, 0x80, 0x00, 0xAC}, -32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := executeAndGetInt(t, tt.code); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLdc(t *testing.T) {
	t.Run("int, float and string", func(t *testing.T) {
		b := classfile.NewBuilder("Test", ObjectClass)
		i := b.Integer(100000)
		f := b.Float(1.5)
		s := b.String("hi")
		code := []byte{
			OpLdc, byte(i), // ldc 100000
			OpLdc, byte(f), // ldc 1.5f
			OpF2i,                         // f2i -> 1
			OpIadd,                        // 100001
			OpLdcW, byte(s >> 8), byte(s), // ldc_w "hi"
			OpInvokevirtual, 0, 0, // patched below
			OpIadd,
			OpIreturn,
		}
		length := b.MethodRef(StringClass, "length", "()I")
		code[10], code[11] = byte(length>>8), byte(length)
		v, err := runWith(t, b, "()I", code)
		if err != nil {
			t.Fatal(err)
		}
		if v.Int != 100003 {
			t.Errorf("got %d, want 100003", v.Int)
		}
	})

	t.Run("ldc2_w long and double", func(t *testing.T) {
		b := classfile.NewBuilder("Test", ObjectClass)
		l := b.Long(5000000000)
		d := b.Double(0.5)
		code := []byte{
			OpLdc2W, byte(l >> 8), byte(l), // ldc2_w 5000000000
			OpLdc2W, byte(d >> 8), byte(d), // ldc2_w 0.5
			OpD2l,  // 0
			OpLadd, // 5000000000
			OpLconst1,
			OpLadd,
			OpLreturn,
		}
		v, err := runWith(t, b, "()J", code)
		if err != nil {
			t.Fatal(err)
		}
		if v.Type != TypeLong || v.Long != 5000000001 {
			t.Errorf("got %v, want long(5000000001)", v)
		}
	})

	t.Run("ldc of a class constant is rejected", func(t *testing.T) {
		b := classfile.NewBuilder("Test", ObjectClass)
		c := b.Class("Other")
		_, err := runWith(t, b, "()I", []byte{OpLdc, byte(c), OpIreturn})
		if !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("got %v, want ErrTypeMismatch", err)
		}
	})
}

func TestArithmeticInstructions(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"iadd: 3+4=7", []byte{0x06, 0x07, 0x60, 0xAC}, 7},
		{"isub: 5-3=2", []byte{0x08, 0x06, 0x64, 0xAC}, 2},
		{"imul: 3*4=12", []byte{0x06, 0x07, 0x68, 0xAC}, 12},
		{"idiv: 5/2=2", []byte{0x08, 0x05, 0x6C, 0xAC}, 2},
		{"idiv: -5/2=-2", []byte{0x10, 0xFB, 0x05, 0x6C, 0xAC}, -2},
		{"irem: 5%3=2", []byte{0x08, 0x06, 0x70, 0xAC}, 2},
		{"irem: -5%3=-2", []byte{0x10, 0xFB, 0x06, 0x70, 0xAC}, -2},
		{"ineg: -(5)=-5", []byte{0x08, 0x74, 0xAC}, -5},
		{"compound: (2+3)*4=20", []byte{0x05, 0x06, 0x60, 0x07, 0x68, 0xAC}, 20},
		{"ishl: 1<<33 masks to 1<<1", []byte{0x04, 0x10, 33, 0x78, 0xAC}, 2},
		{"ishr: -8>>1=-4", []byte{0x10, 0xF8, 0x04, 0x7A, 0xAC}, -4},
		{"iushr: -1>>>28=15", []byte{0x02, 0x10, 28, 0x7C, 0xAC}, 15},
		{"iand: 6&3=2", []byte{0x10, 6, 0x06, 0x7E, 0xAC}, 2},
		{"ior: 6|3=7", []byte{0x10, 6, 0x06, 0x80, 0xAC}, 7},
		{"ixor: 6^3=5", []byte{0x10, 6, 0x06, 0x82, 0xAC}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, tt.code)
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestOverflow(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		want   int32
		locals []int32
	}{
		{
			name:   "iadd overflow wraps",
			code:   []byte{0x1A, 0x1B, 0x60, 0xAC}, // iload_0, iload_1, iadd, ireturn
			locals: []int32{math.MaxInt32, 1},
			want:   math.MinInt32,
		},
		{
			name:   "isub underflow wraps",
			code:   []byte{0x1A, 0x1B, 0x64, 0xAC},
			locals: []int32{math.MinInt32, 1},
			want:   math.MaxInt32,
		},
		{
			name:   "imul overflow wraps",
			code:   []byte{0x1A, 0x1B, 0x68, 0xAC},
			locals: []int32{math.MaxInt32, 2},
			want:   -2,
		},
		{
			name:   "ineg MinInt32 stays MinInt32",
			code:   []byte{0x1A, 0x74, 0xAC},
			locals: []int32{math.MinInt32},
			want:   math.MinInt32,
		},
		{
			name:   "idiv MinInt32 by -1",
			code:   []byte{0x1A, 0x1B, 0x6C, 0xAC},
			locals: []int32{math.MinInt32, -1},
			want:   math.MinInt32,
		},
		{
			name:   "irem MinInt32 by -1",
			code:   []byte{0x1A, 0x1B, 0x70, 0xAC},
			locals: []int32{math.MinInt32, -1},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, tt.code, tt.locals...)
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestDivisionByZero(t *testing.T) {
	tests := []struct {
		name string
		desc string
		code []byte
	}{
		{"idiv", "()I", []byte{0x08, 0x03, 0x6C, 0xAC}}, // iconst_5, iconst_0, idiv, ireturn
		{"irem", "()I", []byte{0x08, 0x03, 0x70, 0xAC}},
		{"ldiv", "()J", []byte{0x0A, 0x09, 0x6D, 0xAD}}, // lconst_1, lconst_0, ldiv, lreturn
		{"lrem", "()J", []byte{0x0A, 0x09, 0x71, 0xAD}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCode(t, tt.desc, tt.code)
			if !errors.Is(err, ErrArithmetic) {
				t.Fatalf("got %v, want ArithmeticException", err)
			}
			var exc *JavaException
			if !errors.As(err, &exc) {
				t.Fatalf("error %v does not carry a *JavaException", err)
			}
			if got := exc.Error(); got != "ArithmeticException: / by zero" {
				t.Errorf("error message: got %q, want %q", got, "ArithmeticException: / by zero")
			}
			var ee *ExecutionError
			if !errors.As(err, &ee) || ee.Op != tt.name || ee.PC != 2 {
				t.Errorf("execution error: got %+v, want op %s at pc 2", ee, tt.name)
			}
		})
	}

	t.Run("fdiv by zero is infinity", func(t *testing.T) {
		// fconst_1, fconst_0, fdiv, freturn
		v := mustRun(t, "()F", []byte{0x0C, 0x0B, 0x6E, 0xAE})
		if !math.IsInf(float64(v.Float), 1) {
			t.Errorf("got %v, want +Inf", v.Float)
		}
	})
}

func TestLongFloatDouble(t *testing.T) {
	t.Run("long shifts mask to six bits", func(t *testing.T) {
		// lconst_1, bipush 63, lshl, lreturn
		v := mustRun(t, "()J", []byte{0x0A, 0x10, 63, 0x79, 0xAD})
		if v.Long != math.MinInt64 {
			t.Errorf("1<<63: got %d", v.Long)
		}
		// lconst_1, bipush 65, lshl, lreturn
		v = mustRun(t, "()J", []byte{0x0A, 0x10, 65, 0x79, 0xAD})
		if v.Long != 2 {
			t.Errorf("1<<65: got %d, want 2", v.Long)
		}
	})

	t.Run("long arguments", func(t *testing.T) {
		// lload_0, lload_2, lsub, lreturn
		v := mustRun(t, "(JJ)J", []byte{0x1E, 0x20, 0x65, 0xAD}, LongValue(10), LongValue(3))
		if v.Long != 7 {
			t.Errorf("got %d, want 7", v.Long)
		}
	})

	t.Run("double arithmetic", func(t *testing.T) {
		// dload_0, dconst_1, dadd, dload_0, dmul, dreturn -> (x+1)*x
		v := mustRun(t, "(D)D", []byte{0x26, 0x0F, 0x63, 0x26, 0x6B, 0xAF}, DoubleValue(2.5))
		if v.Double != 8.75 {
			t.Errorf("got %v, want 8.75", v.Double)
		}
	})

	t.Run("frem", func(t *testing.T) {
		// fload_0, fconst_2, frem, freturn
		v := mustRun(t, "(F)F", []byte{0x22, 0x0D, 0x72, 0xAE}, FloatValue(-5.5))
		if v.Float != -1.5 {
			t.Errorf("got %v, want -1.5", v.Float)
		}
	})

	t.Run("float operand of the wrong type", func(t *testing.T) {
		// iconst_1, fconst_1, fadd
		_, err := runCode(t, "()F", []byte{0x04, 0x0C, 0x62, 0xAE})
		if !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("got %v, want ErrTypeMismatch", err)
		}
	})
}

func TestConversions(t *testing.T) {
	nan := []byte{0x0E, 0x0E, 0x6F} // dconst_0, dconst_0, ddiv -> NaN
	tests := []struct {
		name string
		code []byte
		args []Value
		want int32
	}{
		{"i2b wraps", []byte{0x11, 0x00, 200, 0x91, 0xAC}, nil, -56},
		{"i2c zero-extends", []byte{0x02, 0x92, 0xAC}, nil, 65535},
		{"i2s wraps", []byte{0x1A, 0x93, 0xAC}, []Value{IntValue(40000)}, -25536},
		{"l2i truncates", []byte{0x1E, 0x88, 0xAC}, []Value{LongValue(1<<32 + 5)}, 5},
		{"d2i truncates toward zero", []byte{0x26, 0x8E, 0xAC}, []Value{DoubleValue(-3.9)}, -3},
		{"d2i saturates high", []byte{0x26, 0x8E, 0xAC}, []Value{DoubleValue(1e20)}, math.MaxInt32},
		{"d2i saturates low", []byte{0x26, 0x8E, 0xAC}, []Value{DoubleValue(-1e20)}, math.MinInt32},
		{"d2i NaN is zero", append(append([]byte{}, nan...), 0x8E, 0xAC), nil, 0},
		{"f2i", []byte{0x22, 0x8B, 0xAC}, []Value{FloatValue(7.75)}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := "()I"
			if len(tt.args) == 1 {
				switch tt.args[0].Type {
				case TypeInt:
					desc = "(I)I"
				case TypeLong:
					desc = "(J)I"
				case TypeFloat:
					desc = "(F)I"
				case TypeDouble:
					desc = "(D)I"
				}
			}
			v := mustRun(t, desc, tt.code, tt.args...)
			if v.Int != tt.want {
				t.Errorf("got %d, want %d", v.Int, tt.want)
			}
		})
	}

	t.Run("i2l, i2f and i2d", func(t *testing.T) {
		if v := mustRun(t, "()J", []byte{0x02, 0x85, 0xAD}); v.Long != -1 { // iconst_m1, i2l
			t.Errorf("i2l: got %d", v.Long)
		}
		if v := mustRun(t, "()F", []byte{0x08, 0x86, 0xAE}); v.Float != 5 { // iconst_5, i2f
			t.Errorf("i2f: got %v", v.Float)
		}
		if v := mustRun(t, "()D", []byte{0x08, 0x87, 0xAF}); v.Double != 5 { // iconst_5, i2d
			t.Errorf("i2d: got %v", v.Double)
		}
	})
}

func TestCompare(t *testing.T) {
	nan := []byte{0x0B, 0x0B, 0x6E} // fconst_0, fconst_0, fdiv -> NaN
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"lcmp less", []byte{0x09, 0x0A, 0x94, 0xAC}, -1},
		{"lcmp equal", []byte{0x0A, 0x0A, 0x94, 0xAC}, 0},
		{"lcmp greater", []byte{0x0A, 0x09, 0x94, 0xAC}, 1},
		{"fcmpl greater", []byte{0x0D, 0x0C, 0x95, 0xAC}, 1},
		{"fcmpl NaN", append(append([]byte{}, nan...), 0x0C, 0x95, 0xAC), -1},
		{"fcmpg NaN", append(append([]byte{}, nan...), 0x0C, 0x96, 0xAC), 1},
		{"dcmpl equal", []byte{0x0F, 0x0F, 0x97, 0xAC}, 0},
		{"dcmpg less", []byte{0x0E, 0x0F, 0x98, 0xAC}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := executeAndGetInt(t, tt.code); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBranch(t *testing.T) {
	t.Run("ifeq: taken (value == 0)", func(t *testing.T) {
		// Byte 0: iconst_0    (0x03)
		// Byte 1: ifeq        (0x99) branchPC=1, offset=5, target=6
		// Byte 2: 0x00
		// Byte 3: 0x05
		// Byte 4: iconst_1    (0x04)  -- not taken path
		// Byte 5: ireturn     (0xAC)
		// Byte 6: iconst_2    (0x05)  -- taken path
		// Byte 7: ireturn     (0xAC)
		code := []byte{0x03, 0x99, 0x00, 0x05, 0x04, 0xAC, 0x05, 0xAC}
		if got := executeAndGetInt(t, code); got != 2 {
			t.Errorf("ifeq taken: got %d, want 2", got)
		}
	})

	t.Run("ifne: not taken (value == 0)", func(t *testing.T) {
		// iconst_0, ifne(offset=5, target=6), iconst_3, ireturn, iconst_4, ireturn
		code := []byte{0x03, 0x9A, 0x00, 0x05, 0x06, 0xAC, 0x07, 0xAC}
		if got := executeAndGetInt(t, code); got != 3 {
			t.Errorf("ifne not taken: got %d, want 3", got)
		}
	})

	t.Run("goto: unconditional jump", func(t *testing.T) {
		// Byte 0: goto        (0xA7) branchPC=0, offset=5, target=5
		// Byte 3: iconst_1, ireturn  -- skipped
		// Byte 5: iconst_2, ireturn
		code := []byte{0xA7, 0x00, 0x05, 0x04, 0xAC, 0x05, 0xAC}
		if got := executeAndGetInt(t, code); got != 2 {
			t.Errorf("goto: got %d, want 2", got)
		}
	})

	t.Run("goto_w", func(t *testing.T) {
		// goto_w +7, iconst_1, ireturn, iconst_2, ireturn
		code := append([]byte{0xC8}, be32(7)...)
		code = append(code, 0x04, 0xAC, 0x05, 0xAC)
		if got := executeAndGetInt(t, code); got != 2 {
			t.Errorf("goto_w: got %d, want 2", got)
		}
	})

	t.Run("backward branch loop sums 1..10", func(t *testing.T) {
		code := []byte{
			0x03,     // 0: iconst_0
			0x3B,     // 1: istore_0 (sum)
			0x04,     // 2: iconst_1
			0x3C,     // 3: istore_1 (i)
			0x1B,     // 4: iload_1
			0x10, 10, // 5: bipush 10
			0xA3, 0x00, 0x0D, // 7: if_icmpgt +13 -> 20
			0x1A,             // 10: iload_0
			0x1B,             // 11: iload_1
			0x60,             // 12: iadd
			0x3B,             // 13: istore_0
			0x84, 0x01, 0x01, // 14: iinc 1 1
			0xA7, 0xFF, 0xF3, // 17: goto -13 -> 4
			0x1A, // 20: iload_0
			0xAC, // 21: ireturn
		}
		if got := executeAndGetInt(t, code); got != 55 {
			t.Errorf("loop: got %d, want 55", got)
		}
	})
}

func TestIfIcmp(t *testing.T) {
	// iload_0, iload_1, if_icmpXX(offset=5, target=7), iconst_0, ireturn, iconst_1, ireturn
	buildCode := func(opcode byte) []byte {
		return []byte{0x1A, 0x1B, opcode, 0x00, 0x05, 0x03, 0xAC, 0x04, 0xAC}
	}

	tests := []struct {
		name   string
		opcode byte
		a, b   int32
		want   int32 // 1=taken, 0=not taken
	}{
		{"if_icmpeq taken", 0x9F, 5, 5, 1},
		{"if_icmpeq not taken", 0x9F, 5, 3, 0},
		{"if_icmpne taken", 0xA0, 5, 3, 1},
		{"if_icmplt taken", 0xA1, 3, 5, 1},
		{"if_icmplt not taken", 0xA1, 5, 3, 0},
		{"if_icmpge taken (=)", 0xA2, 5, 5, 1},
		{"if_icmpgt not taken (=)", 0xA3, 5, 5, 0},
		{"if_icmple taken (<)", 0xA4, 3, 5, 1},
		{"if_icmple not taken", 0xA4, 5, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, buildCode(tt.opcode), tt.a, tt.b)
			if got != tt.want {
				t.Errorf("%s (%d vs %d): got %d, want %d", tt.name, tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIfZero(t *testing.T) {
	// iload_0, ifXX(offset=5, target=6), iconst_0, ireturn, iconst_1, ireturn
	buildCode := func(opcode byte) []byte {
		return []byte{0x1A, opcode, 0x00, 0x05, 0x03, 0xAC, 0x04, 0xAC}
	}

	tests := []struct {
		name   string
		opcode byte
		val    int32
		want   int32
	}{
		{"iflt taken", 0x9B, -1, 1},
		{"iflt not taken (zero)", 0x9B, 0, 0},
		{"ifge taken (zero)", 0x9C, 0, 1},
		{"ifge not taken (negative)", 0x9C, -1, 0},
		{"ifgt taken", 0x9D, 5, 1},
		{"ifgt not taken (zero)", 0x9D, 0, 0},
		{"ifle taken (zero)", 0x9E, 0, 1},
		{"ifle not taken (positive)", 0x9E, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, buildCode(tt.opcode), tt.val)
			if got != tt.want {
				t.Errorf("%s (val=%d): got %d, want %d", tt.name, tt.val, got, tt.want)
			}
		})
	}
}

func TestReferenceBranches(t *testing.T) {
	obj1, obj2 := RefValue(&native0{}), RefValue(&native0{})

	// aload_0, aload_1, if_acmpXX(offset=5, target=7), iconst_0, ireturn, iconst_1, ireturn
	acmp := func(op byte) []byte { return []byte{0x2A, 0x2B, op, 0x00, 0x05, 0x03, 0xAC, 0x04, 0xAC} }
	// aload_0, ifXX(offset=5, target=6), iconst_0, ireturn, iconst_1, ireturn
	null := func(op byte) []byte { return []byte{0x2A, op, 0x00, 0x05, 0x03, 0xAC, 0x04, 0xAC} }

	tests := []struct {
		name string
		desc string
		code []byte
		args []Value
		want int32
	}{
		{"if_acmpeq same", "(Ljava/lang/Object;Ljava/lang/Object;)I", acmp(OpIfAcmpeq), []Value{obj1, obj1}, 1},
		{"if_acmpne same", "(Ljava/lang/Object;Ljava/lang/Object;)I", acmp(OpIfAcmpne), []Value{obj1, obj1}, 0},
		{"if_acmpne different", "(Ljava/lang/Object;Ljava/lang/Object;)I", acmp(OpIfAcmpne), []Value{obj1, obj2}, 1},
		{"if_acmpne both null", "(Ljava/lang/Object;Ljava/lang/Object;)I", acmp(OpIfAcmpne), []Value{NullValue(), NullValue()}, 0},
		{"ifnull taken", "(Ljava/lang/Object;)I", null(OpIfnull), []Value{NullValue()}, 1},
		{"ifnull not taken", "(Ljava/lang/Object;)I", null(OpIfnull), []Value{obj1}, 0},
		{"ifnonnull taken", "(Ljava/lang/Object;)I", null(OpIfnonnull), []Value{RefValue("s")}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := mustRun(t, tt.desc, tt.code, tt.args...); v.Int != tt.want {
				t.Errorf("got %d, want %d", v.Int, tt.want)
			}
		})
	}
}

// native0 is a host object for reference tests.
type native0 struct{ _ int }

func (*native0) JavaClass() string { return ObjectClass }

func TestSwitch(t *testing.T) {
	t.Run("tableswitch", func(t *testing.T) {
		code := []byte{0x1A, OpTableswitch, 0, 0} // 0: iload_0, 1: tableswitch, 2-3: padding
		code = append(code, be32(36)...)          // 4: default -> 37
		code = append(code, be32(1)...)           // 8: low
		code = append(code, be32(3)...)           // 12: high
		code = append(code, be32(27)...)          // 16: 1 -> 28
		code = append(code, be32(30)...)          // 20: 2 -> 31
		code = append(code, be32(33)...)          // 24: 3 -> 34
		code = append(code,
			0x10, 10, 0xAC, // 28: bipush 10, ireturn
			0x10, 20, 0xAC, // 31: bipush 20, ireturn
			0x10, 30, 0xAC, // 34: bipush 30, ireturn
			0x02, 0xAC, // 37: iconst_m1, ireturn
		)
		for key, want := range map[int32]int32{0: -1, 1: 10, 2: 20, 3: 30, 4: -1, math.MinInt32: -1} {
			if got := executeAndGetInt(t, code, key); got != want {
				t.Errorf("key %d: got %d, want %d", key, got, want)
			}
		}
	})

	t.Run("lookupswitch", func(t *testing.T) {
		code := []byte{0x1A, OpLookupswitch, 0, 0}  // 0: iload_0, 1: lookupswitch, 2-3: padding
		code = append(code, be32(31)...)            // 4: default -> 32
		code = append(code, be32(2)...)             // 8: npairs
		code = append(code, be32(-5)...)            // 12: match -5
		code = append(code, be32(27)...)            //     -> 28
		code = append(code, be32(100)...)           // 20: match 100
		code = append(code, be32(29)...)            //     -> 30
		code = append(code, 0x04, 0xAC, 0x05, 0xAC) // 28: iconst_1, ireturn, 30: iconst_2, ireturn
		code = append(code, 0x03, 0xAC)             // 32: iconst_0, ireturn
		for key, want := range map[int32]int32{-5: 1, 100: 2, 0: 0, 99: 0} {
			if got := executeAndGetInt(t, code, key); got != want {
				t.Errorf("key %d: got %d, want %d", key, got, want)
			}
		}
	})
}

func TestStackOps(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"dup", append([]byte{0x04, 0x59}, digits(2)...), 11},
		{"pop", append([]byte{0x04, 0x05, 0x57}, digits(1)...), 1},
		{"swap", append([]byte{0x04, 0x05, 0x5F}, digits(2)...), 21},
		{"dup_x1", append([]byte{0x04, 0x05, 0x5A}, digits(3)...), 212},
		{"dup_x2", append([]byte{0x04, 0x05, 0x06, 0x5B}, digits(4)...), 3123},
		{"dup2", append([]byte{0x04, 0x05, 0x5C}, digits(4)...), 1212},
		{"dup2_x1", append([]byte{0x04, 0x05, 0x06, 0x5D}, digits(5)...), 23123},
		{"dup2_x2", append([]byte{0x04, 0x05, 0x06, 0x07, 0x5E}, digits(6)...), 341234},
		{"pop2 of two ints", append([]byte{0x04, 0x05, 0x06, 0x58}, digits(1)...), 1},
		{"pop2 of a long", append([]byte{0x04, 0x0A, 0x58}, digits(1)...), 1},
		// lconst_1, dup2, ladd, l2i, ireturn
		{"dup2 of a long", []byte{0x0A, 0x5C, 0x61, 0x88, 0xAC}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := executeAndGetInt(t, tt.code); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("pop of a long is rejected", func(t *testing.T) {
		_, err := runCode(t, "()I", []byte{0x0A, 0x57, 0x04, 0xAC}) // lconst_1, pop
		if !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("got %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("operand stack overflow", func(t *testing.T) {
		b := classfile.NewBuilder("Test", ObjectClass)
		b.AddMethod(classfile.AccStatic, "run", "()I", 1, 0, []byte{0x04, 0x04, 0x60, 0xAC})
		v := newTestVM(t, io.Discard, []*classfile.ClassFile{b.Build()})
		_, err := v.RunEntryPoint("Test", "run", nil)
		if !errors.Is(err, ErrStackOverflow) {
			t.Errorf("got %v, want ErrStackOverflow", err)
		}
	})

	t.Run("operand stack underflow", func(t *testing.T) {
		_, err := runCode(t, "()I", []byte{0x60, 0xAC}) // iadd on empty stack
		if !errors.Is(err, ErrStackUnderflow) {
			t.Errorf("got %v, want ErrStackUnderflow", err)
		}
	})
}

func TestLocalVarInstructions(t *testing.T) {
	t.Run("istore and iload", func(t *testing.T) {
		// iconst_5, istore_0, iload_0, ireturn
		if got := executeAndGetInt(t, []byte{0x08, 0x3B, 0x1A, 0xAC}); got != 5 {
			t.Errorf("istore_0/iload_0: got %d, want 5", got)
		}
	})

	t.Run("istore/iload with index", func(t *testing.T) {
		// bipush 42, istore 2, iload 2, ireturn
		if got := executeAndGetInt(t, []byte{0x10, 0x2A, 0x36, 0x02, 0x15, 0x02, 0xAC}); got != 42 {
			t.Errorf("istore/iload index 2: got %d, want 42", got)
		}
	})

	t.Run("wide iload/istore and iinc", func(t *testing.T) {
		b := classfile.NewBuilder("Test", ObjectClass)
		code := []byte{
			0x10, 7, // bipush 7
			OpWide, OpIstore, 0x01, 0x2C, // wide istore 300
			OpWide, OpIinc, 0x01, 0x2C, 0x03, 0xE8, // wide iinc 300 1000
			OpWide, OpIload, 0x01, 0x2C, // wide iload 300
			0xAC,
		}
		b.AddMethod(classfile.AccStatic, "run", "()I", 2, 301, code)
		v := newTestVM(t, io.Discard, []*classfile.ClassFile{b.Build()})
		got, err := v.RunEntryPoint("Test", "run", nil)
		if err != nil {
			t.Fatal(err)
		}
		if got.Int != 1007 {
			t.Errorf("got %d, want 1007", got.Int)
		}
	})

	t.Run("iinc", func(t *testing.T) {
		for _, tc := range []struct{ initial, inc, want int32 }{{10, 5, 15}, {10, -3, 7}, {100, -128, -28}, {0, 127, 127}} {
			// iinc 0 <const>, iload_0, ireturn
			code := []byte{OpIinc, 0x00, byte(int8(tc.inc)), 0x1A, 0xAC}
			if got := executeAndGetInt(t, code, tc.initial); got != tc.want {
				t.Errorf("iinc(%d, %d): got %d, want %d", tc.initial, tc.inc, got, tc.want)
			}
		}
	})

	t.Run("loading the upper half of a long", func(t *testing.T) {
		// lconst_1, lstore_0, iload_1
		_, err := runCode(t, "()I", []byte{0x0A, 0x3F, 0x1B, 0xAC})
		if !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("got %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("load of the wrong type", func(t *testing.T) {
		// fconst_1, fstore_0, iload_0
		_, err := runCode(t, "()I", []byte{0x0C, 0x43, 0x1A, 0xAC})
		if !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("got %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("local index out of range", func(t *testing.T) {
		_, err := runCode(t, "()I", []byte{0x15, 0x20, 0xAC}) // iload 32
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("got %v, want ErrIndexOutOfRange", err)
		}
	})
}

func TestReturnType(t *testing.T) {
	t.Run("ireturn narrows to the declared type", func(t *testing.T) {
		v := mustRun(t, "()B", []byte{0x11, 0x01, 0x2C, 0xAC}) // sipush 300, ireturn
		if v.Int != 44 {
			t.Errorf("got %d, want 44", v.Int)
		}
	})

	t.Run("areturn", func(t *testing.T) {
		v := mustRun(t, "(Ljava/lang/String;)Ljava/lang/String;", []byte{0x2A, 0xB0}, RefValue("x"))
		if v.Ref != "x" {
			t.Errorf("got %v, want x", v)
		}
	})

	t.Run("areturn null", func(t *testing.T) {
		v := mustRun(t, "()Ljava/lang/Object;", []byte{0x01, 0xB0})
		if !v.IsNull() {
			t.Errorf("got %v, want null", v)
		}
	})

	tests := []struct {
		name string
		desc string
		code []byte
	}{
		{"ireturn from void method", "()V", []byte{0x04, 0xAC}},
		{"return from int method", "()I", []byte{0xB1}},
		{"lreturn from int method", "()I", []byte{0x0A, 0xAD}},
		{"ireturn of a float", "()I", []byte{0x0C, 0xAC}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCode(t, tt.desc, tt.code); !errors.Is(err, ErrTypeMismatch) {
				t.Errorf("got %v, want ErrTypeMismatch", err)
			}
		})
	}

	t.Run("falling off the end", func(t *testing.T) {
		if _, err := runCode(t, "()V", []byte{0x00}); !errors.Is(err, ErrNoInstruction) {
			t.Errorf("got %v, want ErrNoInstruction", err)
		}
	})
}

func TestArrays(t *testing.T) {
	t.Run("newarray int store and load", func(t *testing.T) {
		code := []byte{
			0x06, OpNewarray, 10, // iconst_3, newarray int
			0x4B,       // astore_0
			0x2A, 0x04, // aload_0, iconst_1
			0x10, 42, 0x4F, // bipush 42, iastore
			0x2A, 0x04, 0x2E, // aload_0, iconst_1, iaload
			0x2A, 0xBE, // aload_0, arraylength
			0x60, 0xAC, // iadd, ireturn
		}
		if got := executeAndGetInt(t, code); got != 45 {
			t.Errorf("got %d, want 45", got)
		}
	})

	t.Run("bastore narrows", func(t *testing.T) {
		code := []byte{
			0x04, OpNewarray, 8, 0x4B, // iconst_1, newarray byte, astore_0
			0x2A, 0x03, 0x11, 0x01, 0x2C, 0x54, // aload_0, iconst_0, sipush 300, bastore
			0x2A, 0x03, 0x33, 0xAC, // aload_0, iconst_0, baload, ireturn
		}
		if got := executeAndGetInt(t, code); got != 44 {
			t.Errorf("got %d, want 44", got)
		}
	})

	t.Run("long array", func(t *testing.T) {
		code := []byte{
			0x05, OpNewarray, 11, 0x4B, // iconst_2, newarray long, astore_0
			0x2A, 0x04, 0x0A, 0x50, // aload_0, iconst_1, lconst_1, lastore
			0x2A, 0x04, 0x2F, 0xAD, // aload_0, iconst_1, laload, lreturn
		}
		if v := mustRun(t, "()J", code); v.Long != 1 {
			t.Errorf("got %v, want long(1)", v)
		}
	})

	t.Run("anewarray elements start null", func(t *testing.T) {
		b := classfile.NewBuilder("Test", ObjectClass)
		c := b.Class(StringClass)
		code := []byte{0x08, OpAnewarray, byte(c >> 8), byte(c), 0xB0} // iconst_5, anewarray, areturn
		v, err := runWith(t, b, "()[Ljava/lang/String;", code)
		if err != nil {
			t.Fatal(err)
		}
		arr, ok := v.Ref.(*JArray)
		if !ok {
			t.Fatalf("expected *JArray, got %T", v.Ref)
		}
		if arr.Type != "[Ljava/lang/String;" || len(arr.Elements) != 5 || !arr.Elements[4].IsNull() {
			t.Errorf("got %s of %d, want [Ljava/lang/String; of 5 nulls", arr.Type, len(arr.Elements))
		}
	})

	t.Run("multianewarray", func(t *testing.T) {
		b := classfile.NewBuilder("Test", ObjectClass)
		c := b.Class("[[I")
		code := []byte{
			0x05, 0x06, OpMultianewarray, byte(c >> 8), byte(c), 2, // iconst_2, iconst_3, multianewarray [[I 2
			0x04, 0x32, 0xBE, 0xAC, // iconst_1, aaload, arraylength, ireturn
		}
		v, err := runWith(t, b, "()I", code)
		if err != nil {
			t.Fatal(err)
		}
		if v.Int != 3 {
			t.Errorf("got %d, want 3", v.Int)
		}
	})

	errorCases := []struct {
		name string
		code []byte
		want error
	}{
		{"index out of bounds", []byte{0x06, OpNewarray, 10, 0x06, 0x2E, 0xAC}, ErrArrayIndex},
		{"negative index", []byte{0x06, OpNewarray, 10, 0x02, 0x2E, 0xAC}, ErrArrayIndex},
		{"negative size", []byte{0x02, OpNewarray, 10, 0x57, 0x03, 0xAC}, ErrNegativeArraySize},
		{"null array", []byte{0x01, 0xBE, 0xAC}, ErrNullPointer},
		{"wrong element kind", []byte{0x04, OpNewarray, 10, 0x03, 0x30, 0xAC}, ErrTypeMismatch},
		{"bad newarray type", []byte{0x04, OpNewarray, 3, 0x57, 0x03, 0xAC}, ErrTypeMismatch},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCode(t, "()I", tt.code); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("one entry per instruction start", func(t *testing.T) {
		// bipush 0xBA, sipush, ireturn: operand bytes are never decoded
		insts, err := Decode([]byte{0x10, 0xBA, 0x11, 0xBA, 0xBA, 0xAC})
		if err != nil {
			t.Fatal(err)
		}
		want := map[int]string{0: "bipush", 2: "sipush", 5: "ireturn"}
		for pc, inst := range insts {
			name, ok := want[pc]
			switch {
			case ok && (inst == nil || inst.Name() != name || inst.Offset != pc):
				t.Errorf("offset %d: got %v, want %s", pc, inst, name)
			case !ok && inst != nil:
				t.Errorf("offset %d: operand byte decoded as %v", pc, inst)
			}
		}
	})

	t.Run("unknown opcode reports its offset", func(t *testing.T) {
		_, err := Decode([]byte{0x03, 0x04, 0x60, 0xCA, 0xAC})
		var uerr *UnsupportedOpcodeError
		if !errors.As(err, &uerr) {
			t.Fatalf("got %v, want *UnsupportedOpcodeError", err)
		}
		if uerr.Offset != 3 || uerr.Value != 0xCA {
			t.Errorf("got offset %d value 0x%02X, want offset 3 value 0xCA", uerr.Offset, uerr.Value)
		}
		if !errors.Is(err, ErrUnsupportedOpcode) {
			t.Error("error does not match ErrUnsupportedOpcode")
		}
	})

	unsupported := []struct {
		name   string
		code   []byte
		offset int
	}{
		{"jsr", []byte{0x00, 0xA8, 0x00, 0x03}, 1},
		{"invokedynamic", []byte{0xBA, 0x00, 0x01, 0x00, 0x00}, 0},
		{"wide of a non-local instruction", []byte{OpWide, OpIadd, 0x00, 0x00}, 1},
	}
	for _, tt := range unsupported {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.code)
			var uerr *UnsupportedOpcodeError
			if !errors.As(err, &uerr) || uerr.Offset != tt.offset {
				t.Errorf("got %v, want unsupported opcode at %d", err, tt.offset)
			}
		})
	}

	truncated := []struct {
		name string
		code []byte
	}{
		{"sipush", []byte{0x11, 0x01}},
		{"wide iinc", []byte{OpWide, OpIinc, 0x00, 0x01, 0x00}},
		{"tableswitch header", []byte{OpTableswitch, 0, 0, 0, 0, 0, 0, 0}},
		{"tableswitch offsets", append(append(append([]byte{OpTableswitch, 0, 0, 0}, be32(0)...), be32(0)...), be32(1)...)},
		{"lookupswitch pairs", append(append([]byte{OpLookupswitch, 0, 0, 0}, be32(0)...), be32(1)...)},
	}
	for _, tt := range truncated {
		t.Run("truncated "+tt.name, func(t *testing.T) {
			if _, err := Decode(tt.code); !errors.Is(err, ErrTruncatedInstruction) {
				t.Errorf("got %v, want ErrTruncatedInstruction", err)
			}
		})
	}

	t.Run("switch padding depends on offset", func(t *testing.T) {
		// At offset 3 the operands start right at 4 with no padding.
		code := []byte{0x00, 0x00, 0x1A, OpLookupswitch}
		code = append(code, be32(2)...) // default
		code = append(code, be32(0)...) // npairs
		code = append(code, 0xAC)
		insts, err := Decode(code)
		if err != nil {
			t.Fatal(err)
		}
		if insts[12] == nil || insts[12].Name() != "ireturn" {
			t.Errorf("instruction after lookupswitch: got %v, want ireturn at 12", insts[12])
		}
	})

	t.Run("tableswitch with low > high", func(t *testing.T) {
		code := append(append(append([]byte{OpTableswitch, 0, 0, 0}, be32(0)...), be32(2)...), be32(1)...)
		if _, err := Decode(code); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("opcode names", func(t *testing.T) {
		if got := OpcodeName(OpInvokestatic); got != "invokestatic" {
			t.Errorf("got %q", got)
		}
		if got := OpcodeName(0xCA); got != "" {
			t.Errorf("unknown opcode name: got %q, want empty", got)
		}
	})
}
