package vm

import (
	"fmt"

	"github.com/daimatz/stackjvm/pkg/classfile"
)

// ValueType represents the type of a Value on the stack or in local variables.
type ValueType int

const (
	TypeInt ValueType = iota // int, short, char, byte, boolean
	TypeLong
	TypeFloat
	TypeDouble
	TypeRef
	TypeNull

	// typeUnusable marks the upper half of a wide value in a slot table, or
	// the surviving half of a wide value that was partially overwritten.
	typeUnusable
)

var typeNames = [...]string{"int", "long", "float", "double", "reference", "null", "unusable"}

func (t ValueType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Value represents a value on the operand stack or in local variables.
type Value struct {
	Type   ValueType
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Ref    interface{}
}

// IntValue creates an integer Value.
func IntValue(v int32) Value {
	return Value{Type: TypeInt, Int: v}
}

// BoolValue creates the int encoding of a boolean.
func BoolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

// LongValue creates a long Value.
func LongValue(v int64) Value {
	return Value{Type: TypeLong, Long: v}
}

// FloatValue creates a float Value.
func FloatValue(v float32) Value {
	return Value{Type: TypeFloat, Float: v}
}

// DoubleValue creates a double Value.
func DoubleValue(v float64) Value {
	return Value{Type: TypeDouble, Double: v}
}

// RefValue creates a reference Value. A nil ref is the null reference.
func RefValue(ref interface{}) Value {
	if ref == nil {
		return NullValue()
	}
	return Value{Type: TypeRef, Ref: ref}
}

// NullValue creates a null reference Value.
func NullValue() Value {
	return Value{Type: TypeNull}
}

// Width is the number of slots the value occupies in a slot table.
func (v Value) Width() int {
	if v.Type == TypeLong || v.Type == TypeDouble {
		return 2
	}
	return 1
}

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool {
	return v.Type == TypeNull || (v.Type == TypeRef && v.Ref == nil)
}

// IsReference reports whether v is a reference (possibly null).
func (v Value) IsReference() bool {
	return v.Type == TypeRef || v.Type == TypeNull
}

func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return fmt.Sprintf("int(%d)", v.Int)
	case TypeLong:
		return fmt.Sprintf("long(%d)", v.Long)
	case TypeFloat:
		return fmt.Sprintf("float(%g)", v.Float)
	case TypeDouble:
		return fmt.Sprintf("double(%g)", v.Double)
	case TypeRef:
		return fmt.Sprintf("ref(%v)", v.Ref)
	case TypeNull:
		return "null"
	}
	return v.Type.String()
}

// ZeroValue is the default value of a field or array element of type t.
func ZeroValue(t classfile.FieldType) Value {
	switch t {
	case "J":
		return LongValue(0)
	case "F":
		return FloatValue(0)
	case "D":
		return DoubleValue(0)
	case "B", "C", "I", "S", "Z":
		return IntValue(0)
	}
	return NullValue()
}

// typeFor maps a field descriptor to the stack type of its values.
func typeFor(t classfile.FieldType) ValueType {
	switch t {
	case "J":
		return TypeLong
	case "F":
		return TypeFloat
	case "D":
		return TypeDouble
	case "B", "C", "I", "S", "Z":
		return TypeInt
	}
	return TypeRef
}

// assignable reports whether v may be stored where type t is declared.
func assignable(v Value, t classfile.FieldType) bool {
	want := typeFor(t)
	if want == TypeRef {
		return v.IsReference()
	}
	return v.Type == want
}
