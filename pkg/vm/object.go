package vm

import (
	"fmt"

	"github.com/daimatz/stackjvm/pkg/classfile"
	"github.com/daimatz/stackjvm/pkg/native"
)

// JObject represents an instance of a class defined in bytecode, or of a
// native class without a host representation.
type JObject struct {
	Class  *Class
	Fields map[string]Value
}

// NewObject allocates an instance of c with every instance field, including
// inherited ones, set to its zero value.
func NewObject(c *Class) *JObject {
	obj := &JObject{Class: c, Fields: make(map[string]Value)}
	for k := c; k != nil; k = k.Super {
		for _, f := range k.fieldList {
			if _, shadowed := obj.Fields[f.Name]; !f.Static && !shadowed {
				obj.Fields[f.Name] = ZeroValue(f.Descriptor)
			}
		}
	}
	return obj
}

func (o *JObject) JavaClass() string { return o.Class.Name }

// JArray represents a JVM array.
type JArray struct {
	Type     string // array descriptor, e.g. "[I"
	Elements []Value
}

// NewArray allocates an array of type desc with n zero elements.
func NewArray(desc string, n int) *JArray {
	elems := make([]Value, n)
	zero := ZeroValue(classfile.FieldType(desc[1:]))
	for i := range elems {
		elems[i] = zero
	}
	return &JArray{Type: desc, Elements: elems}
}

// ElementType returns the descriptor of the array's components.
func (a *JArray) ElementType() classfile.FieldType {
	return classfile.FieldType(a.Type[1:])
}

func (a *JArray) JavaClass() string { return a.Type }

// classNameOf returns the internal class name of a non-null reference.
func classNameOf(ref interface{}) (string, error) {
	switch r := ref.(type) {
	case string:
		return "java/lang/String", nil
	case native.Object:
		return r.JavaClass(), nil
	}
	return "", fmt.Errorf("%w: %T is not an object reference", ErrTypeMismatch, ref)
}

// classOf resolves the runtime class of a non-null reference. Arrays are
// treated as instances of java/lang/Object.
func classOf(env *Env, ref interface{}) (*Class, error) {
	if _, ok := ref.(*JArray); ok {
		return env.ResolveClass(ObjectClass)
	}
	if obj, ok := ref.(*JObject); ok {
		return obj.Class, nil
	}
	name, err := classNameOf(ref)
	if err != nil {
		return nil, err
	}
	return env.ResolveClass(name)
}

// isInstance implements the assignability test behind checkcast and
// instanceof for a non-null reference.
func isInstance(env *Env, ref interface{}, target string) (bool, error) {
	if arr, ok := ref.(*JArray); ok {
		switch {
		case target == arr.Type, target == ObjectClass:
			return true, nil
		case target == "[Ljava/lang/Object;":
			t := arr.ElementType()
			return t.IsReference(), nil
		}
		return false, nil
	}
	if len(target) > 0 && target[0] == '[' {
		return false, nil
	}
	c, err := classOf(env, ref)
	if err != nil {
		return false, err
	}
	tc, err := env.ResolveClass(target)
	if err != nil {
		return false, err
	}
	return c.IsSubclassOf(tc), nil
}

// sameRef compares two references for identity.
func sameRef(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	return a.Ref == b.Ref
}
