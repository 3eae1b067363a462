package native

import "strconv"

// Integer represents a boxed java.lang.Integer.
type Integer struct {
	Value int32
}

func (i *Integer) JavaClass() string { return "java/lang/Integer" }

func (i *Integer) String() string { return strconv.FormatInt(int64(i.Value), 10) }

// Boxes for -128..127 are shared, so reference comparison holds for them.
var integerCache [256]*Integer

func init() {
	for i := range integerCache {
		integerCache[i] = &Integer{Value: int32(i - 128)}
	}
}

// IntegerValueOf boxes v.
func IntegerValueOf(v int32) *Integer {
	if v >= -128 && v <= 127 {
		return integerCache[v+128]
	}
	return &Integer{Value: v}
}
