package classfile

import (
	"fmt"
	"strings"
)

// FieldType is a single field descriptor such as "I", "J" or "Ljava/lang/String;".
type FieldType string

// Width is the number of local-variable slots a value of this type occupies.
func (t FieldType) Width() int {
	if t == "J" || t == "D" {
		return 2
	}
	return 1
}

// IsReference reports whether the type is a class or array reference.
func (t FieldType) IsReference() bool {
	return strings.HasPrefix(string(t), "L") || strings.HasPrefix(string(t), "[")
}

// MethodDescriptor is a parsed method descriptor.
type MethodDescriptor struct {
	Params []FieldType
	// Return is "V" for void methods.
	Return FieldType
}

// IsVoid reports whether the method returns nothing.
func (d *MethodDescriptor) IsVoid() bool {
	return d.Return == "V"
}

// ArgSlots is the number of local-variable slots the parameters occupy.
func (d *MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range d.Params {
		n += p.Width()
	}
	return n
}

// ParseMethodDescriptor parses a descriptor of the form "(params)ret".
func ParseMethodDescriptor(descriptor string) (*MethodDescriptor, error) {
	if !strings.HasPrefix(descriptor, "(") {
		return nil, fmt.Errorf("invalid method descriptor: %s", descriptor)
	}
	end := strings.IndexByte(descriptor, ')')
	if end == -1 {
		return nil, fmt.Errorf("invalid method descriptor: %s", descriptor)
	}

	d := &MethodDescriptor{}
	params := descriptor[1:end]
	for i := 0; i < len(params); {
		n, err := fieldTypeLen(params[i:])
		if err != nil {
			return nil, fmt.Errorf("%w in %s", err, descriptor)
		}
		d.Params = append(d.Params, FieldType(params[i:i+n]))
		i += n
	}

	ret := descriptor[end+1:]
	if ret != "V" {
		n, err := fieldTypeLen(ret)
		if err != nil || n != len(ret) {
			return nil, fmt.Errorf("invalid return type in %s", descriptor)
		}
	}
	d.Return = FieldType(ret)
	return d, nil
}

// fieldTypeLen returns the length of the field descriptor at the start of s.
func fieldTypeLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i == len(s) {
		return 0, fmt.Errorf("truncated type descriptor")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi == -1 {
			return 0, fmt.Errorf("unterminated class type descriptor")
		}
		return i + semi + 1, nil
	default:
		return 0, fmt.Errorf("invalid type descriptor char '%c'", s[i])
	}
}
