package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes a ClassFile back into class file format. The constant pool
// is written as-is, so every attribute name (including "Code" for methods that
// carry one) must already be present in it.
func Encode(cf *ClassFile) ([]byte, error) {
	w := &writer{}
	w.u4(classMagic)
	w.u2(cf.MinorVersion)
	w.u2(cf.MajorVersion)

	w.u2(uint16(len(cf.ConstantPool)))
	for i := 1; i < len(cf.ConstantPool); i++ {
		e := cf.ConstantPool[i]
		if e == nil {
			return nil, fmt.Errorf("constant pool index %d is empty", i)
		}
		if err := w.constant(e); err != nil {
			return nil, fmt.Errorf("constant pool index %d: %w", i, err)
		}
		if t := e.Tag(); t == TagLong || t == TagDouble {
			i++
		}
	}

	w.u2(cf.AccessFlags)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	w.u2(uint16(len(cf.Interfaces)))
	for _, idx := range cf.Interfaces {
		w.u2(idx)
	}

	idx := utf8Index(cf.ConstantPool)

	w.u2(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		if err := w.member(idx, f.AccessFlags, f.Name, f.Descriptor, f.Attributes); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}

	w.u2(uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		attrs := make([]AttributeInfo, 0, len(m.Attributes)+1)
		for _, a := range m.Attributes {
			if a.Name != "Code" {
				attrs = append(attrs, a)
			}
		}
		if m.Code != nil {
			attrs = append(attrs, AttributeInfo{Name: "Code", Data: encodeCode(m.Code)})
		}
		if err := w.member(idx, m.AccessFlags, m.Name, m.Descriptor, attrs); err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Name, err)
		}
	}

	var classAttrs []AttributeInfo
	if len(cf.BootstrapMethods) > 0 {
		classAttrs = append(classAttrs, AttributeInfo{Name: "BootstrapMethods", Data: encodeBootstrapMethods(cf.BootstrapMethods)})
	}
	if err := w.attributes(idx, classAttrs); err != nil {
		return nil, err
	}
	return w.buf, nil
}

type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8)  { w.buf = append(w.buf, v) }
func (w *writer) u2(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u4(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u8(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *writer) constant(e ConstantPoolEntry) error {
	w.u1(e.Tag())
	switch c := e.(type) {
	case *ConstantUtf8:
		// Plain UTF-8; only differs from the modified form for NUL and
		// supplementary characters.
		if len(c.Value) > math.MaxUint16 {
			return fmt.Errorf("utf8 constant too long")
		}
		w.u2(uint16(len(c.Value)))
		w.buf = append(w.buf, c.Value...)
	case *ConstantInteger:
		w.u4(uint32(c.Value))
	case *ConstantFloat:
		w.u4(math.Float32bits(c.Value))
	case *ConstantLong:
		w.u8(uint64(c.Value))
	case *ConstantDouble:
		w.u8(math.Float64bits(c.Value))
	case *ConstantClass:
		w.u2(c.NameIndex)
	case *ConstantString:
		w.u2(c.StringIndex)
	case *ConstantMemberref:
		w.u2(c.ClassIndex)
		w.u2(c.NameAndTypeIndex)
	case *ConstantNameAndType:
		w.u2(c.NameIndex)
		w.u2(c.DescriptorIndex)
	case *ConstantOpaque:
		w.buf = append(w.buf, c.Data...)
	default:
		return fmt.Errorf("unsupported constant type %T", e)
	}
	return nil
}

func (w *writer) member(idx map[string]uint16, flags uint16, name, desc string, attrs []AttributeInfo) error {
	n, ok := idx[name]
	if !ok {
		return fmt.Errorf("name %q not in constant pool", name)
	}
	d, ok := idx[desc]
	if !ok {
		return fmt.Errorf("descriptor %q not in constant pool", desc)
	}
	w.u2(flags)
	w.u2(n)
	w.u2(d)
	return w.attributes(idx, attrs)
}

func (w *writer) attributes(idx map[string]uint16, attrs []AttributeInfo) error {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		n, ok := idx[a.Name]
		if !ok {
			return fmt.Errorf("attribute name %q not in constant pool", a.Name)
		}
		w.u2(n)
		w.u4(uint32(len(a.Data)))
		w.buf = append(w.buf, a.Data...)
	}
	return nil
}

func encodeCode(c *CodeAttribute) []byte {
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Code)))
	w.buf = append(w.buf, c.Code...)
	w.u2(uint16(len(c.ExceptionHandlers)))
	for _, h := range c.ExceptionHandlers {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	w.u2(0) // no nested attributes
	return w.buf
}

func encodeBootstrapMethods(methods []BootstrapMethod) []byte {
	w := &writer{}
	w.u2(uint16(len(methods)))
	for _, m := range methods {
		w.u2(m.MethodRef)
		w.u2(uint16(len(m.BootstrapArguments)))
		for _, a := range m.BootstrapArguments {
			w.u2(a)
		}
	}
	return w.buf
}

// utf8Index maps each Utf8 constant's value to its first pool index.
func utf8Index(pool ConstantPool) map[string]uint16 {
	idx := make(map[string]uint16)
	for i, e := range pool {
		if u, ok := e.(*ConstantUtf8); ok {
			if _, seen := idx[u.Value]; !seen {
				idx[u.Value] = uint16(i)
			}
		}
	}
	return idx
}
