package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"unicode/utf16"
)

const classMagic = 0xCAFEBABE

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading class file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses an in-memory class file.
func ParseBytes(data []byte) (*ClassFile, error) {
	r := &reader{data: data}
	cf := &ClassFile{}

	magic, err := r.u4()
	if err != nil {
		return nil, fmt.Errorf("reading magic number: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	if cf.MinorVersion, err = r.u2(); err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	if cf.MajorVersion, err = r.u2(); err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}

	cpCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("reading constant pool count: %w", err)
	}
	if cf.ConstantPool, err = r.constantPool(cpCount); err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}

	if cf.AccessFlags, err = r.u2(); err != nil {
		return nil, fmt.Errorf("reading access flags: %w", err)
	}
	if cf.ThisClass, err = r.u2(); err != nil {
		return nil, fmt.Errorf("reading this_class: %w", err)
	}
	if cf.SuperClass, err = r.u2(); err != nil {
		return nil, fmt.Errorf("reading super_class: %w", err)
	}

	ifaceCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("reading interfaces count: %w", err)
	}
	cf.Interfaces = make([]uint16, ifaceCount)
	for i := range cf.Interfaces {
		if cf.Interfaces[i], err = r.u2(); err != nil {
			return nil, fmt.Errorf("reading interface %d: %w", i, err)
		}
	}

	fieldCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("reading fields count: %w", err)
	}
	cf.Fields = make([]FieldInfo, fieldCount)
	for i := range cf.Fields {
		flags, name, desc, attrs, err := r.member(cf.ConstantPool)
		if err != nil {
			return nil, fmt.Errorf("parsing field %d: %w", i, err)
		}
		cf.Fields[i] = FieldInfo{AccessFlags: flags, Name: name, Descriptor: desc, Attributes: attrs}
	}

	methodCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("reading methods count: %w", err)
	}
	cf.Methods = make([]MethodInfo, methodCount)
	for i := range cf.Methods {
		flags, name, desc, attrs, err := r.member(cf.ConstantPool)
		if err != nil {
			return nil, fmt.Errorf("parsing method %d: %w", i, err)
		}
		m := MethodInfo{AccessFlags: flags, Name: name, Descriptor: desc, Attributes: attrs}
		for _, attr := range attrs {
			if attr.Name == "Code" {
				if m.Code, err = parseCodeAttribute(attr.Data); err != nil {
					return nil, fmt.Errorf("parsing Code attribute for method %s: %w", name, err)
				}
				break
			}
		}
		cf.Methods[i] = m
	}

	attrs, err := r.attributes(cf.ConstantPool)
	if err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	for _, attr := range attrs {
		if attr.Name == "BootstrapMethods" {
			if cf.BootstrapMethods, err = parseBootstrapMethods(attr.Data); err != nil {
				return nil, fmt.Errorf("parsing BootstrapMethods: %w", err)
			}
		}
	}

	return cf, nil
}

// reader is a bounds-checked big-endian cursor over class file bytes.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u1() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u2() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u4() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u8() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) constantPool(count uint16) (ConstantPool, error) {
	pool := make(ConstantPool, count)
	for i := uint16(1); i < count; i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, fmt.Errorf("reading tag at index %d: %w", i, err)
		}
		entry, err := r.constant(tag)
		if err != nil {
			return nil, fmt.Errorf("reading entry at index %d: %w", i, err)
		}
		pool[i] = entry
		if tag == TagLong || tag == TagDouble {
			i++ // 8-byte constants take two slots
		}
	}
	return pool, nil
}

func (r *reader) constant(tag uint8) (ConstantPoolEntry, error) {
	switch tag {
	case TagUtf8:
		n, err := r.u2()
		if err != nil {
			return nil, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		return &ConstantUtf8{Value: decodeModifiedUTF8(b)}, nil
	case TagInteger:
		v, err := r.u4()
		return &ConstantInteger{Value: int32(v)}, err
	case TagFloat:
		v, err := r.u4()
		return &ConstantFloat{Value: math.Float32frombits(v)}, err
	case TagLong:
		v, err := r.u8()
		return &ConstantLong{Value: int64(v)}, err
	case TagDouble:
		v, err := r.u8()
		return &ConstantDouble{Value: math.Float64frombits(v)}, err
	case TagClass:
		v, err := r.u2()
		return &ConstantClass{NameIndex: v}, err
	case TagString:
		v, err := r.u2()
		return &ConstantString{StringIndex: v}, err
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		class, err := r.u2()
		if err != nil {
			return nil, err
		}
		nat, err := r.u2()
		return &ConstantMemberref{Kind: tag, ClassIndex: class, NameAndTypeIndex: nat}, err
	case TagNameAndType:
		name, err := r.u2()
		if err != nil {
			return nil, err
		}
		desc, err := r.u2()
		return &ConstantNameAndType{NameIndex: name, DescriptorIndex: desc}, err
	case TagMethodHandle:
		b, err := r.take(3)
		return &ConstantOpaque{Kind: tag, Data: b}, err
	case TagMethodType:
		b, err := r.take(2)
		return &ConstantOpaque{Kind: tag, Data: b}, err
	case TagDynamic, TagInvokeDynamic:
		b, err := r.take(4)
		return &ConstantOpaque{Kind: tag, Data: b}, err
	default:
		return nil, fmt.Errorf("unknown constant pool tag %d", tag)
	}
}

// member reads the shared field_info/method_info layout.
func (r *reader) member(pool ConstantPool) (flags uint16, name, desc string, attrs []AttributeInfo, err error) {
	if flags, err = r.u2(); err != nil {
		return 0, "", "", nil, fmt.Errorf("reading access flags: %w", err)
	}
	nameIndex, err := r.u2()
	if err != nil {
		return 0, "", "", nil, fmt.Errorf("reading name index: %w", err)
	}
	descIndex, err := r.u2()
	if err != nil {
		return 0, "", "", nil, fmt.Errorf("reading descriptor index: %w", err)
	}
	if name, err = pool.Utf8(nameIndex); err != nil {
		return 0, "", "", nil, fmt.Errorf("resolving name: %w", err)
	}
	if desc, err = pool.Utf8(descIndex); err != nil {
		return 0, "", "", nil, fmt.Errorf("resolving descriptor: %w", err)
	}
	if attrs, err = r.attributes(pool); err != nil {
		return 0, "", "", nil, err
	}
	return flags, name, desc, attrs, nil
}

func (r *reader) attributes(pool ConstantPool) ([]AttributeInfo, error) {
	count, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("reading attributes count: %w", err)
	}
	attrs := make([]AttributeInfo, count)
	for i := range attrs {
		nameIndex, err := r.u2()
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d name index: %w", i, err)
		}
		length, err := r.u4()
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d length: %w", i, err)
		}
		data, err := r.take(int(length))
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d data: %w", i, err)
		}
		name, err := pool.Utf8(nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

func parseCodeAttribute(data []byte) (*CodeAttribute, error) {
	r := &reader{data: data}
	maxStack, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}
	maxLocals, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}
	codeLength, err := r.u4()
	if err != nil {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}
	code, err := r.take(int(codeLength))
	if err != nil {
		return nil, fmt.Errorf("Code attribute data too short for code_length %d", codeLength)
	}

	attr := &CodeAttribute{
		MaxStack:  maxStack,
		MaxLocals: maxLocals,
		Code:      append([]byte(nil), code...),
	}

	n, err := r.u2()
	if err != nil {
		return attr, nil // no exception table
	}
	attr.ExceptionHandlers = make([]ExceptionHandler, 0, n)
	for i := uint16(0); i < n; i++ {
		b, err := r.take(8)
		if err != nil {
			return nil, fmt.Errorf("exception table truncated at entry %d", i)
		}
		attr.ExceptionHandlers = append(attr.ExceptionHandlers, ExceptionHandler{
			StartPC:   binary.BigEndian.Uint16(b[0:2]),
			EndPC:     binary.BigEndian.Uint16(b[2:4]),
			HandlerPC: binary.BigEndian.Uint16(b[4:6]),
			CatchType: binary.BigEndian.Uint16(b[6:8]),
		})
	}
	return attr, nil
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	r := &reader{data: data}
	n, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("BootstrapMethods data too short")
	}
	methods := make([]BootstrapMethod, n)
	for i := range methods {
		ref, err := r.u2()
		if err != nil {
			return nil, fmt.Errorf("BootstrapMethods truncated at method %d", i)
		}
		argc, err := r.u2()
		if err != nil {
			return nil, fmt.Errorf("BootstrapMethods truncated at method %d", i)
		}
		args := make([]uint16, argc)
		for j := range args {
			if args[j], err = r.u2(); err != nil {
				return nil, fmt.Errorf("BootstrapMethods truncated at arg %d of method %d", j, i)
			}
		}
		methods[i] = BootstrapMethod{MethodRef: ref, BootstrapArguments: args}
	}
	return methods, nil
}

// decodeModifiedUTF8 decodes the JVM's modified UTF-8 (encoded NUL and
// surrogate pairs written as two 3-byte sequences).
func decodeModifiedUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 || c == 0 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, 0xFFFD)
			i++
		}
	}
	return string(utf16.Decode(units))
}
