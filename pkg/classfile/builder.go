package classfile

import (
	"fmt"
	"math"
)

// Builder assembles a ClassFile in memory, interning constant pool entries.
// It is how embedders and tests hand class metadata to the VM without
// going through a compiler.
type Builder struct {
	cf    *ClassFile
	index map[string]uint16
}

// NewBuilder starts a public class named name extending super. An empty
// super produces a class with no superclass (like java/lang/Object).
func NewBuilder(name, super string) *Builder {
	b := &Builder{
		cf: &ClassFile{
			MajorVersion: 52,
			ConstantPool: ConstantPool{nil},
			AccessFlags:  AccPublic | AccSuper,
		},
		index: make(map[string]uint16),
	}
	b.cf.ThisClass = b.Class(name)
	if super != "" {
		b.cf.SuperClass = b.Class(super)
	}
	b.Utf8("Code")
	return b
}

func (b *Builder) intern(key string, entry ConstantPoolEntry) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	idx := uint16(len(b.cf.ConstantPool))
	b.cf.ConstantPool = append(b.cf.ConstantPool, entry)
	if t := entry.Tag(); t == TagLong || t == TagDouble {
		b.cf.ConstantPool = append(b.cf.ConstantPool, nil)
	}
	b.index[key] = idx
	return idx
}

func (b *Builder) Utf8(s string) uint16 {
	return b.intern("utf8:"+s, &ConstantUtf8{Value: s})
}

func (b *Builder) Class(name string) uint16 {
	n := b.Utf8(name)
	return b.intern("class:"+name, &ConstantClass{NameIndex: n})
}

func (b *Builder) String(s string) uint16 {
	n := b.Utf8(s)
	return b.intern("string:"+s, &ConstantString{StringIndex: n})
}

func (b *Builder) Integer(v int32) uint16 {
	return b.intern(fmt.Sprintf("int:%d", v), &ConstantInteger{Value: v})
}

func (b *Builder) Float(v float32) uint16 {
	return b.intern(fmt.Sprintf("float:%x", math.Float32bits(v)), &ConstantFloat{Value: v})
}

func (b *Builder) Long(v int64) uint16 {
	return b.intern(fmt.Sprintf("long:%d", v), &ConstantLong{Value: v})
}

func (b *Builder) Double(v float64) uint16 {
	return b.intern(fmt.Sprintf("double:%x", math.Float64bits(v)), &ConstantDouble{Value: v})
}

func (b *Builder) NameAndType(name, desc string) uint16 {
	n, d := b.Utf8(name), b.Utf8(desc)
	return b.intern("nat:"+name+":"+desc, &ConstantNameAndType{NameIndex: n, DescriptorIndex: d})
}

func (b *Builder) memberRef(kind uint8, class, name, desc string) uint16 {
	c, nat := b.Class(class), b.NameAndType(name, desc)
	key := fmt.Sprintf("ref%d:%s.%s:%s", kind, class, name, desc)
	return b.intern(key, &ConstantMemberref{Kind: kind, ClassIndex: c, NameAndTypeIndex: nat})
}

func (b *Builder) FieldRef(class, name, desc string) uint16 {
	return b.memberRef(TagFieldref, class, name, desc)
}

func (b *Builder) MethodRef(class, name, desc string) uint16 {
	return b.memberRef(TagMethodref, class, name, desc)
}

func (b *Builder) InterfaceMethodRef(class, name, desc string) uint16 {
	return b.memberRef(TagInterfaceMethodref, class, name, desc)
}

// AddField declares a field.
func (b *Builder) AddField(flags uint16, name, desc string) *Builder {
	b.Utf8(name)
	b.Utf8(desc)
	b.cf.Fields = append(b.cf.Fields, FieldInfo{AccessFlags: flags, Name: name, Descriptor: desc})
	return b
}

// AddMethod declares a method with a Code attribute.
func (b *Builder) AddMethod(flags uint16, name, desc string, maxStack, maxLocals uint16, code []byte) *Builder {
	b.Utf8(name)
	b.Utf8(desc)
	b.cf.Methods = append(b.cf.Methods, MethodInfo{
		AccessFlags: flags,
		Name:        name,
		Descriptor:  desc,
		Code:        &CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals, Code: code},
	})
	return b
}

// AddNativeMethod declares a method with no Code attribute.
func (b *Builder) AddNativeMethod(flags uint16, name, desc string) *Builder {
	b.Utf8(name)
	b.Utf8(desc)
	b.cf.Methods = append(b.cf.Methods, MethodInfo{AccessFlags: flags | AccNative, Name: name, Descriptor: desc})
	return b
}

// AddAbstractMethod declares a public abstract method.
func (b *Builder) AddAbstractMethod(name, desc string) *Builder {
	b.Utf8(name)
	b.Utf8(desc)
	b.cf.Methods = append(b.cf.Methods, MethodInfo{AccessFlags: AccPublic | AccAbstract, Name: name, Descriptor: desc})
	return b
}

// Implements adds name to the class's direct superinterfaces.
func (b *Builder) Implements(name string) *Builder {
	b.cf.Interfaces = append(b.cf.Interfaces, b.Class(name))
	return b
}

// SetFlags replaces the class access flags.
func (b *Builder) SetFlags(flags uint16) *Builder {
	b.cf.AccessFlags = flags
	return b
}

// Build returns the assembled class. The builder must not be used afterwards.
func (b *Builder) Build() *ClassFile {
	return b.cf
}
