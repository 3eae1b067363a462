package classfile

import "fmt"

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

// ConstantPoolEntry is an interface implemented by all constant pool types.
type ConstantPoolEntry interface {
	Tag() uint8
}

type ConstantUtf8 struct {
	Value string
}

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

type ConstantInteger struct {
	Value int32
}

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

type ConstantFloat struct {
	Value float32
}

func (c *ConstantFloat) Tag() uint8 { return TagFloat }

type ConstantLong struct {
	Value int64
}

func (c *ConstantLong) Tag() uint8 { return TagLong }

type ConstantDouble struct {
	Value float64
}

func (c *ConstantDouble) Tag() uint8 { return TagDouble }

type ConstantClass struct {
	NameIndex uint16
}

func (c *ConstantClass) Tag() uint8 { return TagClass }

type ConstantString struct {
	StringIndex uint16
}

func (c *ConstantString) Tag() uint8 { return TagString }

// ConstantMemberref covers Fieldref, Methodref and InterfaceMethodref, which
// share one layout and differ only in tag.
type ConstantMemberref struct {
	Kind             uint8
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantMemberref) Tag() uint8 { return c.Kind }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

// ConstantOpaque holds the raw body of entries the interpreter never resolves
// (MethodHandle, MethodType, Dynamic, InvokeDynamic).
type ConstantOpaque struct {
	Kind uint8
	Data []byte
}

func (c *ConstantOpaque) Tag() uint8 { return c.Kind }

// ConstantPool is 1-indexed: index 0 and the slot after every Long/Double are nil.
type ConstantPool []ConstantPoolEntry

// Entry returns the entry at index, failing on out-of-range or unusable slots.
func (p ConstantPool) Entry(index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(p) || p[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	return p[index], nil
}

// Utf8 returns the Utf8 string at the given constant pool index.
func (p ConstantPool) Utf8(index uint16) (string, error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", err
	}
	utf8, ok := e.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, e.Tag())
	}
	return utf8.Value, nil
}

// ClassName returns the class name referenced by a CONSTANT_Class entry.
func (p ConstantPool) ClassName(index uint16) (string, error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", err
	}
	class, ok := e.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class (tag=%d)", index, e.Tag())
	}
	return p.Utf8(class.NameIndex)
}

// NameAndType resolves a CONSTANT_NameAndType entry.
func (p ConstantPool) NameAndType(index uint16) (name, descriptor string, err error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", "", err
	}
	nat, ok := e.(*ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("constant pool index %d is not NameAndType (tag=%d)", index, e.Tag())
	}
	if name, err = p.Utf8(nat.NameIndex); err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	if descriptor, err = p.Utf8(nat.DescriptorIndex); err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, descriptor, nil
}

// MemberRef holds a resolved field or method reference.
type MemberRef struct {
	Kind       uint8
	ClassName  string
	Name       string
	Descriptor string
}

func (m *MemberRef) String() string {
	return m.ClassName + "." + m.Name + ":" + m.Descriptor
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
// kinds restricts the accepted tags; none means any member reference.
func (p ConstantPool) MemberRef(index uint16, kinds ...uint8) (*MemberRef, error) {
	e, err := p.Entry(index)
	if err != nil {
		return nil, err
	}
	ref, ok := e.(*ConstantMemberref)
	if !ok || (len(kinds) > 0 && !containsTag(kinds, ref.Kind)) {
		return nil, fmt.Errorf("constant pool index %d is not a %s (tag=%d)", index, tagNames(kinds), e.Tag())
	}
	className, err := p.ClassName(ref.ClassIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member class: %w", err)
	}
	name, desc, err := p.NameAndType(ref.NameAndTypeIndex)
	if err != nil {
		return nil, err
	}
	return &MemberRef{Kind: ref.Kind, ClassName: className, Name: name, Descriptor: desc}, nil
}

// FieldRef resolves a CONSTANT_Fieldref entry.
func (p ConstantPool) FieldRef(index uint16) (*MemberRef, error) {
	return p.MemberRef(index, TagFieldref)
}

// MethodRef resolves a CONSTANT_Methodref or CONSTANT_InterfaceMethodref entry.
func (p ConstantPool) MethodRef(index uint16) (*MemberRef, error) {
	return p.MemberRef(index, TagMethodref, TagInterfaceMethodref)
}

func containsTag(tags []uint8, tag uint8) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func tagNames(tags []uint8) string {
	switch {
	case len(tags) == 1 && tags[0] == TagFieldref:
		return "Fieldref"
	case len(tags) > 0 && tags[0] == TagMethodref:
		return "Methodref"
	case len(tags) == 1 && tags[0] == TagInterfaceMethodref:
		return "InterfaceMethodref"
	}
	return "member reference"
}
