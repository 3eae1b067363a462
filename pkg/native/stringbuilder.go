package native

import (
	"strings"
	"unicode/utf16"
)

// StringBuilder represents a java.lang.StringBuilder.
type StringBuilder struct {
	buf strings.Builder
}

func (b *StringBuilder) JavaClass() string { return "java/lang/StringBuilder" }

func (b *StringBuilder) Append(s string) *StringBuilder {
	b.buf.WriteString(s)
	return b
}

// AppendChar appends a UTF-16 code unit.
func (b *StringBuilder) AppendChar(c uint16) *StringBuilder {
	b.buf.WriteString(FormatChar(c))
	return b
}

// Len returns the length in UTF-16 code units.
func (b *StringBuilder) Len() int { return StringLength(b.buf.String()) }

func (b *StringBuilder) String() string { return b.buf.String() }

// StringLength returns the length of s as java.lang.String.length reports it.
func StringLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}
