// Package bundle packs a set of class files into a single CBOR document so a
// program can be shipped and loaded without a class path directory.
package bundle

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the bundle layout version written by Marshal.
const FormatVersion = 1

var ErrVersionMismatch = errors.New("bundle version mismatch")

// Bundle is a named set of class files plus an optional entry class.
type Bundle struct {
	Version int     `cbor:"1,keyasint"`
	Main    string  `cbor:"2,keyasint,omitempty"`
	Classes []Entry `cbor:"3,keyasint"`
}

// Entry is one class file, keyed by its internal name (e.g. "pkg/Main").
type Entry struct {
	Name string `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bundle: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// New returns an empty bundle with the given entry class.
func New(main string) *Bundle {
	return &Bundle{Version: FormatVersion, Main: main}
}

// Add stores (or replaces) a class file. Classes are kept sorted by name so
// the encoding is deterministic.
func (b *Bundle) Add(name string, data []byte) {
	i := sort.Search(len(b.Classes), func(i int) bool { return b.Classes[i].Name >= name })
	if i < len(b.Classes) && b.Classes[i].Name == name {
		b.Classes[i].Data = data
		return
	}
	b.Classes = append(b.Classes, Entry{})
	copy(b.Classes[i+1:], b.Classes[i:])
	b.Classes[i] = Entry{Name: name, Data: data}
}

// Lookup returns the class file stored under name.
func (b *Bundle) Lookup(name string) ([]byte, bool) {
	i := sort.Search(len(b.Classes), func(i int) bool { return b.Classes[i].Name >= name })
	if i < len(b.Classes) && b.Classes[i].Name == name {
		return b.Classes[i].Data, true
	}
	return nil, false
}

// Names lists the stored class names in order.
func (b *Bundle) Names() []string {
	names := make([]string, len(b.Classes))
	for i, e := range b.Classes {
		names[i] = e.Name
	}
	return names
}

// Marshal serializes a Bundle to CBOR bytes.
func Marshal(b *Bundle) ([]byte, error) {
	return encMode.Marshal(b)
}

// Unmarshal deserializes a Bundle from CBOR bytes.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %w", err)
	}
	if b.Version != FormatVersion {
		return nil, fmt.Errorf("bundle: %w: got %d, want %d", ErrVersionMismatch, b.Version, FormatVersion)
	}
	// Re-sort in case the producer did not.
	sort.Slice(b.Classes, func(i, j int) bool { return b.Classes[i].Name < b.Classes[j].Name })
	return &b, nil
}

// ReadFile loads a bundle from disk.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: cannot read %s: %w", path, err)
	}
	return Unmarshal(data)
}

// WriteFile stores a bundle on disk.
func WriteFile(path string, b *Bundle) error {
	data, err := Marshal(b)
	if err != nil {
		return fmt.Errorf("bundle: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
