package vm

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/daimatz/stackjvm/pkg/bundle"
	"github.com/daimatz/stackjvm/pkg/classfile"
)

// ClassLoader loads .class files by internal class name. A loader that does
// not know a class returns an error wrapping ErrNoSuchClass.
type ClassLoader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

func notFound(where, name string) error {
	return fmt.Errorf("%w: %s in %s", ErrNoSuchClass, name, where)
}

// DirClassLoader loads classes from a class path directory.
type DirClassLoader struct {
	Dir   string
	cache map[string]*classfile.ClassFile
}

// NewDirClassLoader creates a loader rooted at dir.
func NewDirClassLoader(dir string) *DirClassLoader {
	return &DirClassLoader{Dir: dir, cache: make(map[string]*classfile.ClassFile)}
}

func (cl *DirClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.cache[name]; ok {
		return cf, nil
	}
	path := filepath.Join(cl.Dir, filepath.FromSlash(name)+".class")
	cf, err := classfile.ParseFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(cl.Dir, name)
	}
	if err != nil {
		return nil, fmt.Errorf("dir: parsing %s: %w", name, err)
	}
	loaderLog.Debugf("dir: loaded %s from %s", name, path)
	cl.cache[name] = cf
	return cf, nil
}

// ZipClassLoader loads classes from a jar, or from a JDK jmod whose entries
// live under classes/ behind a 4-byte "JM" header.
type ZipClassLoader struct {
	Path   string
	prefix string
	reader *zip.Reader
	cache  map[string]*classfile.ClassFile
}

// NewZipClassLoader creates a loader for the archive at path. The archive is
// opened on first use.
func NewZipClassLoader(path string) *ZipClassLoader {
	return &ZipClassLoader{Path: path, cache: make(map[string]*classfile.ClassFile)}
}

func (cl *ZipClassLoader) open() error {
	if cl.reader != nil {
		return nil
	}
	data, err := os.ReadFile(cl.Path)
	if err != nil {
		return fmt.Errorf("zip: reading %s: %w", cl.Path, err)
	}
	if len(data) >= 4 && data[0] == 'J' && data[1] == 'M' {
		data = data[4:]
		cl.prefix = "classes/"
	}
	cl.reader, err = zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("zip: opening %s: %w", cl.Path, err)
	}
	loaderLog.Debugf("zip: opened %s (%d entries)", cl.Path, len(cl.reader.File))
	return nil
}

func (cl *ZipClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.cache[name]; ok {
		return cf, nil
	}
	if err := cl.open(); err != nil {
		return nil, err
	}

	target := cl.prefix + name + ".class"
	for _, file := range cl.reader.File {
		if file.Name != target {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("zip: opening %s: %w", target, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("zip: reading %s: %w", target, err)
		}
		cf, err := classfile.ParseBytes(data)
		if err != nil {
			return nil, fmt.Errorf("zip: parsing %s: %w", name, err)
		}
		cl.cache[name] = cf
		return cf, nil
	}
	return nil, notFound(cl.Path, name)
}

// BundleClassLoader serves classes from a CBOR class bundle.
type BundleClassLoader struct {
	Bundle *bundle.Bundle
	cache  map[string]*classfile.ClassFile
}

func NewBundleClassLoader(b *bundle.Bundle) *BundleClassLoader {
	return &BundleClassLoader{Bundle: b, cache: make(map[string]*classfile.ClassFile)}
}

func (cl *BundleClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.cache[name]; ok {
		return cf, nil
	}
	data, ok := cl.Bundle.Lookup(name)
	if !ok {
		return nil, notFound("bundle", name)
	}
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("bundle: parsing %s: %w", name, err)
	}
	cl.cache[name] = cf
	return cf, nil
}

// MapClassLoader holds classes added in memory, typically built with
// classfile.Builder.
type MapClassLoader struct {
	classes map[string]*classfile.ClassFile
}

func NewMapClassLoader(classes ...*classfile.ClassFile) (*MapClassLoader, error) {
	cl := &MapClassLoader{classes: make(map[string]*classfile.ClassFile)}
	for _, cf := range classes {
		if err := cl.Add(cf); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

// Add registers cf under its own class name.
func (cl *MapClassLoader) Add(cf *classfile.ClassFile) error {
	name, err := cf.ClassName()
	if err != nil {
		return err
	}
	cl.classes[name] = cf
	return nil
}

// AddBytes parses a class file and registers it.
func (cl *MapClassLoader) AddBytes(data []byte) error {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return err
	}
	return cl.Add(cf)
}

func (cl *MapClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.classes[name]; ok {
		return cf, nil
	}
	return nil, notFound("memory", name)
}

// ChainClassLoader asks each loader in order. A loader that reports
// ErrNoSuchClass passes the request on; any other error stops the search.
type ChainClassLoader []ClassLoader

func (ch ChainClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	for _, cl := range ch {
		cf, err := cl.LoadClass(name)
		if err == nil {
			return cf, nil
		}
		if !errors.Is(err, ErrNoSuchClass) {
			return nil, err
		}
	}
	return nil, notFound("class path", name)
}
