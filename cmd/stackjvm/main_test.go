package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/daimatz/stackjvm/pkg/bundle"
	"github.com/daimatz/stackjvm/pkg/classfile"
	"github.com/daimatz/stackjvm/pkg/config"
)

func encode(t *testing.T, name, super string) []byte {
	t.Helper()
	data, err := classfile.Encode(classfile.NewBuilder(name, super).Build())
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestBuildLoader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Shared.class"), encode(t, "Shared", "FromDir"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.ClassPath.Dirs = []string{dir}

	entry := bundle.New("Shared")
	entry.Add("Shared", encode(t, "Shared", "FromBundle"))

	tests := []struct {
		name  string
		entry *bundle.Bundle
		want  string
	}{
		{"class path only", nil, "FromDir"},
		{"command-line bundle first", entry, "FromBundle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, err := buildLoader(cfg, tt.entry)
			if err != nil {
				t.Fatal(err)
			}
			cf, err := loader.LoadClass("Shared")
			if err != nil {
				t.Fatal(err)
			}
			if got := cf.SuperClassName(); got != tt.want {
				t.Errorf("Shared loaded from the wrong place: super %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitClassPath(t *testing.T) {
	sep := string(os.PathListSeparator)
	dirs, jars := splitClassPath("classes" + sep + "lib/a.jar" + sep + "java.base.jmod" + sep + "b.zip")
	if len(dirs) != 1 || filepath.Base(dirs[0]) != "classes" || !filepath.IsAbs(dirs[0]) {
		t.Errorf("dirs: got %v", dirs)
	}
	if len(jars) != 3 {
		t.Errorf("jars: got %v", jars)
	}
}
