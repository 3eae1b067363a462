package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/daimatz/stackjvm/pkg/bundle"
	"github.com/daimatz/stackjvm/pkg/classfile"
	"github.com/daimatz/stackjvm/pkg/config"
	"github.com/daimatz/stackjvm/pkg/vm"
)

var log = commonlog.GetLogger("stackjvm.cli")

func main() {
	configPath := flag.String("config", "", "Configuration file (default: nearest "+config.FileName+")")
	classPath := flag.String("cp", "", "Class path: directories, .jar and .jmod files separated by "+string(os.PathListSeparator))
	bundlePath := flag.String("bundle", "", "Load classes from a bundle file")
	maxDepth := flag.Int("max-depth", 0, "Maximum call stack depth")
	method := flag.String("method", "", "Run this static method instead of main; remaining arguments are ints")
	pack := flag.String("pack", "", "Pack the given .class files into a bundle file and exit")
	mainClass := flag.String("main", "", "Entry class recorded in a packed bundle")
	verbose := flag.Int("v", -1, "Log verbosity (0 = errors only)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  stackjvm [flags] <class|file.class> [args...]\n")
		fmt.Fprintf(os.Stderr, "  stackjvm -bundle app.cbor [flags]\n")
		fmt.Fprintf(os.Stderr, "  stackjvm -pack app.cbor -main Main A.class B.class...\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail(err)
	}
	if *verbose >= 0 {
		cfg.Log.Verbosity = *verbose
	}
	if *maxDepth > 0 {
		cfg.VM.MaxFrameDepth = *maxDepth
	}
	var logFile *string
	if cfg.Log.File != "" {
		p := cfg.Resolve(cfg.Log.File)
		logFile = &p
	}
	commonlog.Configure(cfg.Log.Verbosity, logFile)

	if *pack != "" {
		if err := packBundle(*pack, *mainClass, flag.Args()); err != nil {
			fail(err)
		}
		return
	}

	args := flag.Args()
	var (
		className string
		entry     *bundle.Bundle
	)
	switch {
	case *bundlePath != "":
		entry, err = bundle.ReadFile(*bundlePath)
		if err != nil {
			fail(err)
		}
		className = entry.Main
		if len(args) > 0 && !isInt(args[0]) {
			className, args = args[0], args[1:]
		}
	case len(args) > 0:
		className, args = args[0], args[1:]
		// A path to a .class file puts its directory on the class path.
		if strings.HasSuffix(className, ".class") {
			cfg.ClassPath.Dirs = append([]string{absPath(filepath.Dir(className))}, cfg.ClassPath.Dirs...)
			className = strings.TrimSuffix(filepath.Base(className), ".class")
		}
	}
	if className == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *classPath != "" {
		dirs, jars := splitClassPath(*classPath)
		cfg.ClassPath.Dirs = append(dirs, cfg.ClassPath.Dirs...)
		cfg.ClassPath.Jars = append(jars, cfg.ClassPath.Jars...)
	}

	loader, err := buildLoader(cfg, entry)
	if err != nil {
		fail(err)
	}
	machine := vm.NewVM(loader, vm.WithMaxFrameDepth(cfg.VM.MaxFrameDepth))

	if *method == "" {
		log.Infof("running %s", className)
		if err := machine.Execute(className); err != nil {
			fail(err)
		}
		return
	}

	values := make([]vm.Value, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			fail(fmt.Errorf("argument %q is not an int", a))
		}
		values = append(values, vm.IntValue(int32(n)))
	}
	log.Infof("running %s.%s", className, *method)
	result, err := machine.RunEntryPoint(className, *method, values)
	if err != nil {
		fail(err)
	}
	fmt.Println(result)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// splitClassPath separates a -cp value into directories and archives.
func splitClassPath(cp string) (dirs, jars []string) {
	for _, p := range filepath.SplitList(cp) {
		p = absPath(p)
		switch filepath.Ext(p) {
		case ".jar", ".jmod", ".zip":
			jars = append(jars, p)
		default:
			dirs = append(dirs, p)
		}
	}
	return dirs, jars
}

// buildLoader chains bundles, directories and archives in that order. The
// bundle named on the command line, if already read, comes first.
func buildLoader(cfg *config.Config, first *bundle.Bundle) (vm.ClassLoader, error) {
	var chain vm.ChainClassLoader
	if first != nil {
		chain = append(chain, vm.NewBundleClassLoader(first))
	}
	for _, p := range cfg.BundlePaths() {
		b, err := bundle.ReadFile(p)
		if err != nil {
			return nil, err
		}
		chain = append(chain, vm.NewBundleClassLoader(b))
	}
	for _, p := range cfg.DirPaths() {
		chain = append(chain, vm.NewDirClassLoader(p))
	}
	for _, p := range cfg.JarPaths() {
		chain = append(chain, vm.NewZipClassLoader(p))
	}
	log.Debugf("class path: %d loaders (%d dirs, %d archives)",
		len(chain), len(cfg.ClassPath.Dirs), len(cfg.ClassPath.Jars))
	return chain, nil
}

func packBundle(out, main string, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("-pack needs at least one .class file")
	}
	b := bundle.New(main)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		cf, err := classfile.ParseBytes(data)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		name, err := cf.ClassName()
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		b.Add(name, data)
	}
	if main != "" {
		if _, ok := b.Lookup(main); !ok {
			return fmt.Errorf("main class %s is not among the packed files", main)
		}
	}
	if err := bundle.WriteFile(out, b); err != nil {
		return err
	}
	log.Infof("packed %d classes into %s", len(b.Classes), out)
	return nil
}

// absPath anchors a command-line path to the working directory so the
// config file's directory does not apply to it.
func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 32)
	return err == nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
