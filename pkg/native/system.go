package native

import (
	"fmt"
	"io"
)

// Object is implemented by host values that stand in for Java objects.
// JavaClass returns the internal name of the class they are an instance of.
type Object interface {
	JavaClass() string
}

// PrintStream represents a java.io.PrintStream.
type PrintStream struct {
	Writer io.Writer
}

func (ps *PrintStream) JavaClass() string { return "java/io/PrintStream" }

// Print writes s without a line terminator.
func (ps *PrintStream) Print(s string) error {
	_, err := io.WriteString(ps.Writer, s)
	return err
}

// Println writes s followed by a newline.
func (ps *PrintStream) Println(s string) error {
	_, err := fmt.Fprintln(ps.Writer, s)
	return err
}
