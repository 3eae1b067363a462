package vm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedOpcode    = errors.New("unsupported opcode")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrIndexOutOfRange      = errors.New("index out of range")
	ErrNoSuchClass          = errors.New("no such class")
	ErrNoSuchMethod         = errors.New("no such method")
	ErrNoSuchField          = errors.New("no such field")
	ErrClassInitialization  = errors.New("class initialization failed")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrNoInstruction        = errors.New("no instruction at pc")
	ErrTruncatedInstruction = errors.New("truncated instruction")

	// Runtime exceptions raised by instructions; matched by *JavaException.
	ErrNullPointer       = errors.New("null pointer")
	ErrArithmetic        = errors.New("arithmetic exception")
	ErrArrayIndex        = errors.New("array index out of bounds")
	ErrClassCast         = errors.New("class cast")
	ErrNegativeArraySize = errors.New("negative array size")
)

// UnsupportedOpcodeError reports an instruction byte the decoder does not know.
type UnsupportedOpcodeError struct {
	Offset int
	Value  byte
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("unsupported opcode 0x%02X at offset %d", e.Value, e.Offset)
}

func (e *UnsupportedOpcodeError) Is(target error) bool {
	return target == ErrUnsupportedOpcode
}

// ClassInitializationError wraps a failure raised while a static initializer
// was running.
type ClassInitializationError struct {
	Class string
	Err   error
}

func (e *ClassInitializationError) Error() string {
	return fmt.Sprintf("initializing %s: %v", e.Class, e.Err)
}

func (e *ClassInitializationError) Unwrap() error { return e.Err }

func (e *ClassInitializationError) Is(target error) bool {
	return target == ErrClassInitialization
}

// ExecutionError locates a failure at the instruction that raised it.
type ExecutionError struct {
	Class  string
	Method string
	PC     int
	Op     string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s.%s pc=%d (%s): %v", e.Class, e.Method, e.PC, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// JavaException represents a JVM exception being thrown. Handlers are not
// searched; a thrown exception terminates the run.
type JavaException struct {
	ClassName string
	Message   string
	Object    *JObject
}

func (e *JavaException) Error() string {
	name := e.ClassName
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if e.Message == "" {
		return name
	}
	return name + ": " + e.Message
}

var exceptionSentinels = map[string]error{
	"java/lang/NullPointerException":           ErrNullPointer,
	"java/lang/ArithmeticException":            ErrArithmetic,
	"java/lang/ArrayIndexOutOfBoundsException": ErrArrayIndex,
	"java/lang/ClassCastException":             ErrClassCast,
	"java/lang/NegativeArraySizeException":     ErrNegativeArraySize,
}

func (e *JavaException) Is(target error) bool {
	return exceptionSentinels[e.ClassName] == target
}

// NewJavaException creates an exception of the given class.
func NewJavaException(className, message string) *JavaException {
	return &JavaException{ClassName: className, Message: message}
}
