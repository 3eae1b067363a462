package vm

import (
	"fmt"

	"github.com/google/uuid"
)

// Env is the execution context of one program run. It owns the call stack
// and gives instructions and native methods access to class resolution.
type Env struct {
	ID    uuid.UUID
	Stack *CallStack

	vm        *VM
	result    Value
	hasResult bool
}

// VM returns the virtual machine the run belongs to.
func (e *Env) VM() *VM { return e.vm }

// ResolveClass loads a class through the VM's registry.
func (e *Env) ResolveClass(name string) (*Class, error) {
	return e.vm.LoadClass(name)
}

// ResolveMethod finds a method by name and descriptor in the named class or
// its supertypes.
func (e *Env) ResolveMethod(className, name, desc string) (Method, error) {
	c, err := e.ResolveClass(className)
	if err != nil {
		return nil, err
	}
	return c.FindMethod(name, desc)
}

// ResolveField finds a field in the named class or its supertypes.
func (e *Env) ResolveField(className, name string) (*Field, error) {
	c, err := e.ResolveClass(className)
	if err != nil {
		return nil, err
	}
	return c.FindField(name)
}

// Result returns the value staged by the outermost invocation, if it
// produced one.
func (e *Env) Result() (Value, bool) { return e.result, e.hasResult }

// deliver hands a returned value to the frame now on top of the stack, or
// records it as the run's result when the stack is empty.
func (e *Env) deliver(v Value) error {
	if top := e.Stack.Top(); top != nil {
		if err := top.Push(v); err != nil {
			return fmt.Errorf("delivering result to %s: %w", top, err)
		}
		return nil
	}
	e.result, e.hasResult = v, true
	return nil
}
