package vm

import (
	"errors"
	"fmt"
)

// Run drives env's call stack until it is empty. Each step either retires a
// returned frame, handing its value to the caller, or executes one
// instruction of the top frame. The first failure unwinds the whole stack.
func Run(env *Env) error {
	v, ok, err := env.run(0)
	if ok {
		env.result, env.hasResult = v, true
	}
	return err
}

// run executes until the stack is back to base frames. A value returned by
// the frame directly above base is handed back instead of being pushed onto
// the frame below it.
func (e *Env) run(base int) (Value, bool, error) {
	var (
		result    Value
		hasResult bool
	)
	s := e.Stack
	for s.Depth() > base {
		f := s.Top()

		if f.returned {
			if v, t := f.ReturnValue(); t != "V" {
				if s.Depth()-1 > base {
					caller := s.Caller()
					if err := caller.Push(v); err != nil {
						return Value{}, false, e.fail(base, caller, nil, err)
					}
				} else {
					result, hasResult = v, true
				}
			}
			s.Pop()
			if f.onReturn != nil {
				f.onReturn()
			}
			continue
		}

		if f.PC < 0 || f.PC >= len(f.Instructions) || f.Instructions[f.PC] == nil {
			return Value{}, false, e.fail(base, f, nil, fmt.Errorf("%w %d", ErrNoInstruction, f.PC))
		}
		inst := f.Instructions[f.PC]
		f.PC++
		if err := inst.Execute(e, f); err != nil {
			return Value{}, false, e.fail(base, f, inst, err)
		}
	}
	return result, hasResult, nil
}

// fail annotates err with where it happened, wraps it if a static
// initializer was running, and unwinds the stack to base.
func (e *Env) fail(base int, f *Frame, inst *Instruction, err error) error {
	ee := &ExecutionError{Class: f.Class.Name, Method: f.Method.Name(), PC: f.PC, Err: err}
	if inst != nil {
		ee.PC, ee.Op = inst.Offset, inst.Name()
	}
	err = ee

	var cie *ClassInitializationError
	if !errors.As(err, &cie) {
		for i := e.Stack.Depth() - 1; i >= 0; i-- {
			if c := e.Stack.At(i).initializes; c != nil {
				err = &ClassInitializationError{Class: c.Name, Err: err}
				break
			}
		}
	}
	log.Debugf("run %s failed at depth %d: %v", e.ID, e.Stack.Depth(), err)
	e.abort(base, err)
	return err
}

// abort unwinds the stack to base. Classes whose initializer frames are
// discarded become erroneous with err as the cause.
func (e *Env) abort(base int, err error) {
	for i := e.Stack.Depth() - 1; i >= base; i-- {
		if c := e.Stack.At(i).initializes; c != nil && c.state == Initializing {
			c.fail(err)
		}
	}
	e.Stack.Unwind(base)
}

// initializing reports whether c's initializer frame is on the stack.
func (e *Env) initializing(c *Class) bool {
	for i := e.Stack.Depth() - 1; i >= 0; i-- {
		if e.Stack.At(i).initializes == c {
			return true
		}
	}
	return false
}

// Call invokes m and runs it to completion on the current stack, returning
// its result. Native methods use it to call back into bytecode. A failure
// unwinds only the frames Call pushed.
func (e *Env) Call(m Method, this Value, args []Value) (Value, error) {
	if nm, ok := m.(*NativeMethod); ok {
		if err := nm.checkArgs(this, args); err != nil {
			return Value{}, err
		}
		return nm.fn(e, this, args)
	}
	base := e.Stack.Depth()
	if err := m.Invoke(e, this, args); err != nil {
		e.abort(base, err)
		return Value{}, err
	}
	v, _, err := e.run(base)
	return v, err
}
