package vm

import "fmt"

// TraceEvent identifies a call stack transition reported to a TraceFunc.
type TraceEvent int

const (
	TracePush TraceEvent = iota
	TracePop
)

func (e TraceEvent) String() string {
	if e == TracePush {
		return "push"
	}
	return "pop"
}

// TraceFunc observes frames being pushed and popped. depth is the call stack
// depth after the transition.
type TraceFunc func(event TraceEvent, frame *Frame, depth int)

// CallStack holds the in-progress frames of one run, most recent last.
type CallStack struct {
	frames   []*Frame
	depth    int
	maxDepth int
	trace    TraceFunc
}

// NewCallStack creates an empty call stack that refuses to grow past maxDepth.
func NewCallStack(maxDepth int) *CallStack {
	return &CallStack{maxDepth: maxDepth}
}

// Push makes f the current frame.
func (s *CallStack) Push(f *Frame) error {
	if s.depth >= s.maxDepth {
		return fmt.Errorf("%w: frame depth exceeded %d", ErrStackOverflow, s.maxDepth)
	}
	if s.depth == len(s.frames) {
		s.frames = append(s.frames, f)
	} else {
		s.frames[s.depth] = f
	}
	s.depth++
	log.Debugf("push %s (depth %d)", f, s.depth)
	if s.trace != nil {
		s.trace(TracePush, f, s.depth)
	}
	return nil
}

// Pop removes and returns the current frame, or nil if the stack is empty.
func (s *CallStack) Pop() *Frame {
	if s.depth == 0 {
		return nil
	}
	s.depth--
	f := s.frames[s.depth]
	s.frames[s.depth] = nil
	log.Debugf("pop %s (depth %d)", f, s.depth)
	if s.trace != nil {
		s.trace(TracePop, f, s.depth)
	}
	return f
}

// Top returns the current frame, or nil if the stack is empty.
func (s *CallStack) Top() *Frame {
	if s.depth == 0 {
		return nil
	}
	return s.frames[s.depth-1]
}

// Caller returns the frame below the current one, or nil.
func (s *CallStack) Caller() *Frame {
	if s.depth < 2 {
		return nil
	}
	return s.frames[s.depth-2]
}

// At returns the frame at position i counted from the bottom.
func (s *CallStack) At(i int) *Frame {
	if i < 0 || i >= s.depth {
		return nil
	}
	return s.frames[i]
}

// Depth returns the number of frames on the stack.
func (s *CallStack) Depth() int { return s.depth }

// MaxDepth returns the configured ceiling.
func (s *CallStack) MaxDepth() int { return s.maxDepth }

// Empty reports whether no invocation is in progress.
func (s *CallStack) Empty() bool { return s.depth == 0 }

// Unwind discards frames until only depth remain.
func (s *CallStack) Unwind(depth int) {
	for s.depth > depth {
		s.depth--
		s.frames[s.depth] = nil
	}
}
