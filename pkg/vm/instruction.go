package vm

import (
	"encoding/binary"
	"fmt"
)

type execFunc func(env *Env, f *Frame) error

type opcodeInfo struct {
	name string
	// operands is the number of operand bytes following the opcode, or -1
	// when the width depends on the operands themselves.
	operands int
	exec     execFunc
}

// opcodeTable is the dispatch table, indexed by opcode byte. A nil entry is
// an opcode this interpreter does not implement.
var opcodeTable [256]*opcodeInfo

func register(op byte, name string, operands int, exec execFunc) {
	if opcodeTable[op] != nil {
		panic(fmt.Sprintf("opcode 0x%02X registered twice", op))
	}
	opcodeTable[op] = &opcodeInfo{name: name, operands: operands, exec: exec}
}

// Instruction is one decoded instruction, placed in a method's instruction
// table at the byte offset where it starts.
type Instruction struct {
	Op     byte
	Offset int
	info   *opcodeInfo
}

// Name returns the instruction mnemonic.
func (i *Instruction) Name() string { return i.info.name }

// Execute runs the instruction against f. The interpreter has already
// advanced f.PC past the opcode byte; Execute reads any operands itself.
func (i *Instruction) Execute(env *Env, f *Frame) error {
	return i.info.exec(env, f)
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%d: %s", i.Offset, i.info.name)
}

// OpcodeName returns the mnemonic for op, or "" if op is not implemented.
func OpcodeName(op byte) string {
	if info := opcodeTable[op]; info != nil {
		return info.name
	}
	return ""
}

// Decode walks a method's code and returns a table with one entry per byte
// offset: the instruction starting there, or nil for operand bytes.
func Decode(code []byte) ([]*Instruction, error) {
	insts := make([]*Instruction, len(code))
	for pc := 0; pc < len(code); {
		op := code[pc]
		info := opcodeTable[op]
		if info == nil {
			return nil, &UnsupportedOpcodeError{Offset: pc, Value: op}
		}
		n, err := instructionLength(code, pc, info)
		if err != nil {
			return nil, err
		}
		if n > len(code)-pc {
			return nil, fmt.Errorf("%w: %s at offset %d", ErrTruncatedInstruction, info.name, pc)
		}
		insts[pc] = &Instruction{Op: op, Offset: pc, info: info}
		pc += n
	}
	return insts, nil
}

// instructionLength returns the total width in bytes, opcode included, of
// the instruction at pc.
func instructionLength(code []byte, pc int, info *opcodeInfo) (int, error) {
	if info.operands >= 0 {
		return 1 + info.operands, nil
	}
	truncated := fmt.Errorf("%w: %s at offset %d", ErrTruncatedInstruction, info.name, pc)

	switch code[pc] {
	case OpWide:
		if pc+1 >= len(code) {
			return 0, truncated
		}
		switch op := code[pc+1]; {
		case op == OpIinc:
			return 6, nil
		case op >= OpIload && op <= OpAload, op >= OpIstore && op <= OpAstore:
			return 4, nil
		default:
			return 0, &UnsupportedOpcodeError{Offset: pc + 1, Value: op}
		}

	case OpTableswitch, OpLookupswitch:
		// Operands start at the next 4-byte boundary of the code array.
		base := pc + 1 + (4-(pc+1)%4)%4
		header := 8
		if code[pc] == OpTableswitch {
			header = 12
		}
		if base+header > len(code) {
			return 0, truncated
		}
		var n int64
		if code[pc] == OpTableswitch {
			low := int32(binary.BigEndian.Uint32(code[base+4:]))
			high := int32(binary.BigEndian.Uint32(code[base+8:]))
			if low > high {
				return 0, fmt.Errorf("tableswitch at offset %d: low %d > high %d", pc, low, high)
			}
			n = 12 + 4*(int64(high)-int64(low)+1)
		} else {
			npairs := int32(binary.BigEndian.Uint32(code[base+4:]))
			if npairs < 0 {
				return 0, fmt.Errorf("lookupswitch at offset %d: negative npairs %d", pc, npairs)
			}
			n = 8 + 8*int64(npairs)
		}
		if n > int64(len(code)-base) {
			return 0, truncated
		}
		return base - pc + int(n), nil
	}
	return 0, fmt.Errorf("opcode 0x%02X has no width rule", code[pc])
}
