package ir

import "fmt"

type (
	Op int

	// Cond is an icmp condition: eq, ne, slt, sle, sgt, sge.
	Cond string

	// Instr is one IR instruction. The opcode fixes the operand shape:
	//
	//	Add..SRem   a, b
	//	Alloca      (none; allocated type is the pointee of its type)
	//	Load        ptr
	//	Store       val, ptr
	//	ICmp        a, b
	//	Br          cond, truebb, falsebb
	//	Jump        target
	//	Call        fn, args...
	//	Ret         (none) | val
	//	Gep         base, indices...
	//	Zext, Trunc val
	//	Phi         v0, b0, v1, b1, ...
	Instr struct {
		value

		Op   Op
		Cond Cond
		Blk  *Block

		ops []*Use
	}
)

const (
	Add Op = iota
	Sub
	Mul
	SDiv
	SRem
	Alloca
	Load
	Store
	ICmp
	Br
	Jump
	Call
	Ret
	Gep
	Zext
	Trunc
	Phi
)

const (
	EQ  Cond = "eq"
	NE  Cond = "ne"
	SLT Cond = "slt"
	SLE Cond = "sle"
	SGT Cond = "sgt"
	SGE Cond = "sge"
)

func newInstr(op Op, t Type, name string) *Instr {
	return &Instr{
		value: value{typ: t, name: name},
		Op:    op,
	}
}

func (i *Instr) IsTerminator() bool {
	return i.Op == Br || i.Op == Jump || i.Op == Ret
}

func (i *Instr) NOperands() int {
	return len(i.ops)
}

func (i *Instr) Operand(k int) Value {
	return i.ops[k].Def
}

// SetOperand is the single graph-mutation primitive: it updates both
// sides of the edge. v may be nil to leave the slot empty.
func (i *Instr) SetOperand(k int, v Value) {
	u := i.ops[k]

	if u.Def != nil {
		detachUse(u.Def, u)
		u.Def = nil
	}

	if v != nil {
		u.Def = v
		attachUse(v, u)
	}
}

func (i *Instr) AddOperand(v Value) {
	u := &Use{User: i, Index: len(i.ops)}
	i.ops = append(i.ops, u)

	if v != nil {
		u.Def = v
		attachUse(v, u)
	}
}

// ClearOperands detaches every operand edge. Required before an
// instruction is dropped, or the use-graph corrupts.
func (i *Instr) ClearOperands() {
	for k := range i.ops {
		i.SetOperand(k, nil)
	}
}

// Alloca helpers.

// Allocated returns the allocated (pointee) type of an alloca.
func (i *Instr) Allocated() Type {
	return Pointee(i.typ)
}

// Phi helpers. Incoming pairs live in the operand list as (value, block).

func (i *Instr) AddIncoming(v Value, b *Block) {
	i.AddOperand(v)
	i.AddOperand(b)
}

func (i *Instr) NIncoming() int {
	return len(i.ops) / 2
}

func (i *Instr) Incoming(k int) (Value, *Block) {
	return i.ops[2*k].Def, i.ops[2*k+1].Def.(*Block)
}

// IncomingFor returns the incoming value for predecessor b, or nil.
func (i *Instr) IncomingFor(b *Block) Value {
	for k := 0; k < i.NIncoming(); k++ {
		if v, blk := i.Incoming(k); blk == b {
			return v
		}
	}

	return nil
}

// Branch helpers.

func (i *Instr) Succs() []*Block {
	switch i.Op {
	case Br:
		return []*Block{i.Operand(1).(*Block), i.Operand(2).(*Block)}
	case Jump:
		return []*Block{i.Operand(0).(*Block)}
	default:
		return nil
	}
}

// Callee returns the called function of a call instruction.
func (i *Instr) Callee() *Func {
	return i.Operand(0).(*Func)
}

func (op Op) String() string {
	switch op {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	case SDiv:
		return "sdiv"
	case SRem:
		return "srem"
	case Alloca:
		return "alloca"
	case Load:
		return "load"
	case Store:
		return "store"
	case ICmp:
		return "icmp"
	case Br:
		return "br"
	case Jump:
		return "jump"
	case Call:
		return "call"
	case Ret:
		return "ret"
	case Gep:
		return "getelementptr"
	case Zext:
		return "zext"
	case Trunc:
		return "trunc"
	case Phi:
		return "phi"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

func localName(prefix string, i int) string {
	return fmt.Sprintf("%%%v%d", prefix, i)
}
