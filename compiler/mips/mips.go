// Package mips emits MARS-compatible MIPS assembly from the IR.
//
// Every value lives in a stack slot addressed off $fp; instruction
// selection goes through $t0..$t2. φ nodes are materialized as copies
// on the CFG edges, each through its own slot, which avoids the
// parallel-copy swap problem.
package mips

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/sy/compiler/ir"
)

type (
	Compiler struct{}

	fnContext struct {
		f *ir.Func

		offsets map[ir.Value]int
		frame   int

		block *ir.Block
		edge  int
	}
)

const (
	t0 = "$t0"
	t1 = "$t1"
	t2 = "$t2"
	v0 = "$v0"
)

func New() *Compiler {
	return &Compiler{}
}

func (c *Compiler) CompileModule(ctx context.Context, b []byte, m *ir.Module) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "mips: compile module")
	defer tr.Finish("err", &err)

	b = append(b, ".data\n"...)

	for _, g := range m.Globals {
		b = emitGlobal(b, g)
	}

	b = append(b, "\n.text\n"...)
	b = append(b, "jal _main\n"...)
	b = append(b, "li $v0, 10\nsyscall\n\n"...)

	for _, f := range m.Funcs {
		if f.Builtin {
			continue
		}

		b, err = c.compileFunc(ctx, b, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Ident())
		}
	}

	return b, nil
}

// emitGlobal lowers one global to data directives: scalars and filled
// arrays as .word/.byte per leaf, zero-initialized aggregates as .space.
func emitGlobal(b []byte, g *ir.Global) []byte {
	b = fmt.Appendf(b, "%v:", dataName(g))

	switch init := g.Init.(type) {
	case *ir.ConstArray:
		b = append(b, '\n')
		b = emitConstArray(b, init)
	case *ir.ConstInt:
		b = fmt.Appendf(b, " .word %d\n", init.V)
	default:
		b = fmt.Appendf(b, " .space %d\n", ir.SizeOf(ir.Pointee(g.Type())))
	}

	return b
}

func emitConstArray(b []byte, arr *ir.ConstArray) []byte {
	for _, e := range arr.Elems {
		switch e := e.(type) {
		case *ir.ConstArray:
			b = emitConstArray(b, e)
		case *ir.ConstInt:
			if ir.Equal(e.Type(), ir.I8) {
				b = fmt.Appendf(b, "    .byte %d\n", e.V)
			} else {
				b = fmt.Appendf(b, "    .word %d\n", e.V)
			}
		}
	}

	return b
}

// dataName strips the leading @ and prepends _ so user names cannot
// collide with MIPS mnemonics or directives.
func dataName(g *ir.Global) string {
	return "_" + g.Ident()[1:]
}

func fnName(f *ir.Func) string {
	if f.Builtin {
		return f.Ident()[1:]
	}

	return "_" + f.Ident()[1:]
}

func (p *fnContext) label(bb *ir.Block) string {
	return "L_" + p.f.Ident()[1:] + "_" + bb.Label()
}

func (c *Compiler) compileFunc(ctx context.Context, b []byte, f *ir.Func) (_ []byte, err error) {
	tr := tlog.SpanFromContext(ctx)
	tr.V("func").Printw("emit func", "name", f.Ident(), "blocks", len(f.Blocks))

	p := &fnContext{
		f:       f,
		offsets: map[ir.Value]int{},
	}

	p.layout()

	b = fmt.Appendf(b, "%v:\n", fnName(f))

	// Prologue: saved $ra and $fp live just below the caller frame.
	b = emit(b, "sw $ra, -4($sp)")
	b = emit(b, "sw $fp, -8($sp)")
	b = emit(b, "move $fp, $sp")

	if p.frame > 32767 {
		b = emit(b, "li $t0, %d", p.frame)
		b = emit(b, "subu $sp, $sp, $t0")
	} else {
		b = emit(b, "addiu $sp, $sp, -%d", p.frame)
	}

	for i, arg := range f.Params {
		if i >= 4 {
			break
		}

		b = p.storeReg(b, arg, fmt.Sprintf("$a%d", i))
	}

	for _, bb := range f.Blocks {
		b, err = p.compileBlock(b, bb)
		if err != nil {
			return nil, errors.Wrap(err, "block %v", bb.Label())
		}
	}

	return b, nil
}

// layout assigns every parameter and produced value its frame slot.
// Offsets grow downward from the saved registers; the frame is rounded
// up to 8 bytes.
func (p *fnContext) layout() {
	off := 8 // saved $ra, $fp

	for i, arg := range p.f.Params {
		if i < 4 {
			off += 4
			p.offsets[arg] = -off
		} else {
			p.offsets[arg] = (i - 4) * 4
		}
	}

	for _, bb := range p.f.Blocks {
		for _, instr := range bb.Instrs {
			if ir.Equal(instr.Type(), ir.Void) {
				continue
			}

			size, align := 4, 4

			if instr.Op == ir.Alloca {
				t := instr.Allocated()
				size = ir.SizeOf(t)
				align = alignOf(t)
			}

			off += size
			if off%align != 0 {
				off += align - off%align
			}

			p.offsets[instr] = -off
		}
	}

	if off%8 != 0 {
		off += 4
	}

	p.frame = off
}

func alignOf(t ir.Type) int {
	switch t := t.(type) {
	case ir.Basic:
		if t == ir.I8 {
			return 1
		}
	case *ir.Array:
		return alignOf(t.Elem)
	}

	return 4
}

func (p *fnContext) compileBlock(b []byte, bb *ir.Block) (_ []byte, err error) {
	p.block = bb

	b = fmt.Appendf(b, "%v:\n", p.label(bb))

	for _, instr := range bb.Instrs {
		b, err = p.compileInstr(b, instr)
		if err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (p *fnContext) compileInstr(b []byte, i *ir.Instr) ([]byte, error) {
	switch i.Op {
	case ir.Add, ir.Sub, ir.Mul:
		ops := map[ir.Op]string{ir.Add: "addu", ir.Sub: "subu", ir.Mul: "mul"}

		b = p.loadReg(b, i.Operand(0), t0)
		b = p.loadReg(b, i.Operand(1), t1)
		b = emit(b, "%v %v, %v, %v", ops[i.Op], t2, t0, t1)

		return p.storeReg(b, i, t2), nil
	case ir.SDiv, ir.SRem:
		b = p.loadReg(b, i.Operand(0), t0)
		b = p.loadReg(b, i.Operand(1), t1)
		b = emit(b, "div %v, %v", t0, t1)

		if i.Op == ir.SDiv {
			b = emit(b, "mflo %v", t2)
		} else {
			b = emit(b, "mfhi %v", t2)
		}

		return p.storeReg(b, i, t2), nil
	case ir.Alloca:
		return b, nil
	case ir.Phi:
		// Realized as copies on the incoming CFG edges.
		return b, nil
	case ir.Load:
		b = p.loadReg(b, i.Operand(0), t0)

		if ir.Equal(i.Type(), ir.I8) {
			b = emit(b, "lb %v, 0(%v)", t1, t0)
		} else {
			b = emit(b, "lw %v, 0(%v)", t1, t0)
		}

		return p.storeReg(b, i, t1), nil
	case ir.Store:
		b = p.loadReg(b, i.Operand(0), t0)
		b = p.loadReg(b, i.Operand(1), t1)

		if ir.Equal(i.Operand(0).Type(), ir.I8) {
			b = emit(b, "sb %v, 0(%v)", t0, t1)
		} else {
			b = emit(b, "sw %v, 0(%v)", t0, t1)
		}

		return b, nil
	case ir.ICmp:
		return p.compileICmp(b, i)
	case ir.Br:
		return p.compileBr(b, i)
	case ir.Jump:
		target := i.Operand(0).(*ir.Block)

		b = p.phiCopies(b, target)

		return emit(b, "j %v", p.label(target)), nil
	case ir.Call:
		return p.compileCall(b, i)
	case ir.Ret:
		if i.NOperands() != 0 {
			b = p.loadReg(b, i.Operand(0), v0)
		}

		b = emit(b, "move $sp, $fp")
		b = emit(b, "lw $ra, -4($sp)")
		b = emit(b, "lw $fp, -8($sp)")
		b = emit(b, "jr $ra")

		return b, nil
	case ir.Gep:
		return p.compileGep(b, i)
	case ir.Zext:
		b = p.loadReg(b, i.Operand(0), t0)

		return p.storeReg(b, i, t0), nil
	case ir.Trunc:
		b = p.loadReg(b, i.Operand(0), t0)

		if ir.Equal(i.Type(), ir.I1) {
			b = emit(b, "andi %v, %v, 1", t0, t0)
		}

		return p.storeReg(b, i, t0), nil
	default:
		return nil, errors.New("unsupported instruction: %v", i.Op)
	}
}

func (p *fnContext) compileICmp(b []byte, i *ir.Instr) ([]byte, error) {
	b = p.loadReg(b, i.Operand(0), t0)
	b = p.loadReg(b, i.Operand(1), t1)

	switch i.Cond {
	case ir.EQ:
		b = emit(b, "xor %v, %v, %v", t2, t0, t1)
		b = emit(b, "sltiu %v, %v, 1", t2, t2)
	case ir.NE:
		b = emit(b, "xor %v, %v, %v", t2, t0, t1)
		b = emit(b, "sltu %v, $zero, %v", t2, t2)
	case ir.SGT:
		b = emit(b, "slt %v, %v, %v", t2, t1, t0)
	case ir.SGE:
		b = emit(b, "slt %v, %v, %v", t2, t0, t1)
		b = emit(b, "xori %v, %v, 1", t2, t2)
	case ir.SLT:
		b = emit(b, "slt %v, %v, %v", t2, t0, t1)
	case ir.SLE:
		b = emit(b, "slt %v, %v, %v", t2, t1, t0)
		b = emit(b, "xori %v, %v, 1", t2, t2)
	default:
		return nil, errors.New("unsupported icmp cond: %v", i.Cond)
	}

	return p.storeReg(b, i, t2), nil
}

// compileBr lowers a conditional branch through two edge blocks so
// that each destination's φs get their copies for this source.
func (p *fnContext) compileBr(b []byte, i *ir.Instr) ([]byte, error) {
	trueB := i.Operand(1).(*ir.Block)
	falseB := i.Operand(2).(*ir.Block)

	b = p.loadReg(b, i.Operand(0), t0)

	edgeTrue := p.edgeLabel(trueB)
	edgeFalse := p.edgeLabel(falseB)

	b = emit(b, "bne %v, $zero, %v", t0, edgeTrue)
	b = emit(b, "j %v", edgeFalse)

	b = fmt.Appendf(b, "%v:\n", edgeTrue)
	b = p.phiCopies(b, trueB)
	b = emit(b, "j %v", p.label(trueB))

	b = fmt.Appendf(b, "%v:\n", edgeFalse)
	b = p.phiCopies(b, falseB)
	b = emit(b, "j %v", p.label(falseB))

	return b, nil
}

func (p *fnContext) edgeLabel(to *ir.Block) string {
	l := fmt.Sprintf("%v_to_%v_phi_edge_%d", p.label(p.block), p.label(to), p.edge)
	p.edge++

	return l
}

// phiCopies loads each φ's incoming value for this source block and
// stores it into the φ's slot.
func (p *fnContext) phiCopies(b []byte, to *ir.Block) []byte {
	for _, instr := range to.Instrs {
		if instr.Op != ir.Phi {
			break
		}

		in := instr.IncomingFor(p.block)
		if in == nil {
			b = emit(b, "li %v, 0", t0)
		} else {
			b = p.loadReg(b, in, t0)
		}

		b = p.storeReg(b, instr, t0)
	}

	return b
}

func (p *fnContext) compileCall(b []byte, i *ir.Instr) ([]byte, error) {
	callee := i.Callee()
	argc := i.NOperands() - 1

	stackArgs := 0
	if argc > 4 {
		stackArgs = argc - 4
	}

	if stackArgs > 0 {
		b = emit(b, "addiu $sp, $sp, -%d", stackArgs*4)
	}

	for k := 0; k < argc; k++ {
		b = p.loadReg(b, i.Operand(k+1), t0)

		if k < 4 {
			b = emit(b, "move $a%d, %v", k, t0)
		} else {
			b = emit(b, "sw %v, %d($sp)", t0, (k-4)*4)
		}
	}

	// The cheap I/O builtins inline the syscall; everything else is a
	// plain call.
	switch callee.Ident() {
	case "@getint":
		b = emit(b, "li $v0, 5")
		b = emit(b, "syscall")
	case "@putint":
		b = emit(b, "li $v0, 1")
		b = emit(b, "syscall")
	case "@putch":
		b = emit(b, "li $v0, 11")
		b = emit(b, "syscall")
	default:
		b = emit(b, "jal %v", fnName(callee))
	}

	if stackArgs > 0 {
		b = emit(b, "addiu $sp, $sp, %d", stackArgs*4)
	}

	if !ir.Equal(i.Type(), ir.Void) {
		b = p.storeReg(b, i, v0)
	}

	return b, nil
}

// compileGep walks the indexed type, scaling each index by the element
// size it steps over and accumulating into the base address.
func (p *fnContext) compileGep(b []byte, i *ir.Instr) ([]byte, error) {
	b = p.loadReg(b, i.Operand(0), t0)

	cur := ir.Pointee(i.Operand(0).Type())

	for k := 1; k < i.NOperands(); k++ {
		size := ir.SizeOf(cur)

		b = p.loadReg(b, i.Operand(k), t1)
		b = emit(b, "li %v, %d", t2, size)
		b = emit(b, "mul %v, %v, %v", t1, t1, t2)
		b = emit(b, "addu %v, %v, %v", t0, t0, t1)

		if at, ok := cur.(*ir.Array); ok {
			cur = at.Elem
		}
	}

	return p.storeReg(b, i, t0), nil
}

// loadReg materializes a value into a register: immediates with li,
// global and alloca addresses with la/addiu, anything else from its
// frame slot.
func (p *fnContext) loadReg(b []byte, v ir.Value, reg string) []byte {
	switch v := v.(type) {
	case *ir.ConstInt:
		return emit(b, "li %v, %d", reg, v.V)
	case *ir.Global:
		return emit(b, "la %v, %v", reg, dataName(v))
	case *ir.Instr:
		if v.Op == ir.Alloca {
			return emit(b, "addiu %v, $fp, %d", reg, p.offsets[v])
		}
	}

	if off, ok := p.offsets[v]; ok {
		return emit(b, "lw %v, %d($fp)", reg, off)
	}

	return emit(b, "# value without slot: %v", v.Ident())
}

func (p *fnContext) storeReg(b []byte, v ir.Value, reg string) []byte {
	if off, ok := p.offsets[v]; ok {
		return emit(b, "sw %v, %d($fp)", reg, off)
	}

	return b
}

func emit(b []byte, f string, args ...any) []byte {
	b = append(b, "    "...)
	b = fmt.Appendf(b, f, args...)

	return append(b, '\n')
}
