package ir

import "fmt"

// Dump renders the module in the LLVM-like textual form used by the
// llvm_ir*.txt outputs.
func (m *Module) Dump(b []byte) []byte {
	for _, g := range m.Globals {
		b = g.dump(b)
		b = append(b, '\n')
	}

	for _, f := range m.Funcs {
		b = append(b, '\n')
		b = f.dump(b)
		b = append(b, '\n')
	}

	return b
}

func (g *Global) dump(b []byte) []byte {
	kind := "global"
	if g.IsConst {
		kind = "constant"
	}

	b = fmt.Appendf(b, "%v = %v ", g.name, kind)

	if g.Init != nil {
		return appendConst(b, g.Init)
	}

	return fmt.Appendf(b, "%v zeroinitializer", Pointee(g.typ))
}

func appendConst(b []byte, c Const) []byte {
	switch c := c.(type) {
	case *ConstInt:
		return fmt.Appendf(b, "%v %d", c.typ, c.V)
	case *ConstArray:
		b = fmt.Appendf(b, "%v [", c.typ)

		for i, e := range c.Elems {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = appendConst(b, e)
		}

		return append(b, ']')
	default:
		return append(b, "badconst"...)
	}
}

func (f *Func) dump(b []byte) []byte {
	if f.Builtin {
		b = fmt.Appendf(b, "declare %v %v(", f.Sig.Ret, f.name)

		for i, p := range f.Sig.Params {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = fmt.Appendf(b, "%v", p)
		}

		return append(b, ')')
	}

	b = fmt.Appendf(b, "define %v %v(", f.Sig.Ret, f.name)

	for i, p := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = fmt.Appendf(b, "%v %v", p.typ, p.name)
	}

	b = append(b, ") {\n"...)

	for _, bb := range f.Blocks {
		b = bb.dump(b)
	}

	return append(b, '}')
}

func (bb *Block) dump(b []byte) []byte {
	b = fmt.Appendf(b, "%v:\n", bb.Label())

	for _, i := range bb.Instrs {
		b = append(b, "  "...)
		b = i.dump(b)
		b = append(b, '\n')
	}

	return b
}

// Label is the block name without the % sigil.
func (bb *Block) Label() string {
	if len(bb.name) != 0 && bb.name[0] == '%' {
		return bb.name[1:]
	}

	return bb.name
}

func (i *Instr) dump(b []byte) []byte {
	op := func(k int) Value { return i.Operand(k) }

	switch i.Op {
	case Add, Sub, Mul, SDiv, SRem:
		return fmt.Appendf(b, "%v = %v %v %v, %v", i.name, i.Op, op(0).Type(), op(0).Ident(), op(1).Ident())
	case Alloca:
		return fmt.Appendf(b, "%v = alloca %v", i.name, i.Allocated())
	case Load:
		return fmt.Appendf(b, "%v = load %v, %v %v", i.name, i.typ, op(0).Type(), op(0).Ident())
	case Store:
		return fmt.Appendf(b, "store %v %v, %v %v", op(0).Type(), op(0).Ident(), op(1).Type(), op(1).Ident())
	case ICmp:
		return fmt.Appendf(b, "%v = icmp %v %v %v, %v", i.name, i.Cond, op(0).Type(), op(0).Ident(), op(1).Ident())
	case Br:
		return fmt.Appendf(b, "br %v %v, label %v, label %v", op(0).Type(), op(0).Ident(), op(1).Ident(), op(2).Ident())
	case Jump:
		return fmt.Appendf(b, "br label %v", op(0).Ident())
	case Call:
		if !Equal(i.typ, Void) {
			b = fmt.Appendf(b, "%v = ", i.name)
		}

		b = fmt.Appendf(b, "call %v %v(", i.typ, op(0).Ident())

		for k := 1; k < i.NOperands(); k++ {
			if k != 1 {
				b = append(b, ", "...)
			}

			b = fmt.Appendf(b, "%v %v", op(k).Type(), op(k).Ident())
		}

		return append(b, ')')
	case Ret:
		if i.NOperands() == 0 {
			return append(b, "ret void"...)
		}

		return fmt.Appendf(b, "ret %v %v", op(0).Type(), op(0).Ident())
	case Gep:
		b = fmt.Appendf(b, "%v = getelementptr %v, %v %v", i.name, Pointee(op(0).Type()), op(0).Type(), op(0).Ident())

		for k := 1; k < i.NOperands(); k++ {
			b = fmt.Appendf(b, ", %v %v", op(k).Type(), op(k).Ident())
		}

		return b
	case Zext:
		return fmt.Appendf(b, "%v = zext %v %v to %v", i.name, op(0).Type(), op(0).Ident(), i.typ)
	case Trunc:
		return fmt.Appendf(b, "%v = trunc %v %v to %v", i.name, op(0).Type(), op(0).Ident(), i.typ)
	case Phi:
		b = fmt.Appendf(b, "%v = phi %v ", i.name, i.typ)

		for k := 0; k < i.NIncoming(); k++ {
			v, blk := i.Incoming(k)

			if k != 0 {
				b = append(b, ", "...)
			}

			b = fmt.Appendf(b, "[%v, %v]", v.Ident(), blk.Ident())
		}

		return b
	default:
		return fmt.Appendf(b, "; bad instr %v", i.Op)
	}
}
