package ir

import "fmt"

type (
	// Builder tracks the current function and insertion block and
	// hands out uniquely named instructions.
	Builder struct {
		Mod *Module

		F *Func
		B *Block

		tmp int
	}
)

func NewBuilder(m *Module) *Builder {
	return &Builder{Mod: m}
}

// SetFunc switches the builder to a function and resets local naming.
func (b *Builder) SetFunc(f *Func) {
	b.F = f
	b.B = nil
	b.tmp = 0
}

func (b *Builder) SetBlock(bb *Block) {
	b.B = bb
}

func (b *Builder) NewBlock(prefix string) *Block {
	bb := NewBlock("%" + b.Unique(prefix))
	b.F.AddBlock(bb)

	return bb
}

func (b *Builder) Unique(prefix string) string {
	n := fmt.Sprintf("%v_%d", prefix, b.tmp)
	b.tmp++

	return n
}

func (b *Builder) Insert(i *Instr) *Instr {
	b.B.Push(i)

	return i
}

func (b *Builder) Alu(op Op, x, y Value, prefix string) *Instr {
	i := newInstr(op, I32, "%"+b.Unique(prefix))
	i.AddOperand(x)
	i.AddOperand(y)

	return b.Insert(i)
}

func (b *Builder) Alloca(t Type, prefix string) *Instr {
	i := newInstr(Alloca, PtrTo(t), "%"+b.Unique(prefix))

	return b.Insert(i)
}

func (b *Builder) Load(ptr Value, prefix string) *Instr {
	i := newInstr(Load, Pointee(ptr.Type()), "%"+b.Unique(prefix))
	i.AddOperand(ptr)

	return b.Insert(i)
}

func (b *Builder) Store(v, ptr Value) *Instr {
	i := newInstr(Store, Void, "")
	i.AddOperand(v)
	i.AddOperand(ptr)

	return b.Insert(i)
}

func (b *Builder) ICmp(cond Cond, x, y Value, prefix string) *Instr {
	i := newInstr(ICmp, I1, "%"+b.Unique(prefix))
	i.Cond = cond
	i.AddOperand(x)
	i.AddOperand(y)

	return b.Insert(i)
}

func (b *Builder) Br(c Value, t, f *Block) *Instr {
	i := newInstr(Br, Void, "")
	i.AddOperand(c)
	i.AddOperand(t)
	i.AddOperand(f)

	return b.Insert(i)
}

func (b *Builder) Jump(t *Block) *Instr {
	i := newInstr(Jump, Void, "")
	i.AddOperand(t)

	return b.Insert(i)
}

func (b *Builder) Call(f *Func, args []Value, prefix string) *Instr {
	name := ""
	if !Equal(f.Sig.Ret, Void) {
		name = "%" + b.Unique(prefix)
	}

	i := newInstr(Call, f.Sig.Ret, name)
	i.AddOperand(f)

	for _, a := range args {
		i.AddOperand(a)
	}

	return b.Insert(i)
}

func (b *Builder) Ret(v Value) *Instr {
	i := newInstr(Ret, Void, "")

	if v != nil {
		i.AddOperand(v)
	}

	return b.Insert(i)
}

// Gep computes the result type by walking the indexed type: the first
// index steps through the base pointer, each further index steps into
// the array element.
func (b *Builder) Gep(base Value, idx []Value, prefix string) *Instr {
	t := Pointee(base.Type())

	for range idx[1:] {
		if at, ok := t.(*Array); ok {
			t = at.Elem
		}
	}

	i := newInstr(Gep, PtrTo(t), "%"+b.Unique(prefix))
	i.AddOperand(base)

	for _, x := range idx {
		i.AddOperand(x)
	}

	return b.Insert(i)
}

func (b *Builder) Zext(v Value, to Type, prefix string) *Instr {
	i := newInstr(Zext, to, "%"+b.Unique(prefix))
	i.AddOperand(v)

	return b.Insert(i)
}

func (b *Builder) Trunc(v Value, to Type, prefix string) *Instr {
	i := newInstr(Trunc, to, "%"+b.Unique(prefix))
	i.AddOperand(v)

	return b.Insert(i)
}

// NewPhi makes an unattached φ; passes position it with InsertAfterPhis.
func NewPhi(t Type, name string) *Instr {
	return newInstr(Phi, t, name)
}
