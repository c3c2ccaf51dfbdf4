package ir

type (
	// Module owns globals and functions, in definition order.
	Module struct {
		Globals []*Global
		Funcs   []*Func
	}

	// Global is a module-scoped variable. Its value type is a pointer
	// to the declared type; Init nil means zero-initialized.
	Global struct {
		value

		Init    Const
		IsConst bool
	}

	Func struct {
		value

		Sig     *FuncType
		Params  []*Param
		Blocks  []*Block
		Builtin bool
	}

	Param struct {
		value
	}

	// Block owns its instructions. The last instruction of a finished
	// block is its terminator; nothing may follow one.
	Block struct {
		value

		Func   *Func
		Instrs []*Instr
	}
)

func (m *Module) AddGlobal(g *Global) {
	m.Globals = append(m.Globals, g)
}

func (m *Module) AddFunc(f *Func) {
	m.Funcs = append(m.Funcs, f)
}

func NewGlobal(t Type, name string, init Const, isConst bool) *Global {
	return &Global{
		value:   value{typ: PtrTo(t), name: name},
		Init:    init,
		IsConst: isConst,
	}
}

func NewFunc(ret Type, params []Type, name string, builtin bool) *Func {
	sig := &FuncType{Ret: ret, Params: params}

	f := &Func{
		value:   value{typ: sig, name: name},
		Sig:     sig,
		Builtin: builtin,
	}

	for i, pt := range params {
		f.Params = append(f.Params, &Param{value{typ: pt, name: localName("arg", i)}})
	}

	return f
}

func (f *Func) AddBlock(b *Block) {
	b.Func = f
	f.Blocks = append(f.Blocks, b)
}

func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}

	return f.Blocks[0]
}

func NewBlock(name string) *Block {
	return &Block{value: value{typ: Label, name: name}}
}

func (b *Block) Push(i *Instr) {
	i.Blk = b
	b.Instrs = append(b.Instrs, i)
}

// Terminator returns the last instruction if it is br/jump/ret.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}

	if t := b.Instrs[len(b.Instrs)-1]; t.IsTerminator() {
		return t
	}

	return nil
}

// Terminated reports whether the block already ends in a terminator.
func (b *Block) Terminated() bool {
	return b.Terminator() != nil
}

// InsertAfterPhis places i after the block's leading φ run.
func (b *Block) InsertAfterPhis(i *Instr) {
	p := 0

	for p < len(b.Instrs) && b.Instrs[p].Op == Phi {
		p++
	}

	i.Blk = b

	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[p+1:], b.Instrs[p:])
	b.Instrs[p] = i
}

// Erase removes i from the block, detaching its operand edges first.
func (b *Block) Erase(i *Instr) {
	i.ClearOperands()

	for k, x := range b.Instrs {
		if x == i {
			b.Instrs = append(b.Instrs[:k], b.Instrs[k+1:]...)
			return
		}
	}
}
