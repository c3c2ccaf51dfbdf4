// Package irgen lowers the syntax tree into the IR module.
//
// The walk mirrors the scope order pre-recorded by the semantic
// analyzer; internal inconsistencies (a name the analyzer accepted but
// we cannot resolve, a mis-shaped LVal) are compiler bugs and abort
// generation with a diagnostic.
package irgen

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/sy/compiler/ast"
	"github.com/slowlang/sy/compiler/ir"
	"github.com/slowlang/sy/compiler/sem"
	"github.com/slowlang/sy/compiler/token"
)

type (
	Generator struct {
		res *sem.Result

		mod *ir.Module
		b   *ir.Builder

		cur    *sem.Scope
		fnName string

		loops []loopTargets
	}

	// loopTargets is the innermost loop's (continue, break) pair.
	loopTargets struct {
		step *ir.Block
		next *ir.Block
	}
)

func New(res *sem.Result) *Generator {
	mod := &ir.Module{}

	g := &Generator{
		res: res,
		mod: mod,
		b:   ir.NewBuilder(mod),
		cur: res.Root,
	}

	g.declareBuiltins()

	return g
}

// declareBuiltins emits the library forward declarations and binds them
// to the root-scope symbols.
func (g *Generator) declareBuiltins() {
	i32 := ir.Type(ir.I32)
	i32p := ir.PtrTo(ir.I32)
	i8p := ir.PtrTo(ir.I8)

	fn := func(name string, ret ir.Type, params ...ir.Type) {
		f := ir.NewFunc(ret, params, "@"+name, true)
		g.mod.AddFunc(f)

		if sym := g.res.Root.Local(name); sym != nil {
			sym.IR = f
		}
	}

	fn("getint", i32)
	fn("getch", i32)
	fn("getarray", i32, i32p)
	fn("putint", ir.Void, i32)
	fn("putch", ir.Void, i32)
	fn("putarray", ir.Void, i32, i32p)
	fn("putstr", ir.Void, i8p)
	fn("starttime", ir.Void)
	fn("stoptime", ir.Void)
}

func (g *Generator) Generate(ctx context.Context, root *ast.Node) (_ *ir.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "irgen: lower module")
	defer tr.Finish("err", &err)

	for _, c := range root.Children {
		switch {
		case c.Is("Decl"):
			err = g.decl(ctx, c)
		case c.Is("FuncDef"):
			err = g.funcDef(ctx, c)
		case c.Is("MainFuncDef"):
			err = g.mainFuncDef(ctx, c)
		}

		if err != nil {
			return nil, err
		}
	}

	return g.mod, nil
}

// findSymbol resolves a name from the current scope outward. A local
// that has not been lowered yet (no IR slot, not const, not a
// function) is skipped so that its initializer sees the outer binding.
func (g *Generator) findSymbol(name string) *sem.Symbol {
	for sc := g.cur; sc != nil; sc = sc.Parent {
		sym := sc.Local(name)
		if sym == nil {
			continue
		}

		if sym.IR != nil || sym.Const || sym.Kind == sem.KindFunc || sym.Builtin {
			return sym
		}
	}

	return nil
}

func (g *Generator) bug(name string) error {
	return errors.New("symbol missed by analysis: %v (at %v)", name, loc.Caller(1))
}

func (g *Generator) decl(ctx context.Context, n *ast.Node) error {
	d := n.Children[0]

	if d.Is("ConstDecl") {
		return g.constDecl(ctx, d)
	}

	return g.varDecl(ctx, d)
}

// defDims evaluates the declared dimensions and stores them into the
// symbol; the array type nests right to left.
func (g *Generator) defDims(def *ast.Node, sym *sem.Symbol) (dims []int, typ ir.Type) {
	for i, c := range def.Children {
		if c.IsKind(token.LBRACK) && i+1 < len(def.Children) && def.Children[i+1].Is("ConstExp") {
			dims = append(dims, int(g.evalConst(def.Children[i+1])))
		}
	}

	typ = ir.I32

	for i := len(dims) - 1; i >= 0; i-- {
		typ = ir.ArrayOf(dims[i], typ)
	}

	copy(sym.Dims, dims)

	return dims, typ
}

func strides(dims []int) (s []int, total int) {
	total = 1

	for k := range dims {
		x := 1

		for j := k + 1; j < len(dims); j++ {
			x *= dims[j]
		}

		s = append(s, x)

		if k == 0 {
			total = dims[0] * x
		}
	}

	return s, total
}

func (g *Generator) constDecl(ctx context.Context, n *ast.Node) error {
	for _, def := range n.Children {
		if !def.Is("ConstDef") {
			continue
		}

		name := def.Children[0].Tok.Text

		sym := g.cur.Local(name)
		if sym == nil {
			return g.bug(name)
		}

		dims, typ := g.defDims(def, sym)

		isGlobal := g.cur.Parent == nil
		init := def.Children[len(def.Children)-1]

		if len(dims) == 0 {
			val := g.evalConst(init.Children[0])
			sym.ConstVal = val

			if isGlobal {
				gv := ir.NewGlobal(typ, "@"+name, ir.Int32(val), true)
				g.mod.AddGlobal(gv)
				sym.IR = gv
			} else {
				slot := g.b.Alloca(typ, name+"_addr")
				sym.IR = slot
				g.b.Store(ir.Int32(val), slot)
			}

			continue
		}

		st, total := strides(dims)

		vals := g.foldInitList(init, total)
		sym.ArrayVals = vals

		if isGlobal {
			gv := ir.NewGlobal(typ, "@"+name, reshape(typ, vals), true)
			g.mod.AddGlobal(gv)
			sym.IR = gv

			continue
		}

		slot := g.b.Alloca(typ, name+"_addr")
		sym.IR = slot

		g.storeElems(slot, st, total, func(i int) (ir.Value, error) {
			return ir.Int32(vals[i]), nil
		})
	}

	return nil
}

func (g *Generator) varDecl(ctx context.Context, n *ast.Node) error {
	static := len(n.Children) != 0 && n.Children[0].IsKind(token.STATICTK)

	for _, def := range n.Children {
		if !def.Is("VarDef") {
			continue
		}

		name := def.Children[0].Tok.Text

		sym := g.cur.Local(name)
		if sym == nil {
			return g.bug(name)
		}

		dims, typ := g.defDims(def, sym)

		isGlobal := g.cur.Parent == nil
		last := def.Children[len(def.Children)-1]

		hasInit := last.Is("InitVal")

		if isGlobal || static {
			var init ir.Const

			if hasInit {
				if len(dims) == 0 {
					val := g.evalConst(last.Children[0])
					init = ir.Int32(val)
					sym.ConstVal = val
				} else {
					_, total := strides(dims)

					vals := g.foldInitList(last, total)
					sym.ArrayVals = vals

					init = reshape(typ, vals)
				}
			} else if len(dims) == 0 {
				init = ir.Int32(0)
			}
			// an uninitialized aggregate keeps a nil initializer
			// (zero-initialized, emitted as .space)

			gname := "@" + name
			if !isGlobal {
				gname = "@" + g.b.Unique(g.fnName+"."+name)
			}

			gv := ir.NewGlobal(typ, gname, init, false)
			g.mod.AddGlobal(gv)
			sym.IR = gv

			continue
		}

		slot := g.b.Alloca(typ, name+"_addr")
		sym.IR = slot

		if !hasInit {
			continue
		}

		if len(dims) == 0 {
			val, err := g.exp(ctx, last.Children[0])
			if err != nil {
				return errors.Wrap(err, "init %v", name)
			}

			g.b.Store(val, slot)

			continue
		}

		st, total := strides(dims)
		exprs := flatInitExprs(last)

		err := g.storeElems(slot, st, total, func(i int) (ir.Value, error) {
			if i < len(exprs) {
				return g.exp(ctx, exprs[i])
			}

			return ir.Int32(0), nil
		})
		if err != nil {
			return errors.Wrap(err, "init %v", name)
		}
	}

	return nil
}

// storeElems writes every element of a local array in row-major order:
// one gep per element, then the store.
func (g *Generator) storeElems(slot *ir.Instr, st []int, total int, elem func(i int) (ir.Value, error)) error {
	for i := 0; i < total; i++ {
		v, err := elem(i)
		if err != nil {
			return errors.Wrap(err, "elem %d", i)
		}

		idx := []ir.Value{ir.Int32(0)}

		rem := i
		for _, s := range st {
			idx = append(idx, ir.Int32(int64(rem/s)))
			rem %= s
		}

		gep := g.b.Gep(slot, idx, "gep")
		g.b.Store(v, gep)
	}

	return nil
}

// reshape folds a flat row-major value list into the nested constant
// matching an array type.
func reshape(t ir.Type, vals []int64) ir.Const {
	pos := 0

	var rec func(t ir.Type) ir.Const
	rec = func(t ir.Type) ir.Const {
		if at, ok := t.(*ir.Array); ok {
			elems := make([]ir.Const, at.N)
			for i := range elems {
				elems[i] = rec(at.Elem)
			}

			return ir.NewConstArray(at, elems)
		}

		v := vals[pos]
		pos++

		return ir.NewConstInt(t, v)
	}

	return rec(t)
}

// foldInitList folds every initializer expression and zero-pads to the
// declared element count.
func (g *Generator) foldInitList(init *ast.Node, total int) []int64 {
	vals := []int64{}

	for _, e := range flatInitExprs(init) {
		vals = append(vals, g.evalConst(e))
	}

	for len(vals) < total {
		vals = append(vals, 0)
	}

	return vals
}

// flatInitExprs flattens a braced initializer tree into its expression
// leaves in source order.
func flatInitExprs(init *ast.Node) (exprs []*ast.Node) {
	if len(init.Children) != 0 && init.Children[0].IsKind(token.LBRACE) {
		for _, c := range init.Children {
			if c.Is("InitVal") || c.Is("ConstInitVal") {
				exprs = append(exprs, flatInitExprs(c)...)
			} else if c.Is("Exp") || c.Is("ConstExp") {
				exprs = append(exprs, c)
			}
		}

		return exprs
	}

	return []*ast.Node{init.Children[0]}
}

func (g *Generator) funcDef(ctx context.Context, n *ast.Node) (err error) {
	var name string

	for _, c := range n.Children {
		if c.IsKind(token.IDENFR) {
			name = c.Tok.Text
			break
		}
	}

	tr := tlog.SpanFromContext(ctx)
	tr.V("func").Printw("lower func", "name", name)

	g.fnName = name

	sym := g.cur.Local(name)
	if sym == nil {
		return g.bug(name)
	}

	var params []ir.Type

	for _, pk := range sym.Params {
		if pk == sem.ParamArray {
			params = append(params, ir.PtrTo(ir.I32))
		} else {
			params = append(params, ir.Type(ir.I32))
		}
	}

	ret := ir.Type(ir.I32)
	if sym.RetVoid {
		ret = ir.Void
	}

	f := ir.NewFunc(ret, params, "@"+name, false)
	g.mod.AddFunc(f)
	sym.IR = f

	g.b.SetFunc(f)
	entry := g.b.NewBlock("entry")
	g.b.SetBlock(entry)

	var body *ast.Node

	for _, c := range n.Children {
		if c.Is("Block") {
			body = c
			break
		}
	}

	prev := g.cur
	g.cur = g.res.ScopeOf[body]
	defer func() { g.cur = prev }()

	idx := 0

	for _, c := range n.Children {
		if !c.Is("FuncFParams") {
			continue
		}

		for _, p := range c.Children {
			if !p.Is("FuncFParam") {
				continue
			}

			if err := g.funcFParam(p, f, idx); err != nil {
				return err
			}

			idx++
		}
	}

	if err := g.blockItems(ctx, body); err != nil {
		return errors.Wrap(err, "func %v", name)
	}

	if !g.b.B.Terminated() {
		if sym.RetVoid {
			g.b.Ret(nil)
		} else {
			g.b.Ret(ir.Int32(0))
		}
	}

	return nil
}

func (g *Generator) funcFParam(p *ast.Node, f *ir.Func, idx int) error {
	var name string

	for _, c := range p.Children {
		if c.IsKind(token.IDENFR) {
			name = c.Tok.Text
			break
		}
	}

	sym := g.cur.Local(name)
	if sym == nil {
		return g.bug(name)
	}

	if idx >= len(f.Params) {
		return errors.New("param %v out of range (at %v)", name, loc.Caller(0))
	}

	arg := f.Params[idx]

	slot := g.b.Alloca(arg.Type(), name+"_addr")
	g.b.Store(arg, slot)
	sym.IR = slot

	return nil
}

func (g *Generator) mainFuncDef(ctx context.Context, n *ast.Node) error {
	g.fnName = "main"

	f := ir.NewFunc(ir.I32, nil, "@main", false)
	g.mod.AddFunc(f)

	if sym := g.cur.Local("main"); sym != nil {
		sym.IR = f
	}

	g.b.SetFunc(f)
	entry := g.b.NewBlock("entry")
	g.b.SetBlock(entry)

	for _, c := range n.Children {
		if !c.Is("Block") {
			continue
		}

		prev := g.cur
		g.cur = g.res.ScopeOf[c]

		err := g.blockItems(ctx, c)

		g.cur = prev

		if err != nil {
			return errors.Wrap(err, "main")
		}
	}

	if !g.b.B.Terminated() {
		g.b.Ret(ir.Int32(0))
	}

	return nil
}

// blockItems lowers the items of an already-entered block scope.
func (g *Generator) blockItems(ctx context.Context, block *ast.Node) error {
	for _, c := range block.Children {
		if !c.Is("BlockItem") {
			continue
		}

		item := c.Children[0]

		var err error

		if item.Is("Decl") {
			err = g.decl(ctx, item)
		} else {
			err = g.stmt(ctx, item)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (g *Generator) nestedBlock(ctx context.Context, block *ast.Node) error {
	prev := g.cur

	if sc := g.res.ScopeOf[block]; sc != nil {
		g.cur = sc
	}

	err := g.blockItems(ctx, block)

	g.cur = prev

	return err
}
