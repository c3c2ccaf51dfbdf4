package irgen

import (
	"context"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/slowlang/sy/compiler/ast"
	"github.com/slowlang/sy/compiler/ir"
	"github.com/slowlang/sy/compiler/sem"
	"github.com/slowlang/sy/compiler/token"
)

func (g *Generator) exp(ctx context.Context, n *ast.Node) (ir.Value, error) {
	return g.addExp(ctx, n.Children[0])
}

func (g *Generator) addExp(ctx context.Context, n *ast.Node) (ir.Value, error) {
	if len(n.Children) == 1 {
		return g.mulExp(ctx, n.Children[0])
	}

	lhs, err := g.addExp(ctx, n.Children[0])
	if err != nil {
		return nil, err
	}

	rhs, err := g.mulExp(ctx, n.Children[2])
	if err != nil {
		return nil, err
	}

	op := ir.Add
	if n.Children[1].IsKind(token.MINU) {
		op = ir.Sub
	}

	return g.b.Alu(op, lhs, rhs, "tmp"), nil
}

func (g *Generator) mulExp(ctx context.Context, n *ast.Node) (ir.Value, error) {
	if len(n.Children) == 1 {
		return g.unaryExp(ctx, n.Children[0])
	}

	lhs, err := g.mulExp(ctx, n.Children[0])
	if err != nil {
		return nil, err
	}

	rhs, err := g.unaryExp(ctx, n.Children[2])
	if err != nil {
		return nil, err
	}

	var op ir.Op

	switch n.Children[1].Tok.Kind {
	case token.MULT:
		op = ir.Mul
	case token.DIV:
		op = ir.SDiv
	default:
		op = ir.SRem
	}

	return g.b.Alu(op, lhs, rhs, "tmp"), nil
}

func (g *Generator) unaryExp(ctx context.Context, n *ast.Node) (ir.Value, error) {
	first := n.Children[0]

	switch {
	case first.Is("PrimaryExp"):
		return g.primaryExp(ctx, first)
	case first.Is("UnaryOp"):
		val, err := g.unaryExp(ctx, n.Children[1])
		if err != nil {
			return nil, err
		}

		switch first.Children[0].Tok.Kind {
		case token.PLUS:
			return val, nil
		case token.MINU:
			return g.b.Alu(ir.Sub, ir.Int32(0), val, "neg"), nil
		default: // !
			cmp := g.b.ICmp(ir.EQ, val, ir.Int32(0), "not")
			return g.b.Zext(cmp, ir.I32, "zext"), nil
		}
	case first.IsKind(token.IDENFR):
		return g.callExp(ctx, n)
	default:
		return nil, errors.New("mis-shaped unary expression (at %v)", loc.Caller(0))
	}
}

func (g *Generator) callExp(ctx context.Context, n *ast.Node) (ir.Value, error) {
	name := n.Children[0].Tok.Text

	sym := g.findSymbol(name)
	if sym == nil || sym.IR == nil {
		return nil, g.bug(name)
	}

	f, ok := sym.IR.(*ir.Func)
	if !ok {
		return nil, errors.New("call of non-function %v (at %v)", name, loc.Caller(0))
	}

	var args []ir.Value

	for _, c := range n.Children {
		if !c.Is("FuncRParams") {
			continue
		}

		for _, e := range c.Children {
			if !e.Is("Exp") {
				continue
			}

			a, err := g.exp(ctx, e)
			if err != nil {
				return nil, err
			}

			args = append(args, a)
		}
	}

	return g.b.Call(f, args, "call"), nil
}

func (g *Generator) primaryExp(ctx context.Context, n *ast.Node) (ir.Value, error) {
	first := n.Children[0]

	switch {
	case first.Is("LVal"):
		return g.lval(ctx, first, false)
	case first.Is("Number"):
		v, err := strconv.ParseInt(first.Children[0].Tok.Text, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "number literal")
		}

		return ir.Int32(v), nil
	default: // ( Exp )
		return g.exp(ctx, n.Children[1])
	}
}

// lval resolves name{[i]}* to a pointer (write position) or its loaded
// value (read position). An array-typed base gets a leading zero index;
// a pointer-typed base (array parameter) is loaded first; a bare array
// in value position decays to a pointer at element 0.
func (g *Generator) lval(ctx context.Context, n *ast.Node, write bool) (ir.Value, error) {
	name := n.Children[0].Tok.Text

	sym := g.findSymbol(name)
	if sym == nil || sym.IR == nil {
		return nil, g.bug(name)
	}

	// Constant scalar and folded const-array reads short-circuit to
	// their known values.
	if !write {
		if v, ok := g.foldLVal(n, sym); ok {
			return ir.Int32(v), nil
		}
	}

	ptr := sym.IR

	var indices []ir.Value

	for i := 1; i < len(n.Children); i++ {
		if !n.Children[i].Is("Exp") {
			continue
		}

		idx, err := g.exp(ctx, n.Children[i])
		if err != nil {
			return nil, err
		}

		indices = append(indices, idx)
	}

	pointee := ir.Pointee(ptr.Type())

	if len(indices) != 0 {
		switch pointee.(type) {
		case *ir.Array:
			indices = append([]ir.Value{ir.Int32(0)}, indices...)
		case *ir.Ptr:
			ptr = g.b.Load(ptr, "ptr_load")
		}

		ptr = g.b.Gep(ptr, indices, "gep")
	} else if _, ok := pointee.(*ir.Array); ok {
		// Whole-array mention decays to &arr[0] in either position.
		zeros := []ir.Value{ir.Int32(0), ir.Int32(0)}
		return g.b.Gep(ptr, zeros, "gep_decay"), nil
	}

	if write {
		return ptr, nil
	}

	switch pt := ir.Pointee(ptr.Type()).(type) {
	case *ir.Array:
		zeros := []ir.Value{ir.Int32(0), ir.Int32(0)}
		return g.b.Gep(ptr, zeros, "gep_decay"), nil
	case ir.Basic:
		return g.b.Load(ptr, "load_"+name), nil
	case *ir.Ptr:
		return g.b.Load(ptr, "load_ptr_"+name), nil
	default:
		return nil, errors.New("lval %v: bad pointee %v (at %v)", name, pt, loc.Caller(0))
	}
}

// foldLVal tries to fold a read of a const scalar or a const array
// element with a compile-time index.
func (g *Generator) foldLVal(n *ast.Node, sym *sem.Symbol) (int64, bool) {
	subs := []*ast.Node{}

	for _, c := range n.Children[1:] {
		if c.Is("Exp") {
			subs = append(subs, c)
		}
	}

	if len(subs) == 0 {
		if sym.Kind == sem.KindVar && sym.Const {
			return sym.ConstVal, true
		}

		return 0, false
	}

	if !sym.Const || len(subs) != 1 || len(sym.ArrayVals) == 0 {
		return 0, false
	}

	idx, ok := g.tryEvalConst(subs[0])
	if !ok || idx < 0 || idx >= int64(len(sym.ArrayVals)) {
		return 0, false
	}

	return sym.ArrayVals[idx], true
}

func (g *Generator) eqExp(ctx context.Context, n *ast.Node) (ir.Value, error) {
	if len(n.Children) == 1 {
		return g.relExp(ctx, n.Children[0])
	}

	lhs, err := g.eqExp(ctx, n.Children[0])
	if err != nil {
		return nil, err
	}

	rhs, err := g.relExp(ctx, n.Children[2])
	if err != nil {
		return nil, err
	}

	lhs, rhs = g.widen(lhs, rhs)

	cond := ir.EQ
	if n.Children[1].IsKind(token.NEQ) {
		cond = ir.NE
	}

	return g.b.ICmp(cond, lhs, rhs, "tmp_eq"), nil
}

func (g *Generator) relExp(ctx context.Context, n *ast.Node) (ir.Value, error) {
	if len(n.Children) == 1 {
		return g.addExp(ctx, n.Children[0])
	}

	lhs, err := g.relExp(ctx, n.Children[0])
	if err != nil {
		return nil, err
	}

	rhs, err := g.addExp(ctx, n.Children[2])
	if err != nil {
		return nil, err
	}

	lhs, rhs = g.widen(lhs, rhs)

	var cond ir.Cond

	switch n.Children[1].Tok.Kind {
	case token.LSS:
		cond = ir.SLT
	case token.GRE:
		cond = ir.SGT
	case token.LEQ:
		cond = ir.SLE
	default:
		cond = ir.SGE
	}

	return g.b.ICmp(cond, lhs, rhs, "tmp_rel"), nil
}

// widen zero-extends an i1 side when the other side is i32.
func (g *Generator) widen(lhs, rhs ir.Value) (ir.Value, ir.Value) {
	if ir.Equal(lhs.Type(), ir.I1) && ir.Equal(rhs.Type(), ir.I32) {
		lhs = g.b.Zext(lhs, ir.I32, "zext")
	} else if ir.Equal(lhs.Type(), ir.I32) && ir.Equal(rhs.Type(), ir.I1) {
		rhs = g.b.Zext(rhs, ir.I32, "zext")
	}

	return lhs, rhs
}
