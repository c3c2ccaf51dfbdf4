package irgen

import (
	"strconv"

	"github.com/slowlang/sy/compiler/ast"
	"github.com/slowlang/sy/compiler/sem"
	"github.com/slowlang/sy/compiler/token"
)

// evalConst folds a compile-time expression. Contexts that require a
// constant (array dimensions, const initializers, global initializers)
// get 0 for anything non-constant, matching the reference behavior.
func (g *Generator) evalConst(n *ast.Node) int64 {
	v, _ := g.tryEvalConst(n)

	return v
}

// tryEvalConst is the pure evaluator: it succeeds when every identifier
// involved resolves to a constant scalar or a known array element with
// an in-bounds index that itself folds to a constant.
func (g *Generator) tryEvalConst(n *ast.Node) (int64, bool) {
	if n == nil {
		return 0, false
	}

	switch {
	case n.Is("ConstExp"), n.Is("Exp"), n.Is("Cond"):
		return g.tryEvalConst(n.Children[0])
	case n.Is("AddExp"), n.Is("MulExp"):
		if len(n.Children) == 1 {
			return g.tryEvalConst(n.Children[0])
		}

		lhs, ok1 := g.tryEvalConst(n.Children[0])
		rhs, ok2 := g.tryEvalConst(n.Children[2])

		if !ok1 || !ok2 {
			return 0, false
		}

		switch n.Children[1].Tok.Kind {
		case token.PLUS:
			return lhs + rhs, true
		case token.MINU:
			return lhs - rhs, true
		case token.MULT:
			return lhs * rhs, true
		case token.DIV:
			if rhs == 0 {
				return 0, true
			}

			return lhs / rhs, true
		default: // %
			if rhs == 0 {
				return 0, true
			}

			return lhs % rhs, true
		}
	case n.Is("UnaryExp"):
		if n.Children[0].Is("PrimaryExp") {
			return g.tryEvalConst(n.Children[0])
		}

		if !n.Children[0].Is("UnaryOp") {
			return 0, false // call
		}

		v, ok := g.tryEvalConst(n.Children[1])
		if !ok {
			return 0, false
		}

		switch n.Children[0].Children[0].Tok.Kind {
		case token.PLUS:
			return v, true
		case token.MINU:
			return -v, true
		default: // !
			if v == 0 {
				return 1, true
			}

			return 0, true
		}
	case n.Is("PrimaryExp"):
		switch {
		case n.Children[0].Is("LVal"):
			return g.tryEvalConst(n.Children[0])
		case n.Children[0].Is("Number"):
			return g.tryEvalConst(n.Children[0])
		default: // ( Exp )
			return g.tryEvalConst(n.Children[1])
		}
	case n.Is("Number"):
		v, err := strconv.ParseInt(n.Children[0].Tok.Text, 10, 64)
		if err != nil {
			return 0, false
		}

		return v, true
	case n.Is("LVal"):
		return g.tryEvalLVal(n)
	default:
		return 0, false
	}
}

func (g *Generator) tryEvalLVal(n *ast.Node) (int64, bool) {
	sym := g.findSymbol(n.Children[0].Tok.Text)
	if sym == nil {
		return 0, false
	}

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

	// One-dimensional fold over the recorded flat element values.
	if len(subs) != 1 || len(sym.ArrayVals) == 0 {
		return 0, false
	}

	idx, ok := g.tryEvalConst(subs[0])
	if !ok || idx < 0 || idx >= int64(len(sym.ArrayVals)) {
		return 0, false
	}

	return sym.ArrayVals[idx], true
}
