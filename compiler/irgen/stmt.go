package irgen

import (
	"context"

	"tlog.app/go/errors"

	"github.com/slowlang/sy/compiler/ast"
	"github.com/slowlang/sy/compiler/ir"
	"github.com/slowlang/sy/compiler/token"
)

func (g *Generator) stmt(ctx context.Context, n *ast.Node) error {
	if len(n.Children) == 0 {
		return nil
	}

	first := n.Children[0]

	switch {
	case first.Is("LVal"):
		return g.assign(ctx, first, n.Children[2])
	case first.Is("Block"):
		return g.nestedBlock(ctx, first)
	case first.Is("Exp"):
		_, err := g.exp(ctx, first)
		return err
	case first.IsKind(token.RETURNTK):
		return g.ret(ctx, n)
	case first.IsKind(token.IFTK):
		return g.ifStmt(ctx, n)
	case first.IsKind(token.WHILETK):
		return g.whileStmt(ctx, n)
	case first.IsKind(token.FORTK):
		return g.forStmt(ctx, n)
	case first.IsKind(token.BREAKTK):
		if len(g.loops) != 0 {
			g.b.Jump(g.loops[len(g.loops)-1].next)
		}

		return nil
	case first.IsKind(token.CONTINUETK):
		if len(g.loops) != 0 {
			g.b.Jump(g.loops[len(g.loops)-1].step)
		}

		return nil
	case first.IsKind(token.PRINTFTK):
		return g.printf(ctx, n)
	default:
		return nil // empty statement
	}
}

func (g *Generator) assign(ctx context.Context, lv, exp *ast.Node) error {
	ptr, err := g.lval(ctx, lv, true)
	if err != nil {
		return err
	}

	val, err := g.exp(ctx, exp)
	if err != nil {
		return err
	}

	g.b.Store(val, ptr)

	return nil
}

func (g *Generator) ret(ctx context.Context, n *ast.Node) error {
	if len(n.Children) >= 2 && n.Children[1].Is("Exp") {
		val, err := g.exp(ctx, n.Children[1])
		if err != nil {
			return err
		}

		g.b.Ret(val)

		return nil
	}

	g.b.Ret(nil)

	return nil
}

func (g *Generator) ifStmt(ctx context.Context, n *ast.Node) error {
	trueB := g.b.NewBlock("if_true")
	falseB := g.b.NewBlock("if_false")
	nextB := g.b.NewBlock("if_next")

	if err := g.cond(ctx, n.Children[2], trueB, falseB); err != nil {
		return err
	}

	g.b.SetBlock(trueB)

	if err := g.stmt(ctx, n.Children[4]); err != nil {
		return err
	}

	if !g.b.B.Terminated() {
		g.b.Jump(nextB)
	}

	g.b.SetBlock(falseB)

	if len(n.Children) > 5 && n.Children[5].IsKind(token.ELSETK) {
		if err := g.stmt(ctx, n.Children[6]); err != nil {
			return err
		}
	}

	if !g.b.B.Terminated() {
		g.b.Jump(nextB)
	}

	g.b.SetBlock(nextB)

	return nil
}

func (g *Generator) whileStmt(ctx context.Context, n *ast.Node) error {
	condB := g.b.NewBlock("while_cond")
	bodyB := g.b.NewBlock("while_body")
	nextB := g.b.NewBlock("while_next")

	g.b.Jump(condB)

	g.b.SetBlock(condB)

	if err := g.cond(ctx, n.Children[2], bodyB, nextB); err != nil {
		return err
	}

	g.loops = append(g.loops, loopTargets{step: condB, next: nextB})

	g.b.SetBlock(bodyB)

	if err := g.stmt(ctx, n.Children[4]); err != nil {
		return err
	}

	if !g.b.B.Terminated() {
		g.b.Jump(condB)
	}

	g.loops = g.loops[:len(g.loops)-1]

	g.b.SetBlock(nextB)

	return nil
}

func (g *Generator) forStmt(ctx context.Context, n *ast.Node) error {
	// for ( [ForStmt] ; [Cond] ; [ForStmt] ) Stmt
	var init, cond, step, body *ast.Node

	i := 2

	if n.Children[i].Is("ForStmt") {
		init = n.Children[i]
		i++
	}

	i++ // ;

	if n.Children[i].Is("Cond") {
		cond = n.Children[i]
		i++
	}

	i++ // ;

	if n.Children[i].Is("ForStmt") {
		step = n.Children[i]
		i++
	}

	i++ // )

	body = n.Children[i]

	if init != nil {
		if err := g.forAssigns(ctx, init); err != nil {
			return err
		}
	}

	condB := g.b.NewBlock("for_cond")
	bodyB := g.b.NewBlock("for_body")
	stepB := g.b.NewBlock("for_step")
	nextB := g.b.NewBlock("for_next")

	g.b.Jump(condB)

	g.b.SetBlock(condB)

	if cond != nil {
		if err := g.cond(ctx, cond, bodyB, nextB); err != nil {
			return err
		}
	} else {
		g.b.Jump(bodyB)
	}

	g.loops = append(g.loops, loopTargets{step: stepB, next: nextB})

	g.b.SetBlock(bodyB)

	if err := g.stmt(ctx, body); err != nil {
		return err
	}

	if !g.b.B.Terminated() {
		g.b.Jump(stepB)
	}

	g.loops = g.loops[:len(g.loops)-1]

	g.b.SetBlock(stepB)

	if step != nil {
		if err := g.forAssigns(ctx, step); err != nil {
			return err
		}
	}

	g.b.Jump(condB)

	g.b.SetBlock(nextB)

	return nil
}

// forAssigns lowers `LVal = Exp {, LVal = Exp}`.
func (g *Generator) forAssigns(ctx context.Context, n *ast.Node) error {
	for i := 0; i < len(n.Children); i++ {
		if !n.Children[i].Is("LVal") {
			continue
		}

		if i+2 >= len(n.Children) || !n.Children[i+2].Is("Exp") {
			return errors.New("mis-shaped for assignment")
		}

		if err := g.assign(ctx, n.Children[i], n.Children[i+2]); err != nil {
			return err
		}

		i += 2
	}

	return nil
}

// printf expands the format string at generation time: each plain byte
// becomes putch, %d/%c consume an argument into putint/putch. Escape
// sequences map to their byte values; a stray % prints literally.
func (g *Generator) printf(ctx context.Context, n *ast.Node) error {
	format := ""

	var args []ir.Value

	for _, c := range n.Children {
		if c.IsKind(token.STRCON) {
			format = c.Tok.Text
		}

		if c.Is("Exp") {
			v, err := g.exp(ctx, c)
			if err != nil {
				return err
			}

			args = append(args, v)
		}
	}

	if len(format) >= 2 {
		format = format[1 : len(format)-1]
	}

	putch, putint, err := g.outFuncs()
	if err != nil {
		return err
	}

	putc := func(c int64) {
		g.b.Call(putch, []ir.Value{ir.Int32(c)}, "call")
	}

	arg := 0

	for i := 0; i < len(format); i++ {
		c := format[i]

		switch {
		case c == '%' && i+1 < len(format):
			switch format[i+1] {
			case 'd':
				if arg < len(args) {
					g.b.Call(putint, []ir.Value{args[arg]}, "call")
					arg++
				}

				i++
			case 'c':
				if arg < len(args) {
					g.b.Call(putch, []ir.Value{args[arg]}, "call")
					arg++
				}

				i++
			case '%':
				putc('%')
				i++
			default:
				putc('%')
			}
		case c == '\\' && i+1 < len(format):
			code := int64(format[i+1])

			switch format[i+1] {
			case 'n':
				code = 10
			case 't':
				code = 9
			case '"':
				code = 34
			case '\\':
				code = 92
			case '0':
				code = 0
			}

			putc(code)
			i++
		default:
			putc(int64(c))
		}
	}

	return nil
}

func (g *Generator) outFuncs() (putch, putint *ir.Func, err error) {
	pc := g.findSymbol("putch")
	pi := g.findSymbol("putint")

	if pc == nil || pc.IR == nil || pi == nil || pi.IR == nil {
		return nil, nil, errors.New("library output functions missing")
	}

	return pc.IR.(*ir.Func), pi.IR.(*ir.Func), nil
}

// cond lowers a condition with truth and falsehood target blocks.
func (g *Generator) cond(ctx context.Context, n *ast.Node, t, f *ir.Block) error {
	return g.lorExp(ctx, n.Children[0], t, f)
}

func (g *Generator) lorExp(ctx context.Context, n *ast.Node, t, f *ir.Block) error {
	if len(n.Children) == 1 {
		return g.landExp(ctx, n.Children[0], t, f)
	}

	next := g.b.NewBlock("or_next")

	if err := g.lorExp(ctx, n.Children[0], t, next); err != nil {
		return err
	}

	g.b.SetBlock(next)

	return g.landExp(ctx, n.Children[2], t, f)
}

func (g *Generator) landExp(ctx context.Context, n *ast.Node, t, f *ir.Block) error {
	if len(n.Children) == 1 {
		return g.condLeaf(ctx, n.Children[0], t, f)
	}

	next := g.b.NewBlock("and_next")

	if err := g.landExp(ctx, n.Children[0], next, f); err != nil {
		return err
	}

	g.b.SetBlock(next)

	return g.condLeaf(ctx, n.Children[2], t, f)
}

// condLeaf lowers an EqExp to an i1 and branches on it.
func (g *Generator) condLeaf(ctx context.Context, eq *ast.Node, t, f *ir.Block) error {
	val, err := g.eqExp(ctx, eq)
	if err != nil {
		return err
	}

	if ir.Equal(val.Type(), ir.I32) {
		val = g.b.ICmp(ir.NE, val, ir.Int32(0), "cond")
	}

	g.b.Br(val, t, f)

	return nil
}
