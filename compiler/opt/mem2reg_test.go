package opt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/sy/compiler/errs"
	"github.com/slowlang/sy/compiler/ir"
	"github.com/slowlang/sy/compiler/irgen"
	"github.com/slowlang/sy/compiler/lexer"
	"github.com/slowlang/sy/compiler/parser"
	"github.com/slowlang/sy/compiler/sem"
)

func lower(t *testing.T, src string) *ir.Module {
	t.Helper()

	e := errs.New()
	toks := lexer.New([]byte(src), e).Tokens()
	root := parser.New(toks, e).Parse()
	res := sem.New(e).Analyze(root)

	require.False(t, e.HasErrors(), "unexpected user errors: %v", e.Errors())

	mod, err := irgen.New(res).Generate(context.Background(), root)
	require.NoError(t, err)

	return mod
}

func promote(t *testing.T, m *ir.Module) {
	t.Helper()

	require.NoError(t, Default().Run(context.Background(), m))
}

func fn(t *testing.T, m *ir.Module, name string) *ir.Func {
	t.Helper()

	for _, f := range m.Funcs {
		if f.Ident() == name {
			return f
		}
	}

	t.Fatalf("function %v not found", name)

	return nil
}

func countOps(f *ir.Func, op ir.Op) (n int) {
	for _, bb := range f.Blocks {
		for _, i := range bb.Instrs {
			if i.Op == op {
				n++
			}
		}
	}

	return n
}

func edges(f *ir.Func) map[[2]string]bool {
	m := map[[2]string]bool{}

	for _, bb := range f.Blocks {
		term := bb.Terminator()
		if term == nil {
			continue
		}

		for _, s := range term.Succs() {
			m[[2]string{bb.Label(), s.Label()}] = true
		}
	}

	return m
}

func TestPromotesStraightLine(t *testing.T) {
	m := lower(t, "int main(){ int a; a = 3; a = a + 4; return a; }")

	main := fn(t, m, "@main")

	require.Equal(t, 1, countOps(main, ir.Alloca))
	require.Equal(t, 2, countOps(main, ir.Store))
	require.Equal(t, 2, countOps(main, ir.Load))

	promote(t, m)

	assert.Equal(t, 0, countOps(main, ir.Alloca))
	assert.Equal(t, 0, countOps(main, ir.Store))
	assert.Equal(t, 0, countOps(main, ir.Load))

	// the final ret is fed by the add, which is fed by constants
	term := main.Blocks[0].Terminator()
	require.Equal(t, ir.Ret, term.Op)

	add, ok := term.Operand(0).(*ir.Instr)
	require.True(t, ok)
	require.Equal(t, ir.Add, add.Op)

	assert.Equal(t, int64(3), add.Operand(0).(*ir.ConstInt).V)
	assert.Equal(t, int64(4), add.Operand(1).(*ir.ConstInt).V)
}

func TestArraysStayInMemory(t *testing.T) {
	m := lower(t, "int main(){ int a[4]; a[0] = 1; return a[0]; }")

	main := fn(t, m, "@main")

	promote(t, m)

	assert.Equal(t, 1, countOps(main, ir.Alloca))
	assert.NotZero(t, countOps(main, ir.Store))
	assert.NotZero(t, countOps(main, ir.Load))
}

func TestPhiPlacementAtJoin(t *testing.T) {
	m := lower(t, `
int main() {
	int x;
	int c;
	c = getint();
	if (c) {
		x = 1;
	} else {
		x = 2;
	}
	return x;
}
`)

	main := fn(t, m, "@main")

	promote(t, m)

	phis := 0

	var phi *ir.Instr

	for _, bb := range main.Blocks {
		for _, i := range bb.Instrs {
			if i.Op == ir.Phi {
				phis++
				phi = i
			}
		}
	}

	require.Equal(t, 1, phis)

	// both predecessors contribute exactly once, with matching type
	require.Equal(t, 2, phi.NIncoming())
	assert.True(t, ir.Equal(phi.Type(), ir.I32))

	vals := map[int64]bool{}

	for k := 0; k < phi.NIncoming(); k++ {
		v, _ := phi.Incoming(k)
		vals[v.(*ir.ConstInt).V] = true
	}

	assert.True(t, vals[1])
	assert.True(t, vals[2])

	// φs lead their block
	assert.Equal(t, ir.Phi, phi.Blk.Instrs[0].Op)
}

func TestPhiPredecessorsMatch(t *testing.T) {
	m := lower(t, `
int main() {
	int i;
	int s;
	s = 0;
	i = 0;
	while (i < 10) {
		s = s + i;
		i = i + 1;
	}
	return s;
}
`)

	main := fn(t, m, "@main")

	promote(t, m)

	preds := map[*ir.Block][]*ir.Block{}

	for _, bb := range main.Blocks {
		term := bb.Terminator()
		if term == nil {
			continue
		}

		for _, s := range term.Succs() {
			preds[s] = append(preds[s], bb)
		}
	}

	for _, bb := range main.Blocks {
		for _, i := range bb.Instrs {
			if i.Op != ir.Phi {
				continue
			}

			require.Equal(t, len(preds[bb]), i.NIncoming(), "phi incoming count in %v", bb.Label())

			seen := map[*ir.Block]int{}

			for k := 0; k < i.NIncoming(); k++ {
				v, from := i.Incoming(k)
				seen[from]++

				assert.True(t, ir.Equal(v.Type(), i.Type()), "phi incoming type in %v", bb.Label())
			}

			for _, p := range preds[bb] {
				assert.Equal(t, 1, seen[p], "pred %v appears once", p.Label())
			}
		}
	}
}

func TestUninitializedReadBecomesZero(t *testing.T) {
	m := lower(t, "int main(){ int a; return a; }")

	main := fn(t, m, "@main")

	promote(t, m)

	term := main.Blocks[0].Terminator()
	require.Equal(t, ir.Ret, term.Op)

	c, ok := term.Operand(0).(*ir.ConstInt)
	require.True(t, ok)
	assert.Equal(t, int64(0), c.V)
}

func TestCFGPreserved(t *testing.T) {
	m := lower(t, `
int main() {
	int i;
	int s;
	s = 0;
	for (i = 0; i < 5; i = i + 1) {
		if (i == 2) {
			s = s + 10;
		} else {
			s = s + 1;
		}
	}
	return s;
}
`)

	main := fn(t, m, "@main")

	before := edges(main)

	promote(t, m)

	assert.Equal(t, before, edges(main))
}

func TestIdempotence(t *testing.T) {
	src := `
int main() {
	int x;
	int i;
	x = 0;
	for (i = 0; i < 3; i = i + 1) {
		if (i) {
			x = x + i;
		}
	}
	return x;
}
`

	m1 := lower(t, src)
	promote(t, m1)

	once := m1.Dump(nil)

	promote(t, m1)

	twice := m1.Dump(nil)

	assert.Equal(t, string(once), string(twice))
}

func TestUseGraphConsistent(t *testing.T) {
	m := lower(t, `
int main() {
	int a;
	int b;
	a = getint();
	b = a * 2;
	if (b > 4) {
		a = b;
	}
	return a + b;
}
`)

	promote(t, m)

	for _, f := range m.Funcs {
		live := map[*ir.Instr]bool{}

		for _, bb := range f.Blocks {
			for _, i := range bb.Instrs {
				live[i] = true
			}
		}

		for _, bb := range f.Blocks {
			for _, i := range bb.Instrs {
				for _, u := range ir.Uses(i) {
					assert.True(t, live[u.User], "use of %v by dead instruction", i.Ident())
				}
			}
		}
	}
}

func TestDeadTailTruncated(t *testing.T) {
	m := lower(t, `
int main() {
	int i;
	int s;
	s = 0;
	for (i = 0; i < 3; i = i + 1) {
		continue;
		s = s + 1;
	}
	return s;
}
`)

	main := fn(t, m, "@main")

	promote(t, m)

	for _, bb := range main.Blocks {
		for k, i := range bb.Instrs {
			if i.IsTerminator() {
				assert.Equal(t, len(bb.Instrs)-1, k, "terminator must be last in %v", bb.Label())
			}
		}
	}
}
