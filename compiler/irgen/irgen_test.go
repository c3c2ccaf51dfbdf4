package irgen

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/sy/compiler/errs"
	"github.com/slowlang/sy/compiler/ir"
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

	mod, err := New(res).Generate(context.Background(), root)
	require.NoError(t, err)

	return mod
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

func TestLibraryDeclarations(t *testing.T) {
	m := lower(t, "int main(){return 0;}")

	for _, name := range []string{"@getint", "@getch", "@getarray", "@putint", "@putch", "@putarray", "@putstr", "@starttime", "@stoptime"} {
		f := fn(t, m, name)
		assert.True(t, f.Builtin, name)
	}
}

func TestEmptyMain(t *testing.T) {
	m := lower(t, "int main(){return 0;}")

	f := fn(t, m, "@main")
	require.Len(t, f.Blocks, 1)

	term := f.Blocks[0].Terminator()
	require.NotNil(t, term)
	assert.Equal(t, ir.Ret, term.Op)
	assert.Equal(t, int64(0), term.Operand(0).(*ir.ConstInt).V)
}

func TestImplicitReturn(t *testing.T) {
	m := lower(t, "void f(){}\nint main(){f(); return 0;}")

	f := fn(t, m, "@f")

	term := f.Blocks[len(f.Blocks)-1].Terminator()
	require.NotNil(t, term)
	assert.Equal(t, ir.Ret, term.Op)
	assert.Equal(t, 0, term.NOperands())
}

func TestScalarLowering(t *testing.T) {
	m := lower(t, "int main(){ int a; a = 3; a = a + 4; return a; }")

	f := fn(t, m, "@main")

	assert.Equal(t, 1, countOps(f, ir.Alloca))
	assert.Equal(t, 2, countOps(f, ir.Store))
	assert.Equal(t, 2, countOps(f, ir.Load))
	assert.Equal(t, 1, countOps(f, ir.Add))
}

func TestGlobalFolding(t *testing.T) {
	m := lower(t, `
const int N = 10;
int a[N];
int g = N * 2 + 1;
int main(){ return 0; }
`)

	var arr, g *ir.Global

	for _, gv := range m.Globals {
		switch gv.Ident() {
		case "@a":
			arr = gv
		case "@g":
			g = gv
		}
	}

	require.NotNil(t, arr)
	require.NotNil(t, g)

	at, ok := ir.Pointee(arr.Type()).(*ir.Array)
	require.True(t, ok)
	assert.Equal(t, 10, at.N)
	assert.Nil(t, arr.Init)

	assert.Equal(t, int64(21), g.Init.(*ir.ConstInt).V)
}

func TestGlobalArrayInitReshape(t *testing.T) {
	m := lower(t, "int a[2][2] = {{1, 2}, {3}};\nint main(){ return 0; }")

	var arr *ir.Global

	for _, gv := range m.Globals {
		if gv.Ident() == "@a" {
			arr = gv
		}
	}

	require.NotNil(t, arr)

	outer := arr.Init.(*ir.ConstArray)
	require.Len(t, outer.Elems, 2)

	row0 := outer.Elems[0].(*ir.ConstArray)
	row1 := outer.Elems[1].(*ir.ConstArray)

	assert.Equal(t, int64(1), row0.Elems[0].(*ir.ConstInt).V)
	assert.Equal(t, int64(2), row0.Elems[1].(*ir.ConstInt).V)
	assert.Equal(t, int64(3), row1.Elems[0].(*ir.ConstInt).V)
	assert.Equal(t, int64(0), row1.Elems[1].(*ir.ConstInt).V)
}

func TestStaticLocalLiftsToGlobal(t *testing.T) {
	m := lower(t, "int f(){ static int c = 5; c = c + 1; return c; }\nint main(){ return f(); }")

	var found *ir.Global

	for _, gv := range m.Globals {
		if strings.HasPrefix(gv.Ident(), "@f.c") {
			found = gv
		}
	}

	require.NotNil(t, found)
	assert.Equal(t, int64(5), found.Init.(*ir.ConstInt).V)

	// static locals are not stack slots
	assert.Equal(t, 0, countOps(fn(t, m, "@f"), ir.Alloca))
}

func TestLocalArrayInit(t *testing.T) {
	m := lower(t, "int main(){ int a[3] = {7, 8}; return a[0]; }")

	f := fn(t, m, "@main")

	// one slot, one gep+store per declared element
	assert.Equal(t, 1, countOps(f, ir.Alloca))
	assert.Equal(t, 3, countOps(f, ir.Store))
	assert.GreaterOrEqual(t, countOps(f, ir.Gep), 4)
}

func TestArrayDecayOnCall(t *testing.T) {
	m := lower(t, `
int f(int v[]) { return v[0]; }
int a[4];
int main() { return f(a); }
`)

	main := fn(t, m, "@main")

	// the argument is a pointer to a[0], not a loaded element
	require.Equal(t, 1, countOps(main, ir.Gep))
	assert.Equal(t, 0, countOps(main, ir.Load))

	var call *ir.Instr

	for _, bb := range main.Blocks {
		for _, i := range bb.Instrs {
			if i.Op == ir.Call {
				call = i
			}
		}
	}

	require.NotNil(t, call)

	arg := call.Operand(1)
	assert.True(t, ir.Equal(arg.Type(), ir.PtrTo(ir.I32)))
}

func TestArrayParamAccessLoadsBase(t *testing.T) {
	m := lower(t, "int f(int v[]) { return v[2]; }\nint main(){ int a[4]; return f(a); }")

	f := fn(t, m, "@f")

	// slot holds i32*; reading v[2] loads the base pointer first,
	// then geps, then loads the element
	assert.Equal(t, 1, countOps(f, ir.Alloca))
	assert.Equal(t, 2, countOps(f, ir.Load))
	assert.Equal(t, 1, countOps(f, ir.Gep))
}

func TestShortCircuitOr(t *testing.T) {
	m := lower(t, `
int a() { return 1; }
int b() { return 1; }
int main() {
	if (a() || b()) {
		return 1;
	}
	return 0;
}
`)

	main := fn(t, m, "@main")

	// a() sits in a block that branches to (true, or_next); b() is
	// only reachable through or_next.
	var callA *ir.Instr

	for _, bb := range main.Blocks {
		for _, i := range bb.Instrs {
			if i.Op == ir.Call && i.Callee().Ident() == "@a" {
				callA = i
			}
		}
	}

	require.NotNil(t, callA)

	term := callA.Blk.Terminator()
	require.NotNil(t, term)
	require.Equal(t, ir.Br, term.Op)

	succs := term.Succs()

	var orNext *ir.Block

	for _, s := range succs {
		if strings.HasPrefix(s.Label(), "or_next") {
			orNext = s
		}
	}

	require.NotNil(t, orNext, "false edge of a() must lead to the or_next block")

	found := false

	for _, i := range orNext.Instrs {
		if i.Op == ir.Call && i.Callee().Ident() == "@b" {
			found = true
		}
	}

	assert.True(t, found, "b() must be confined to the or_next block")
}

func TestCondComparisonToZero(t *testing.T) {
	m := lower(t, "int main(){ int x; x = 3; while (x) { x = x - 1; } return x; }")

	main := fn(t, m, "@main")

	assert.Equal(t, 1, countOps(main, ir.ICmp))
	assert.Equal(t, 1, countOps(main, ir.Br))
}

func TestNotLowering(t *testing.T) {
	m := lower(t, "int main(){ int x; x = 5; return !x; }")

	main := fn(t, m, "@main")

	assert.Equal(t, 1, countOps(main, ir.ICmp))
	assert.Equal(t, 1, countOps(main, ir.Zext))
}

func TestPrintfExpansion(t *testing.T) {
	m := lower(t, `int main(){ printf("x=%d!\n", 42); return 0; }`)

	main := fn(t, m, "@main")

	var putch, putint int

	for _, bb := range main.Blocks {
		for _, i := range bb.Instrs {
			if i.Op != ir.Call {
				continue
			}

			switch i.Callee().Ident() {
			case "@putch":
				putch++
			case "@putint":
				putint++
			}
		}
	}

	// 'x', '=', '!', '\n' via putch; 42 via putint
	assert.Equal(t, 4, putch)
	assert.Equal(t, 1, putint)
}

func TestConstArrayElementFolds(t *testing.T) {
	m := lower(t, `
const int tab[3] = {10, 20, 30};
int main(){ int a[tab[1]]; return tab[2]; }
`)

	main := fn(t, m, "@main")

	// dimension folded to 20
	var slot *ir.Instr

	for _, bb := range main.Blocks {
		for _, i := range bb.Instrs {
			if i.Op == ir.Alloca {
				slot = i
			}
		}
	}

	require.NotNil(t, slot)

	at, ok := slot.Allocated().(*ir.Array)
	require.True(t, ok)
	assert.Equal(t, 20, at.N)

	// the return folded to a constant
	term := main.Blocks[len(main.Blocks)-1].Terminator()
	require.Equal(t, ir.Ret, term.Op)
	assert.Equal(t, int64(30), term.Operand(0).(*ir.ConstInt).V)
}

func TestForLoopBlocks(t *testing.T) {
	m := lower(t, "int main(){ int i; int s; s = 0; for (i = 0; i < 4; i = i + 1) { s = s + i; } return s; }")

	main := fn(t, m, "@main")

	labels := map[string]bool{}

	for _, bb := range main.Blocks {
		switch {
		case strings.HasPrefix(bb.Label(), "for_cond"):
			labels["cond"] = true
		case strings.HasPrefix(bb.Label(), "for_body"):
			labels["body"] = true
		case strings.HasPrefix(bb.Label(), "for_step"):
			labels["step"] = true
		case strings.HasPrefix(bb.Label(), "for_next"):
			labels["next"] = true
		}
	}

	assert.Len(t, labels, 4)
}

func TestBreakContinueTargets(t *testing.T) {
	m := lower(t, `
int main() {
	int i;
	int s;
	s = 0;
	for (i = 0; i < 10; i = i + 1) {
		if (i == 3) {
			continue;
		}
		if (i == 5) {
			break;
		}
		s = s + 1;
	}
	return s;
}
`)

	main := fn(t, m, "@main")

	var step, next *ir.Block

	for _, bb := range main.Blocks {
		if strings.HasPrefix(bb.Label(), "for_step") {
			step = bb
		}

		if strings.HasPrefix(bb.Label(), "for_next") {
			next = bb
		}
	}

	require.NotNil(t, step)
	require.NotNil(t, next)

	jumpsTo := func(target *ir.Block) (n int) {
		for _, bb := range main.Blocks {
			term := bb.Terminator()
			if term == nil || term.Op != ir.Jump {
				continue
			}

			if term.Operand(0) == ir.Value(target) {
				n++
			}
		}

		return n
	}

	// continue jumps to step (plus the body fall-through), break to next
	assert.GreaterOrEqual(t, jumpsTo(step), 2)
	assert.GreaterOrEqual(t, jumpsTo(next), 1)
}
