package mips

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/sy/compiler/errs"
	"github.com/slowlang/sy/compiler/ir"
	"github.com/slowlang/sy/compiler/irgen"
	"github.com/slowlang/sy/compiler/lexer"
	"github.com/slowlang/sy/compiler/opt"
	"github.com/slowlang/sy/compiler/parser"
	"github.com/slowlang/sy/compiler/sem"
)

func compile(t *testing.T, src string, optimize bool) string {
	t.Helper()

	e := errs.New()
	toks := lexer.New([]byte(src), e).Tokens()
	root := parser.New(toks, e).Parse()
	res := sem.New(e).Analyze(root)

	require.False(t, e.HasErrors(), "unexpected user errors: %v", e.Errors())

	ctx := context.Background()

	mod, err := irgen.New(res).Generate(ctx, root)
	require.NoError(t, err)

	if optimize {
		require.NoError(t, opt.Default().Run(ctx, mod))
	}

	asm, err := New().CompileModule(ctx, nil, mod)
	require.NoError(t, err)

	return string(asm)
}

func TestEmptyMain(t *testing.T) {
	asm := compile(t, "int main(){return 0;}", true)

	assert.Contains(t, asm, ".data\n")
	assert.Contains(t, asm, ".text\n")
	assert.Contains(t, asm, "jal _main\n")
	assert.Contains(t, asm, "li $v0, 10\nsyscall\n")
	assert.Contains(t, asm, "_main:\n")

	// epilogue
	assert.Contains(t, asm, "move $sp, $fp")
	assert.Contains(t, asm, "lw $ra, -4($sp)")
	assert.Contains(t, asm, "lw $fp, -8($sp)")
	assert.Contains(t, asm, "jr $ra")
}

func TestGlobals(t *testing.T) {
	asm := compile(t, `
int g = 7;
const int c[2] = {1, 2};
int z[3];
int main(){ return g + c[1] + z[0]; }
`, true)

	assert.Contains(t, asm, "_g: .word 7\n")
	assert.Contains(t, asm, "_c:\n    .word 1\n    .word 2\n")
	assert.Contains(t, asm, "_z: .space 12\n")
	assert.Contains(t, asm, "la $t0, _g")
}

func TestFramePrologue(t *testing.T) {
	asm := compile(t, "int f(int a, int b){ return a + b; }\nint main(){ return f(1, 2); }", false)

	require.Contains(t, asm, "_f:\n")

	body := asm[strings.Index(asm, "_f:"):]

	assert.Contains(t, body, "sw $ra, -4($sp)")
	assert.Contains(t, body, "sw $fp, -8($sp)")
	assert.Contains(t, body, "move $fp, $sp")

	// first args spill below the saved registers
	assert.Contains(t, body, "sw $a0, -12($fp)")
	assert.Contains(t, body, "sw $a1, -16($fp)")
}

func TestManyArgsGoThroughStack(t *testing.T) {
	asm := compile(t, `
int f(int a, int b, int c, int d, int e, int g) { return a + g; }
int main(){ return f(1, 2, 3, 4, 5, 6); }
`, false)

	// caller pushes args beyond four
	assert.Contains(t, asm, "addiu $sp, $sp, -8")
	assert.Contains(t, asm, "sw $t0, 0($sp)")
	assert.Contains(t, asm, "sw $t0, 4($sp)")
	assert.Contains(t, asm, "move $a0, $t0")
	assert.Contains(t, asm, "move $a3, $t0")

	// callee reads the sixth argument at its non-negative offset
	body := asm[strings.Index(asm, "_f:"):]
	assert.Contains(t, body, "lw $t1, 4($fp)")
}

func TestSyscallInlining(t *testing.T) {
	asm := compile(t, `int main(){ int x; x = getint(); putint(x); putch(10); return 0; }`, true)

	assert.Contains(t, asm, "li $v0, 5")
	assert.Contains(t, asm, "li $v0, 1")
	assert.Contains(t, asm, "li $v0, 11")
	assert.NotContains(t, asm, "jal getint")
	assert.NotContains(t, asm, "jal putint")
}

func TestOtherBuiltinsAreCalls(t *testing.T) {
	asm := compile(t, "int a[4]; int main(){ putarray(4, a); return getarray(a); }", true)

	assert.Contains(t, asm, "jal putarray")
	assert.Contains(t, asm, "jal getarray")
}

func TestDivRem(t *testing.T) {
	asm := compile(t, "int main(){ int a; a = getint(); return a / 3 + a % 3; }", true)

	assert.Contains(t, asm, "div $t0, $t1")
	assert.Contains(t, asm, "mflo $t2")
	assert.Contains(t, asm, "mfhi $t2")
}

func TestICmpSelections(t *testing.T) {
	asm := compile(t, `
int main() {
	int a;
	int s;
	a = getint();
	s = 0;
	if (a == 1) { s = s + 1; }
	if (a != 2) { s = s + 1; }
	if (a < 3) { s = s + 1; }
	if (a <= 4) { s = s + 1; }
	if (a > 5) { s = s + 1; }
	if (a >= 6) { s = s + 1; }
	return s;
}
`, false)

	assert.Contains(t, asm, "sltiu $t2, $t2, 1")
	assert.Contains(t, asm, "sltu $t2, $zero, $t2")
	assert.Contains(t, asm, "slt $t2, $t0, $t1")
	assert.Contains(t, asm, "slt $t2, $t1, $t0")
	assert.Contains(t, asm, "xori $t2, $t2, 1")
}

func TestBranchesGoThroughEdgeBlocks(t *testing.T) {
	asm := compile(t, "int main(){ int x; x = getint(); if (x) { x = 1; } return x; }", false)

	assert.Contains(t, asm, "bne $t0, $zero, ")
	assert.Contains(t, asm, "_phi_edge_")
}

func TestPhiEdgeCopies(t *testing.T) {
	src := `
int main() {
	int x;
	if (getint()) {
		x = 1;
	} else {
		x = 2;
	}
	return x;
}
`

	asm := compile(t, src, true)

	// both edges into the join copy their incoming constant into the
	// phi slot through $t0
	assert.GreaterOrEqual(t, strings.Count(asm, "_phi_edge_"), 2)
	assert.Contains(t, asm, "li $t0, 1")
	assert.Contains(t, asm, "li $t0, 2")
}

func TestGepScalesIndices(t *testing.T) {
	asm := compile(t, "int a[2][3];\nint main(){ return a[1][2]; }", true)

	// row stride 12, element stride 4
	assert.Contains(t, asm, "li $t2, 12")
	assert.Contains(t, asm, "li $t2, 4")
	assert.Contains(t, asm, "mul $t1, $t1, $t2")
	assert.Contains(t, asm, "addu $t0, $t0, $t1")
}

func TestTruncMasksToBit(t *testing.T) {
	m := &ir.Module{}

	f := ir.NewFunc(ir.I32, nil, "@f", false)
	m.AddFunc(f)

	b := ir.NewBuilder(m)
	b.SetFunc(f)
	b.SetBlock(b.NewBlock("entry"))

	tr := b.Trunc(ir.Int32(3), ir.I1, "t")
	z := b.Zext(tr, ir.I32, "z")
	b.Ret(z)

	asm, err := New().CompileModule(context.Background(), nil, m)
	require.NoError(t, err)

	assert.Contains(t, string(asm), "andi $t0, $t0, 1")
}

func TestStaticLocalLabelKeepsMangledName(t *testing.T) {
	asm := compile(t, "int f(){ static int v = 1; v = v + 1; return v; }\nint main(){ return f(); }", true)

	assert.Contains(t, asm, "_f.v_")
}

func TestFrameSizeAligned(t *testing.T) {
	asm := compile(t, "int main(){ int a; a = 1; return a; }", false)

	body := asm[strings.Index(asm, "_main:"):]

	at := strings.Index(body, "addiu $sp, $sp, -")
	require.GreaterOrEqual(t, at, 0)

	rest := body[at+len("addiu $sp, $sp, -"):]
	num := rest[:strings.IndexByte(rest, '\n')]

	n := 0
	for _, c := range num {
		n = n*10 + int(c-'0')
	}

	assert.Zero(t, n%8, "frame size must be 8-byte aligned: %d", n)
}
