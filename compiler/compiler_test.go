package compiler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, src string, o Options) *Result {
	t.Helper()

	r, err := Compile(context.Background(), []byte(src), o)
	require.NoError(t, err)

	return r
}

func TestEmptyMainEndToEnd(t *testing.T) {
	r := run(t, "int main(){return 0;}", Options{Stage: StageMips, Opt: true})

	require.False(t, r.HadErrors)

	_, hasErr := r.Outputs["error.txt"]
	assert.False(t, hasErr)

	asm := string(r.Outputs["mips.txt"])
	assert.Contains(t, asm, "_main:")
	assert.Contains(t, asm, "jr $ra")

	assert.Contains(t, r.Outputs, "lexer.txt")
	assert.Contains(t, r.Outputs, "parser.txt")
	assert.Contains(t, r.Outputs, "symbol.txt")
	assert.Contains(t, r.Outputs, "llvm_ir_before.txt")
	assert.Contains(t, r.Outputs, "llvm_ir_after.txt")
}

func TestIllegalSymbolScenario(t *testing.T) {
	r := run(t, "int main(){int a; a = 1 & 2; return 0;}", Options{Stage: StageMips, Opt: true})

	require.True(t, r.HadErrors)
	require.Len(t, r.Outputs, 1)

	assert.Equal(t, "1 a\n", string(r.Outputs["error.txt"]))
}

func TestRedefinitionScenario(t *testing.T) {
	r := run(t, "int main(){int x;\nint x;\nreturn 0;}", Options{Stage: StageMips, Opt: true})

	require.True(t, r.HadErrors)
	assert.Equal(t, "2 b\n", string(r.Outputs["error.txt"]))
}

func TestMissingReturnScenario(t *testing.T) {
	r := run(t, "int f(){\n}\nint main(){return 0;}", Options{Stage: StageMips, Opt: true})

	require.True(t, r.HadErrors)
	assert.Equal(t, "2 g\n", string(r.Outputs["error.txt"]))
}

func TestPrintfMismatchScenario(t *testing.T) {
	r := run(t, "int main(){\nprintf(\"%d %d\\n\", 1);\nreturn 0;}", Options{Stage: StageMips, Opt: true})

	require.True(t, r.HadErrors)
	assert.Equal(t, "2 l\n", string(r.Outputs["error.txt"]))
}

func TestErrorFileOrdering(t *testing.T) {
	src := `int main(){
break;
int x;
int x;
c = 1;
return 0;
}`

	r := run(t, src, Options{Stage: StageMips, Opt: true})

	require.True(t, r.HadErrors)

	lines := strings.Split(strings.TrimRight(string(r.Outputs["error.txt"]), "\n"), "\n")

	last := 0

	for _, l := range lines {
		parts := strings.Fields(l)
		require.Len(t, parts, 2)

		n := 0
		for _, c := range parts[0] {
			n = n*10 + int(c-'0')
		}

		assert.Greater(t, n, last, "lines strictly ascending")
		last = n

		require.Len(t, parts[1], 1)
		assert.GreaterOrEqual(t, parts[1][0], byte('a'))
		assert.LessOrEqual(t, parts[1][0], byte('m'))
	}
}

func TestMem2RegScenario(t *testing.T) {
	r := run(t, "int main(){ int a; a = 3; a = a + 4; return a; }", Options{Stage: StageMips, Opt: true})

	require.False(t, r.HadErrors)

	before := string(r.Outputs["llvm_ir_before.txt"])
	after := string(r.Outputs["llvm_ir_after.txt"])

	assert.Contains(t, before, "alloca")
	assert.Contains(t, before, "store")
	assert.Contains(t, before, "load")

	assert.NotContains(t, after, "alloca")
	assert.NotContains(t, after, "store")
	assert.NotContains(t, after, "load")
	assert.Contains(t, after, "add i32 3, 4")
}

func TestStageGating(t *testing.T) {
	src := "int main(){return 0;}"

	r := run(t, src, Options{Stage: StageLexer})
	assert.Equal(t, []string{"lexer.txt"}, keys(r))

	r = run(t, src, Options{Stage: StageParser})
	assert.ElementsMatch(t, []string{"lexer.txt", "parser.txt"}, keys(r))

	r = run(t, src, Options{Stage: StageSymbol})
	assert.ElementsMatch(t, []string{"lexer.txt", "parser.txt", "symbol.txt"}, keys(r))

	r = run(t, src, Options{Stage: StageLlvm})
	assert.ElementsMatch(t, []string{"lexer.txt", "parser.txt", "symbol.txt", "llvm_ir.txt"}, keys(r))

	r = run(t, src, Options{Stage: StageMips, Opt: false})
	assert.ElementsMatch(t, []string{"lexer.txt", "parser.txt", "symbol.txt", "llvm_ir.txt", "mips.txt"}, keys(r))

	r = run(t, src, Options{Stage: StageMips, Opt: true, DumpAll: true})
	assert.ElementsMatch(t, []string{
		"lexer.txt", "parser.txt", "symbol.txt",
		"llvm_ir_before.txt", "llvm_ir_after.txt",
		"mips_before.txt", "mips_after.txt", "mips.txt",
	}, keys(r))
}

func TestSemanticsPreservedShape(t *testing.T) {
	// mem2reg must not change the program's call/branch structure
	src := `
int main() {
	int i;
	int s;
	s = 0;
	for (i = 0; i < 5; i = i + 1) {
		s = s + i;
	}
	printf("%d\n", s);
	return 0;
}
`

	plain := run(t, src, Options{Stage: StageMips, Opt: false})
	opt := run(t, src, Options{Stage: StageMips, Opt: true})

	for _, mnem := range []string{"syscall", "jal", "bne"} {
		assert.Equal(t,
			strings.Count(string(plain.Outputs["mips.txt"]), mnem),
			strings.Count(string(opt.Outputs["mips.txt"]), mnem),
			mnem)
	}
}

func TestBOMStripped(t *testing.T) {
	r := run(t, "\xef\xbb\xbfint main(){return 0;}", Options{Stage: StageLexer})

	require.False(t, r.HadErrors)
	assert.True(t, strings.HasPrefix(string(r.Outputs["lexer.txt"]), "INTTK int\n"))
}

func keys(r *Result) []string {
	var ks []string

	for k := range r.Outputs {
		ks = append(ks, k)
	}

	return ks
}
