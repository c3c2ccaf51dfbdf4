package compiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/sy/compiler/errs"
	"github.com/slowlang/sy/compiler/irgen"
	"github.com/slowlang/sy/compiler/lexer"
	"github.com/slowlang/sy/compiler/mips"
	"github.com/slowlang/sy/compiler/opt"
	"github.com/slowlang/sy/compiler/parser"
	"github.com/slowlang/sy/compiler/sem"
)

type (
	// Stage is the terminal pipeline stage; outputs of all earlier
	// stages are produced too.
	Stage int

	Options struct {
		Stage Stage

		// Opt enables the default pass pipeline (mem2reg).
		Opt bool

		// DumpAll additionally emits mips_before.txt/mips_after.txt
		// when optimizing, for side-by-side comparison.
		DumpAll bool
	}

	// Result maps output file names to their contents. When user
	// errors were recorded it holds error.txt only.
	Result struct {
		Outputs map[string][]byte

		HadErrors bool
	}
)

const (
	StageLexer Stage = iota
	StageParser
	StageSymbol
	StageLlvm
	StageMips
)

func ParseStage(s string) (Stage, error) {
	switch s {
	case "lexer":
		return StageLexer, nil
	case "parser":
		return StageParser, nil
	case "symbol":
		return StageSymbol, nil
	case "llvm":
		return StageLlvm, nil
	case "mips":
		return StageMips, nil
	default:
		return 0, errors.New("unknown stage: %v", s)
	}
}

func CompileFile(ctx context.Context, name string, o Options) (*Result, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Compile(ctx, text, o)
}

// Compile runs the pipeline up to the configured stage. Phases record
// user errors and continue; when any are present at the gate only
// error.txt is produced.
func Compile(ctx context.Context, text []byte, o Options) (r *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "stage", o.Stage, "opt", o.Opt)
	defer tr.Finish("err", &err)

	text = bytes.TrimPrefix(text, []byte{0xef, 0xbb, 0xbf})

	e := errs.New()

	r = &Result{Outputs: map[string][]byte{}}

	toks := lexer.New(text, e).Tokens()

	if o.Stage == StageLexer {
		if r.gate(e) {
			return r, nil
		}

		r.Outputs["lexer.txt"] = lexer.Dump(nil, toks)

		return r, nil
	}

	root := parser.New(toks, e).Parse()

	if o.Stage == StageParser {
		if r.gate(e) {
			return r, nil
		}

		r.Outputs["lexer.txt"] = lexer.Dump(nil, toks)
		r.Outputs["parser.txt"] = root.Dump(nil)

		return r, nil
	}

	res := sem.New(e).Analyze(root)

	if r.gate(e) {
		return r, nil
	}

	r.Outputs["lexer.txt"] = lexer.Dump(nil, toks)
	r.Outputs["parser.txt"] = root.Dump(nil)
	r.Outputs["symbol.txt"] = res.Dump(nil)

	if o.Stage == StageSymbol {
		return r, nil
	}

	mod, err := irgen.New(res).Generate(ctx, root)
	if err != nil {
		return nil, errors.Wrap(err, "generate ir")
	}

	if o.Stage == StageLlvm {
		r.Outputs["llvm_ir.txt"] = mod.Dump(nil)

		return r, nil
	}

	back := mips.New()

	if !o.Opt {
		r.Outputs["llvm_ir.txt"] = mod.Dump(nil)

		asm, err := back.CompileModule(ctx, nil, mod)
		if err != nil {
			return nil, errors.Wrap(err, "compile mips")
		}

		r.Outputs["mips.txt"] = asm

		return r, nil
	}

	r.Outputs["llvm_ir_before.txt"] = mod.Dump(nil)

	if o.DumpAll {
		asm, err := back.CompileModule(ctx, nil, mod)
		if err != nil {
			return nil, errors.Wrap(err, "compile mips (before passes)")
		}

		r.Outputs["mips_before.txt"] = asm
	}

	if err = opt.Default().Run(ctx, mod); err != nil {
		return nil, errors.Wrap(err, "run passes")
	}

	r.Outputs["llvm_ir_after.txt"] = mod.Dump(nil)

	asm, err := back.CompileModule(ctx, nil, mod)
	if err != nil {
		return nil, errors.Wrap(err, "compile mips")
	}

	r.Outputs["mips.txt"] = asm

	if o.DumpAll {
		r.Outputs["mips_after.txt"] = asm
	}

	return r, nil
}

// gate replaces the outputs with error.txt when user errors are
// recorded.
func (r *Result) gate(e *errs.List) bool {
	if !e.HasErrors() {
		return false
	}

	r.HadErrors = true
	r.Outputs = map[string][]byte{"error.txt": e.Dump(nil)}

	return true
}

// WriteOutputs writes every produced file into dir ("" means cwd).
func (r *Result) WriteOutputs(dir string) error {
	for name, data := range r.Outputs {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return errors.Wrap(err, "write %v", name)
		}
	}

	return nil
}
