package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/sy/compiler"
)

func main() {
	stageFlags := []*cli.Flag{
		cli.NewFlag("stage", "mips", "stop after stage: lexer|parser|symbol|llvm|mips"),
		cli.NewFlag("opt", true, "run the default pass pipeline (mem2reg)"),
		cli.NewFlag("dump-all", false, "also dump mips before and after passes"),
		cli.NewFlag("out,o", "", "output directory"),
	}

	compileCmd := &cli.Command{
		Name:   "compile",
		Action: compileAct,
		Args:   cli.Args{},
		Flags:  stageFlags,
	}

	watchCmd := &cli.Command{
		Name:   "watch",
		Action: watchAct,
		Args:   cli.Args{},
		Flags:  stageFlags,
	}

	app := &cli.Command{
		Name:        "sy",
		Description: "sy compiles a small C dialect to MIPS assembly",
		Commands: []*cli.Command{
			compileCmd,
			watchCmd,
		},
		Flags: []*cli.Flag{
			cli.HelpFlag,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func options(c *cli.Command) (compiler.Options, error) {
	stage, err := compiler.ParseStage(c.String("stage"))
	if err != nil {
		return compiler.Options{}, err
	}

	return compiler.Options{
		Stage:   stage,
		Opt:     c.Bool("opt"),
		DumpAll: c.Bool("dump-all"),
	}, nil
}

func inputs(c *cli.Command) []string {
	if len(c.Args) == 0 {
		return []string{"testfile.txt"}
	}

	return c.Args
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	o, err := options(c)
	if err != nil {
		return err
	}

	for _, a := range inputs(c) {
		if err = compileOne(ctx, a, o, c.String("out")); err != nil {
			return errors.Wrap(err, "compile %v", a)
		}
	}

	return nil
}

func compileOne(ctx context.Context, name string, o compiler.Options, out string) error {
	r, err := compiler.CompileFile(ctx, name, o)
	if err != nil {
		return err
	}

	if err = r.WriteOutputs(out); err != nil {
		return err
	}

	if r.HadErrors {
		tlog.Printw("completed with recorded errors", "name", name)
	}

	return nil
}

// watchAct recompiles the inputs on every write to them.
func watchAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	o, err := options(c)
	if err != nil {
		return err
	}

	files := inputs(c)

	for _, a := range files {
		if err = compileOne(ctx, a, o, c.String("out")); err != nil {
			tlog.Printw("compile", "name", a, "err", err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "new watcher")
	}

	defer func() {
		e := w.Close()
		if err == nil {
			err = errors.Wrap(e, "close watcher")
		}
	}()

	watched := map[string]string{}

	for _, a := range files {
		// Watch the directory: editors often replace the file.
		dir := filepath.Dir(a)

		if err = w.Add(dir); err != nil {
			return errors.Wrap(err, "watch %v", dir)
		}

		watched[filepath.Clean(a)] = a
	}

	tlog.Printw("watching", "files", files)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			name, ok := watched[filepath.Clean(ev.Name)]
			if !ok || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			if err := compileOne(ctx, name, o, c.String("out")); err != nil {
				tlog.Printw("compile", "name", name, "err", err)
			} else {
				tlog.Printw("compiled", "name", name)
			}
		case e, ok := <-w.Errors:
			if !ok {
				return nil
			}

			return errors.Wrap(e, "watcher")
		}
	}
}
