// Package opt holds the IR pass manager and the passes applied between
// generation and code emission.
package opt

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/sy/compiler/ir"
)

type (
	Pass struct {
		Name string
		Run  func(ctx context.Context, m *ir.Module) error
	}

	// Manager applies passes in the order they were added.
	Manager struct {
		passes []Pass
	}
)

func New() *Manager {
	return &Manager{}
}

// Default is the standard pipeline: mem2reg only.
func Default() *Manager {
	m := New()
	m.Add(Mem2Reg())

	return m
}

func (m *Manager) Add(p Pass) {
	m.passes = append(m.passes, p)
}

func (m *Manager) Run(ctx context.Context, mod *ir.Module) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "opt: run passes", "passes", len(m.passes))
	defer tr.Finish("err", &err)

	for _, p := range m.passes {
		tr.V("pass").Printw("pass", "name", p.Name)

		if err = p.Run(ctx, mod); err != nil {
			return errors.Wrap(err, "pass %v", p.Name)
		}
	}

	return nil
}
