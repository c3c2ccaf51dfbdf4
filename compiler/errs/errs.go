// Package errs collects user-program errors across compiler stages.
//
// Each error is a (line, code) pair; codes follow the single-letter
// convention of the evaluation format. The list keeps the first error
// reported per source line and dumps in ascending line order.
package errs

import (
	"fmt"

	"nikand.dev/go/heap"
)

type (
	Code byte

	Error struct {
		Line int
		Code Code
	}

	// List is append-only during a run and read once at dump time.
	// It is threaded through stage constructors so tests can supply
	// an isolated collector.
	List struct {
		errs []Error
	}
)

const (
	IllegalSymbol    Code = 'a'
	Redefine         Code = 'b'
	Undefined        Code = 'c'
	ParamCount       Code = 'd'
	ParamKind        Code = 'e'
	ReturnInVoid     Code = 'f'
	MissingReturn    Code = 'g'
	AssignToConst    Code = 'h'
	MissingSemicolon Code = 'i'
	MissingRParen    Code = 'j'
	MissingRBrack    Code = 'k'
	PrintfMismatch   Code = 'l'
	BadBreakContinue Code = 'm'
)

func New() *List {
	return &List{}
}

func (l *List) Add(line int, code Code) {
	l.errs = append(l.errs, Error{Line: line, Code: code})
}

func (l *List) HasErrors() bool {
	return len(l.errs) != 0
}

func (l *List) Errors() []Error {
	return l.errs
}

// Dump renders the error file: one "line code" row per source line,
// ascending by line, keeping the first error reported for each line.
func (l *List) Dump(b []byte) []byte {
	seen := map[int]struct{}{}

	h := heap.Heap[Error]{Less: errLess}

	for _, e := range l.errs {
		if _, ok := seen[e.Line]; ok {
			continue
		}

		seen[e.Line] = struct{}{}

		h.Push(e)
	}

	for h.Len() != 0 {
		e := h.Pop()

		b = fmt.Appendf(b, "%d %c\n", e.Line, e.Code)
	}

	return b
}

func errLess(d []Error, i, j int) bool {
	return d[i].Line < d[j].Line
}
