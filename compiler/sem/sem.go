// Package sem builds the scope tree and symbol table and records the
// semantic error codes (b..h, l, m). The IR generator consumes the
// resulting scopes through the per-Block node mapping.
package sem

import (
	"fmt"
	"strings"

	"github.com/slowlang/sy/compiler/ast"
	"github.com/slowlang/sy/compiler/errs"
	"github.com/slowlang/sy/compiler/ir"
	"github.com/slowlang/sy/compiler/token"
)

type (
	Kind int

	ParamKind int

	Symbol struct {
		Name   string
		Kind   Kind
		Const  bool
		Static bool
		Dims   []int

		// function only
		Params  []ParamKind
		RetVoid bool
		Builtin bool

		// filled by the IR generator
		ConstVal  int64
		ArrayVals []int64
		IR        ir.Value
	}

	Scope struct {
		ID       int
		Parent   *Scope
		Children []*Scope

		Syms  []*Symbol
		index map[string]*Symbol
	}

	// Result is the analyzer output: the scope tree plus the scope
	// assigned to every Block node (a function's Block shares the
	// scope holding its parameters).
	Result struct {
		Root    *Scope
		ScopeOf map[*ast.Node]*Scope

		scopes []*Scope
	}

	Analyzer struct {
		errs *errs.List

		res *Result
		cur *Scope

		loopDepth int
		retVoid   bool
	}
)

const (
	KindVar Kind = iota
	KindArray
	KindFunc
)

const (
	ParamInt ParamKind = iota
	ParamArray
)

func newScope(parent *Scope, id int) *Scope {
	return &Scope{
		ID:     id,
		Parent: parent,
		index:  map[string]*Symbol{},
	}
}

// Insert adds a symbol to the scope. It reports false on redefinition.
// Builtins may be shadowed by user definitions without an error.
func (s *Scope) Insert(sym *Symbol) bool {
	if old, ok := s.index[sym.Name]; ok && !old.Builtin {
		return false
	} else if ok {
		for i, x := range s.Syms {
			if x == old {
				s.Syms = append(s.Syms[:i], s.Syms[i+1:]...)
				break
			}
		}
	}

	s.index[sym.Name] = sym
	s.Syms = append(s.Syms, sym)

	return true
}

func (s *Scope) Local(name string) *Symbol {
	return s.index[name]
}

// Lookup resolves a name from this scope outward.
func (s *Scope) Lookup(name string) *Symbol {
	for sc := s; sc != nil; sc = sc.Parent {
		if sym := sc.index[name]; sym != nil {
			return sym
		}
	}

	return nil
}

func New(e *errs.List) *Analyzer {
	return &Analyzer{errs: e}
}

// Analyze walks the tree, builds scopes and records semantic errors.
func (a *Analyzer) Analyze(root *ast.Node) *Result {
	a.res = &Result{ScopeOf: map[*ast.Node]*Scope{}}

	a.cur = a.push()
	a.res.Root = a.cur

	a.declareBuiltins()

	for _, c := range root.Children {
		switch {
		case c.Is("Decl"):
			a.decl(c)
		case c.Is("FuncDef"):
			a.funcDef(c)
		case c.Is("MainFuncDef"):
			a.mainFuncDef(c)
		}
	}

	return a.res
}

func (a *Analyzer) push() *Scope {
	s := newScope(a.cur, len(a.res.scopes)+1)
	a.res.scopes = append(a.res.scopes, s)

	if a.cur != nil {
		a.cur.Children = append(a.cur.Children, s)
	}

	a.cur = s

	return s
}

func (a *Analyzer) pop() {
	a.cur = a.cur.Parent
}

func (a *Analyzer) declareBuiltins() {
	fn := func(name string, void bool, params ...ParamKind) {
		a.cur.Insert(&Symbol{Name: name, Kind: KindFunc, RetVoid: void, Params: params, Builtin: true})
	}

	fn("getint", false)
	fn("getch", false)
	fn("getarray", false, ParamArray)
	fn("putint", true, ParamInt)
	fn("putch", true, ParamInt)
	fn("putarray", true, ParamInt, ParamArray)
	fn("putstr", true, ParamArray)
	fn("starttime", true)
	fn("stoptime", true)
}

func (a *Analyzer) decl(n *ast.Node) {
	d := n.Children[0]

	if d.Is("ConstDecl") {
		a.constDecl(d)
	} else {
		a.varDecl(d)
	}
}

func (a *Analyzer) constDecl(n *ast.Node) {
	for _, c := range n.Children {
		if !c.Is("ConstDef") {
			continue
		}

		sym := &Symbol{Kind: KindVar, Const: true}
		a.def(c, sym)
	}
}

func (a *Analyzer) varDecl(n *ast.Node) {
	static := len(n.Children) != 0 && n.Children[0].IsKind(token.STATICTK)

	for _, c := range n.Children {
		if !c.Is("VarDef") {
			continue
		}

		sym := &Symbol{Kind: KindVar, Static: static}
		a.def(c, sym)
	}
}

// def registers a const/var definition and walks its dimensions and
// initializer expressions.
func (a *Analyzer) def(n *ast.Node, sym *Symbol) {
	if len(n.Children) == 0 || !n.Children[0].IsKind(token.IDENFR) {
		return // recovered parse, name missing
	}

	name := n.Children[0].Tok

	sym.Name = name.Text

	dims := 0

	for i, c := range n.Children {
		if c.IsKind(token.LBRACK) && i+1 < len(n.Children) && n.Children[i+1].Is("ConstExp") {
			dims++
		}

		if c.Is("ConstExp") || c.Is("InitVal") || c.Is("ConstInitVal") {
			a.expr(c)
		}
	}

	if dims > 0 {
		sym.Kind = KindArray
		sym.Dims = make([]int, dims)
	}

	if !a.cur.Insert(sym) {
		a.errs.Add(name.Line, errs.Redefine)
	}
}

func (a *Analyzer) funcDef(n *ast.Node) {
	var name token.Token

	for _, c := range n.Children {
		if c.IsKind(token.IDENFR) {
			name = c.Tok
			break
		}
	}

	void := n.Children[0].Children[0].IsKind(token.VOIDTK)

	sym := &Symbol{Name: name.Text, Kind: KindFunc, RetVoid: void}

	// Parameter kinds are part of the signature even when the body
	// scope fails to register a duplicate name.
	for _, c := range n.Children {
		if !c.Is("FuncFParams") {
			continue
		}

		for _, p := range c.Children {
			if !p.Is("FuncFParam") {
				continue
			}

			if paramIsArray(p) {
				sym.Params = append(sym.Params, ParamArray)
			} else {
				sym.Params = append(sym.Params, ParamInt)
			}
		}
	}

	if !a.cur.Insert(sym) {
		a.errs.Add(name.Line, errs.Redefine)
	}

	body := a.push()

	for _, c := range n.Children {
		if !c.Is("FuncFParams") {
			continue
		}

		for _, p := range c.Children {
			if p.Is("FuncFParam") {
				a.funcFParam(p)
			}
		}
	}

	a.retVoid = void

	for _, c := range n.Children {
		if c.Is("Block") {
			a.res.ScopeOf[c] = body
			a.blockItems(c)

			if !void {
				a.checkReturn(c)
			}
		}
	}

	a.pop()
}

func (a *Analyzer) mainFuncDef(n *ast.Node) {
	body := a.push()
	a.retVoid = false

	for _, c := range n.Children {
		if c.Is("Block") {
			a.res.ScopeOf[c] = body
			a.blockItems(c)
			a.checkReturn(c)
		}
	}

	a.pop()
}

func paramIsArray(p *ast.Node) bool {
	for _, c := range p.Children {
		if c.IsKind(token.LBRACK) {
			return true
		}
	}

	return false
}

func (a *Analyzer) funcFParam(p *ast.Node) {
	var name token.Token

	for _, c := range p.Children {
		if c.IsKind(token.IDENFR) {
			name = c.Tok
			break
		}

		if c.Is("ConstExp") {
			a.expr(c)
		}
	}

	sym := &Symbol{Name: name.Text, Kind: KindVar}

	if paramIsArray(p) {
		sym.Kind = KindArray
		sym.Dims = []int{0} // size unknown; decayed pointer
	}

	if !a.cur.Insert(sym) {
		a.errs.Add(name.Line, errs.Redefine)
	}
}

// checkReturn implements error g: a non-void function whose body does
// not end with `return <exp>;` is reported at the closing brace line.
func (a *Analyzer) checkReturn(block *ast.Node) {
	last, _ := block.LastToken()

	items := []*ast.Node{}

	for _, c := range block.Children {
		if c.Is("BlockItem") {
			items = append(items, c)
		}
	}

	if len(items) != 0 {
		s := items[len(items)-1].Children[0]

		if s.Is("Stmt") && len(s.Children) >= 2 && s.Children[0].IsKind(token.RETURNTK) && s.Children[1].Is("Exp") {
			return
		}
	}

	a.errs.Add(last.Line, errs.MissingReturn)
}

func (a *Analyzer) blockItems(block *ast.Node) {
	for _, c := range block.Children {
		if !c.Is("BlockItem") {
			continue
		}

		item := c.Children[0]

		if item.Is("Decl") {
			a.decl(item)
		} else {
			a.stmt(item)
		}
	}
}

func (a *Analyzer) stmt(n *ast.Node) {
	if len(n.Children) == 0 {
		return
	}

	first := n.Children[0]

	switch {
	case first.Is("LVal"):
		a.assign(first)
		a.expr(n.Children[2])
	case first.Is("Block"):
		a.push()
		a.res.ScopeOf[first] = a.cur
		a.blockItems(first)
		a.pop()
	case first.Is("Exp"):
		a.expr(first)
	case first.IsKind(token.IFTK):
		for _, c := range n.Children[1:] {
			if c.Is("Cond") {
				a.expr(c)
			} else if c.Is("Stmt") {
				a.stmt(c)
			}
		}
	case first.IsKind(token.WHILETK):
		for _, c := range n.Children[1:] {
			if c.Is("Cond") {
				a.expr(c)
			} else if c.Is("Stmt") {
				a.loopDepth++
				a.stmt(c)
				a.loopDepth--
			}
		}
	case first.IsKind(token.FORTK):
		for _, c := range n.Children[1:] {
			switch {
			case c.Is("ForStmt"):
				a.forStmt(c)
			case c.Is("Cond"):
				a.expr(c)
			case c.Is("Stmt"):
				a.loopDepth++
				a.stmt(c)
				a.loopDepth--
			}
		}
	case first.IsKind(token.BREAKTK), first.IsKind(token.CONTINUETK):
		if a.loopDepth == 0 {
			a.errs.Add(first.Tok.Line, errs.BadBreakContinue)
		}
	case first.IsKind(token.RETURNTK):
		if len(n.Children) >= 2 && n.Children[1].Is("Exp") {
			if a.retVoid {
				a.errs.Add(first.Tok.Line, errs.ReturnInVoid)
			}

			a.expr(n.Children[1])
		}
	case first.IsKind(token.PRINTFTK):
		a.printf(n)
	}
}

func (a *Analyzer) forStmt(n *ast.Node) {
	for i := 0; i < len(n.Children); i++ {
		c := n.Children[i]

		if c.Is("LVal") {
			a.assign(c)
		} else if c.Is("Exp") {
			a.expr(c)
		}
	}
}

// assign checks an LVal in store position: undefined name, const target.
func (a *Analyzer) assign(lv *ast.Node) {
	if len(lv.Children) == 0 || !lv.Children[0].IsKind(token.IDENFR) {
		return
	}

	name := lv.Children[0].Tok

	sym := a.cur.Lookup(name.Text)
	if sym == nil {
		a.errs.Add(name.Line, errs.Undefined)
		return
	}

	if sym.Const {
		a.errs.Add(name.Line, errs.AssignToConst)
	}

	for _, c := range lv.Children[1:] {
		if c.Is("Exp") {
			a.expr(c)
		}
	}
}

func (a *Analyzer) printf(n *ast.Node) {
	line := n.Children[0].Tok.Line

	format := ""
	args := 0

	for _, c := range n.Children {
		if c.IsKind(token.STRCON) {
			format = c.Tok.Text
		}

		if c.Is("Exp") {
			a.expr(c)
			args++
		}
	}

	want := strings.Count(format, "%d") + strings.Count(format, "%c")

	if want != args {
		a.errs.Add(line, errs.PrintfMismatch)
	}
}

// expr walks any expression subtree checking uses and calls.
func (a *Analyzer) expr(n *ast.Node) {
	if n.IsTok {
		return
	}

	if n.Is("LVal") {
		a.lvalUse(n)
		return
	}

	if n.Is("UnaryExp") && len(n.Children) != 0 && n.Children[0].IsKind(token.IDENFR) {
		a.call(n)
		return
	}

	for _, c := range n.Children {
		a.expr(c)
	}
}

func (a *Analyzer) lvalUse(lv *ast.Node) {
	if len(lv.Children) == 0 || !lv.Children[0].IsKind(token.IDENFR) {
		return
	}

	name := lv.Children[0].Tok

	if a.cur.Lookup(name.Text) == nil {
		a.errs.Add(name.Line, errs.Undefined)
	}

	for _, c := range lv.Children[1:] {
		if c.Is("Exp") {
			a.expr(c)
		}
	}
}

func (a *Analyzer) call(n *ast.Node) {
	name := n.Children[0].Tok

	sym := a.cur.Lookup(name.Text)
	if sym == nil || sym.Kind != KindFunc {
		if sym == nil {
			a.errs.Add(name.Line, errs.Undefined)
		}

		return
	}

	var args []*ast.Node

	for _, c := range n.Children {
		if !c.Is("FuncRParams") {
			continue
		}

		for _, e := range c.Children {
			if e.Is("Exp") {
				args = append(args, e)
			}
		}
	}

	for _, e := range args {
		a.expr(e)
	}

	if len(args) != len(sym.Params) {
		a.errs.Add(name.Line, errs.ParamCount)
		return
	}

	for i, e := range args {
		arr := a.argIsArray(e)

		if arr != (sym.Params[i] == ParamArray) {
			a.errs.Add(name.Line, errs.ParamKind)
			return
		}
	}
}

// argIsArray reports whether an argument expression evaluates to an
// array (a partially indexed array-kind LVal) rather than a scalar.
func (a *Analyzer) argIsArray(n *ast.Node) bool {
	for !n.IsTok {
		switch {
		case n.Is("LVal"):
			if len(n.Children) == 0 {
				return false
			}

			sym := a.cur.Lookup(n.Children[0].Tok.Text)
			if sym == nil || sym.Kind != KindArray {
				return false
			}

			subs := 0

			for _, c := range n.Children[1:] {
				if c.Is("Exp") {
					subs++
				}
			}

			return subs < len(sym.Dims)
		case n.Is("UnaryExp") && len(n.Children) != 0 && n.Children[0].IsKind(token.IDENFR):
			return false // call result is scalar
		case n.Is("PrimaryExp") && len(n.Children) != 0 && n.Children[0].IsKind(token.LPARENT):
			n = n.Children[1]
		case len(n.Children) == 1:
			n = n.Children[0]
		default:
			return false // operators yield scalars
		}
	}

	return false
}

// Dump renders symbol.txt: per scope in id order, "scope_id name tag".
// Builtins are not listed.
func (r *Result) Dump(b []byte) []byte {
	for _, sc := range r.scopes {
		for _, sym := range sc.Syms {
			if sym.Builtin {
				continue
			}

			b = fmt.Appendf(b, "%d %v %v\n", sc.ID, sym.Name, sym.Tag())
		}
	}

	return b
}

// Tag is the symbol.txt type tag.
func (s *Symbol) Tag() string {
	switch s.Kind {
	case KindFunc:
		if s.RetVoid {
			return "VoidFunc"
		}

		return "IntFunc"
	case KindArray:
		switch {
		case s.Const:
			return "ConstIntArray"
		case s.Static:
			return "StaticIntArray"
		default:
			return "IntArray"
		}
	default:
		switch {
		case s.Const:
			return "ConstInt"
		case s.Static:
			return "StaticInt"
		default:
			return "Int"
		}
	}
}
