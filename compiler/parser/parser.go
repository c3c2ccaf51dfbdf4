// Package parser builds the concrete syntax tree by recursive descent.
//
// Recovery is local: a missing ';', ')' or ']' records the matching
// error code at the previous token's line and parsing continues as if
// the token had been present (without inventing a leaf).
package parser

import (
	"github.com/slowlang/sy/compiler/ast"
	"github.com/slowlang/sy/compiler/errs"
	"github.com/slowlang/sy/compiler/token"
)

type (
	Parser struct {
		toks []token.Token
		pos  int

		errs *errs.List
	}
)

func New(toks []token.Token, e *errs.List) *Parser {
	return &Parser{toks: toks, errs: e}
}

func (p *Parser) Parse() *ast.Node {
	return p.compUnit()
}

func (p *Parser) cur() token.Token {
	if p.pos >= len(p.toks) {
		return token.Token{Kind: token.EOF, Text: "EOF", Line: p.prevLine()}
	}

	return p.toks[p.pos]
}

func (p *Parser) peek(k int) token.Token {
	if p.pos+k >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}

	return p.toks[p.pos+k]
}

func (p *Parser) at(k token.Kind) bool {
	return p.cur().Kind == k
}

func (p *Parser) next() token.Token {
	t := p.cur()

	if p.pos < len(p.toks) {
		p.pos++
	}

	return t
}

func (p *Parser) prevLine() int {
	if p.pos == 0 {
		return 1
	}

	return p.toks[p.pos-1].Line
}

// take consumes the expected token into n. Missing ; ) ] record their
// error codes; other missing tokens are skipped silently (the stream is
// already broken beyond local repair there).
func (p *Parser) take(n *ast.Node, k token.Kind) {
	if p.at(k) {
		n.AddTok(p.next())
		return
	}

	switch k {
	case token.SEMICN:
		p.errs.Add(p.prevLine(), errs.MissingSemicolon)
	case token.RPARENT:
		p.errs.Add(p.prevLine(), errs.MissingRParen)
	case token.RBRACK:
		p.errs.Add(p.prevLine(), errs.MissingRBrack)
	}
}

func (p *Parser) compUnit() *ast.Node {
	n := ast.Nonterm("CompUnit")

	for !p.at(token.EOF) {
		switch {
		case p.at(token.CONSTTK):
			n.Add(p.declWrap(p.constDecl()))
		case p.at(token.STATICTK):
			n.Add(p.declWrap(p.varDecl()))
		case p.at(token.VOIDTK):
			n.Add(p.funcDef())
		case p.at(token.INTTK) && p.peek(1).Kind == token.MAINTK:
			n.Add(p.mainFuncDef())
		case p.at(token.INTTK) && p.peek(1).Kind == token.IDENFR && p.peek(2).Kind == token.LPARENT:
			n.Add(p.funcDef())
		case p.at(token.INTTK):
			n.Add(p.declWrap(p.varDecl()))
		default:
			p.next() // skip stray token
		}
	}

	return n
}

func (p *Parser) declWrap(decl *ast.Node) *ast.Node {
	return ast.Nonterm("Decl").Add(decl)
}

func (p *Parser) btype() *ast.Node {
	n := ast.Nonterm("BType")
	p.take(n, token.INTTK)

	return n
}

func (p *Parser) constDecl() *ast.Node {
	n := ast.Nonterm("ConstDecl")

	p.take(n, token.CONSTTK)
	n.Add(p.btype())
	n.Add(p.constDef())

	for p.at(token.COMMA) {
		n.AddTok(p.next())
		n.Add(p.constDef())
	}

	p.take(n, token.SEMICN)

	return n
}

func (p *Parser) constDef() *ast.Node {
	n := ast.Nonterm("ConstDef")

	p.take(n, token.IDENFR)

	for p.at(token.LBRACK) {
		n.AddTok(p.next())
		n.Add(p.constExp())
		p.take(n, token.RBRACK)
	}

	p.take(n, token.ASSIGN)
	n.Add(p.constInitVal())

	return n
}

func (p *Parser) constInitVal() *ast.Node {
	n := ast.Nonterm("ConstInitVal")

	if !p.at(token.LBRACE) {
		n.Add(p.constExp())
		return n
	}

	n.AddTok(p.next())

	if !p.at(token.RBRACE) {
		n.Add(p.constInitVal())

		for p.at(token.COMMA) {
			n.AddTok(p.next())
			n.Add(p.constInitVal())
		}
	}

	p.take(n, token.RBRACE)

	return n
}

func (p *Parser) varDecl() *ast.Node {
	n := ast.Nonterm("VarDecl")

	if p.at(token.STATICTK) {
		n.AddTok(p.next())
	}

	n.Add(p.btype())
	n.Add(p.varDef())

	for p.at(token.COMMA) {
		n.AddTok(p.next())
		n.Add(p.varDef())
	}

	p.take(n, token.SEMICN)

	return n
}

func (p *Parser) varDef() *ast.Node {
	n := ast.Nonterm("VarDef")

	p.take(n, token.IDENFR)

	for p.at(token.LBRACK) {
		n.AddTok(p.next())
		n.Add(p.constExp())
		p.take(n, token.RBRACK)
	}

	if p.at(token.ASSIGN) {
		n.AddTok(p.next())
		n.Add(p.initVal())
	}

	return n
}

func (p *Parser) initVal() *ast.Node {
	n := ast.Nonterm("InitVal")

	if !p.at(token.LBRACE) {
		n.Add(p.exp())
		return n
	}

	n.AddTok(p.next())

	if !p.at(token.RBRACE) {
		n.Add(p.initVal())

		for p.at(token.COMMA) {
			n.AddTok(p.next())
			n.Add(p.initVal())
		}
	}

	p.take(n, token.RBRACE)

	return n
}

func (p *Parser) funcDef() *ast.Node {
	n := ast.Nonterm("FuncDef")

	ft := ast.Nonterm("FuncType")
	ft.AddTok(p.next()) // int | void
	n.Add(ft)

	p.take(n, token.IDENFR)
	p.take(n, token.LPARENT)

	if p.at(token.INTTK) {
		n.Add(p.funcFParams())
	}

	p.take(n, token.RPARENT)
	n.Add(p.block())

	return n
}

func (p *Parser) mainFuncDef() *ast.Node {
	n := ast.Nonterm("MainFuncDef")

	p.take(n, token.INTTK)
	p.take(n, token.MAINTK)
	p.take(n, token.LPARENT)
	p.take(n, token.RPARENT)
	n.Add(p.block())

	return n
}

func (p *Parser) funcFParams() *ast.Node {
	n := ast.Nonterm("FuncFParams")

	n.Add(p.funcFParam())

	for p.at(token.COMMA) {
		n.AddTok(p.next())
		n.Add(p.funcFParam())
	}

	return n
}

func (p *Parser) funcFParam() *ast.Node {
	n := ast.Nonterm("FuncFParam")

	n.Add(p.btype())
	p.take(n, token.IDENFR)

	if p.at(token.LBRACK) {
		n.AddTok(p.next())
		p.take(n, token.RBRACK)

		for p.at(token.LBRACK) {
			n.AddTok(p.next())
			n.Add(p.constExp())
			p.take(n, token.RBRACK)
		}
	}

	return n
}

func (p *Parser) block() *ast.Node {
	n := ast.Nonterm("Block")

	p.take(n, token.LBRACE)

	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		st := p.pos

		item := ast.Nonterm("BlockItem")

		switch {
		case p.at(token.CONSTTK):
			item.Add(p.declWrap(p.constDecl()))
		case p.at(token.STATICTK) || p.at(token.INTTK):
			item.Add(p.declWrap(p.varDecl()))
		default:
			item.Add(p.stmt())
		}

		n.Add(item)

		if p.pos == st { // recovery made no progress; drop the token
			p.next()
		}
	}

	p.take(n, token.RBRACE)

	return n
}

// assignAhead reports whether the statement starting at the current
// position is an assignment: an ASSIGN at paren depth 0 before the
// next ';' or '{' or '}'.
func (p *Parser) assignAhead() bool {
	depth := 0

	for i := p.pos; i < len(p.toks); i++ {
		switch p.toks[i].Kind {
		case token.LPARENT:
			depth++
		case token.RPARENT:
			depth--
		case token.ASSIGN:
			if depth == 0 {
				return true
			}
		case token.SEMICN, token.LBRACE, token.RBRACE, token.EOF:
			return false
		}
	}

	return false
}

func (p *Parser) stmt() *ast.Node {
	n := ast.Nonterm("Stmt")

	switch {
	case p.at(token.IFTK):
		n.AddTok(p.next())
		p.take(n, token.LPARENT)
		n.Add(p.cond())
		p.take(n, token.RPARENT)
		n.Add(p.stmt())

		if p.at(token.ELSETK) {
			n.AddTok(p.next())
			n.Add(p.stmt())
		}
	case p.at(token.WHILETK):
		n.AddTok(p.next())
		p.take(n, token.LPARENT)
		n.Add(p.cond())
		p.take(n, token.RPARENT)
		n.Add(p.stmt())
	case p.at(token.FORTK):
		n.AddTok(p.next())
		p.take(n, token.LPARENT)

		if !p.at(token.SEMICN) {
			n.Add(p.forStmt())
		}

		p.take(n, token.SEMICN)

		if !p.at(token.SEMICN) {
			n.Add(p.cond())
		}

		p.take(n, token.SEMICN)

		if !p.at(token.RPARENT) {
			n.Add(p.forStmt())
		}

		p.take(n, token.RPARENT)
		n.Add(p.stmt())
	case p.at(token.BREAKTK), p.at(token.CONTINUETK):
		n.AddTok(p.next())
		p.take(n, token.SEMICN)
	case p.at(token.RETURNTK):
		n.AddTok(p.next())

		if !p.at(token.SEMICN) && startsExp(p.cur().Kind) {
			n.Add(p.exp())
		}

		p.take(n, token.SEMICN)
	case p.at(token.PRINTFTK):
		n.AddTok(p.next())
		p.take(n, token.LPARENT)
		p.take(n, token.STRCON)

		for p.at(token.COMMA) {
			n.AddTok(p.next())
			n.Add(p.exp())
		}

		p.take(n, token.RPARENT)
		p.take(n, token.SEMICN)
	case p.at(token.LBRACE):
		n.Add(p.block())
	case p.at(token.SEMICN):
		n.AddTok(p.next())
	case p.at(token.IDENFR) && p.assignAhead():
		n.Add(p.lval())
		p.take(n, token.ASSIGN)
		n.Add(p.exp())
		p.take(n, token.SEMICN)
	default:
		n.Add(p.exp())
		p.take(n, token.SEMICN)
	}

	return n
}

func (p *Parser) forStmt() *ast.Node {
	n := ast.Nonterm("ForStmt")

	n.Add(p.lval())
	p.take(n, token.ASSIGN)
	n.Add(p.exp())

	for p.at(token.COMMA) {
		n.AddTok(p.next())
		n.Add(p.lval())
		p.take(n, token.ASSIGN)
		n.Add(p.exp())
	}

	return n
}

func (p *Parser) exp() *ast.Node {
	return ast.Nonterm("Exp").Add(p.addExp())
}

func (p *Parser) constExp() *ast.Node {
	return ast.Nonterm("ConstExp").Add(p.addExp())
}

func (p *Parser) cond() *ast.Node {
	return ast.Nonterm("Cond").Add(p.lorExp())
}

func (p *Parser) lval() *ast.Node {
	n := ast.Nonterm("LVal")

	p.take(n, token.IDENFR)

	for p.at(token.LBRACK) {
		n.AddTok(p.next())
		n.Add(p.exp())
		p.take(n, token.RBRACK)
	}

	return n
}

func (p *Parser) primaryExp() *ast.Node {
	n := ast.Nonterm("PrimaryExp")

	switch {
	case p.at(token.LPARENT):
		n.AddTok(p.next())
		n.Add(p.exp())
		p.take(n, token.RPARENT)
	case p.at(token.INTCON):
		num := ast.Nonterm("Number")
		num.AddTok(p.next())
		n.Add(num)
	default:
		n.Add(p.lval())
	}

	return n
}

func (p *Parser) unaryExp() *ast.Node {
	n := ast.Nonterm("UnaryExp")

	switch {
	case p.at(token.PLUS), p.at(token.MINU), p.at(token.NOT):
		op := ast.Nonterm("UnaryOp")
		op.AddTok(p.next())
		n.Add(op)
		n.Add(p.unaryExp())
	case p.at(token.IDENFR) && p.peek(1).Kind == token.LPARENT:
		n.AddTok(p.next()) // name
		n.AddTok(p.next()) // (

		if startsExp(p.cur().Kind) {
			n.Add(p.funcRParams())
		}

		p.take(n, token.RPARENT)
	default:
		n.Add(p.primaryExp())
	}

	return n
}

func (p *Parser) funcRParams() *ast.Node {
	n := ast.Nonterm("FuncRParams")

	n.Add(p.exp())

	for p.at(token.COMMA) {
		n.AddTok(p.next())
		n.Add(p.exp())
	}

	return n
}

// binChain parses a left-associative chain, nesting each step in a new
// node of the same name so the post-order dump prints one label per
// reduction.
func (p *Parser) binChain(name string, sub func() *ast.Node, ops ...token.Kind) *ast.Node {
	n := ast.Nonterm(name).Add(sub())

	for {
		matched := false

		for _, k := range ops {
			if p.at(k) {
				matched = true
				break
			}
		}

		if !matched {
			return n
		}

		next := ast.Nonterm(name)
		next.Add(n)
		next.AddTok(p.next())
		next.Add(sub())

		n = next
	}
}

func (p *Parser) mulExp() *ast.Node {
	return p.binChain("MulExp", p.unaryExp, token.MULT, token.DIV, token.MOD)
}

func (p *Parser) addExp() *ast.Node {
	return p.binChain("AddExp", p.mulExp, token.PLUS, token.MINU)
}

func (p *Parser) relExp() *ast.Node {
	return p.binChain("RelExp", p.addExp, token.LSS, token.LEQ, token.GRE, token.GEQ)
}

func (p *Parser) eqExp() *ast.Node {
	return p.binChain("EqExp", p.relExp, token.EQL, token.NEQ)
}

func (p *Parser) landExp() *ast.Node {
	return p.binChain("LAndExp", p.eqExp, token.AND)
}

func (p *Parser) lorExp() *ast.Node {
	return p.binChain("LOrExp", p.landExp, token.OR)
}

func startsExp(k token.Kind) bool {
	switch k {
	case token.IDENFR, token.INTCON, token.LPARENT, token.PLUS, token.MINU, token.NOT:
		return true
	default:
		return false
	}
}
