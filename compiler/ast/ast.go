// Package ast is the concrete syntax tree built by the parser. Interior
// nodes are named after grammar nonterminals; leaves are tokens.
package ast

import (
	"fmt"

	"github.com/slowlang/sy/compiler/token"
)

type (
	Node struct {
		Name     string // nonterminal name; empty for leaves
		Tok      token.Token
		IsTok    bool
		Children []*Node
	}
)

func Nonterm(name string) *Node {
	return &Node{Name: name}
}

func Leaf(t token.Token) *Node {
	return &Node{Tok: t, IsTok: true}
}

func (n *Node) Add(c *Node) *Node {
	if c != nil {
		n.Children = append(n.Children, c)
	}

	return n
}

func (n *Node) AddTok(t token.Token) *Node {
	return n.Add(Leaf(t))
}

// Is reports whether the node is the named nonterminal.
func (n *Node) Is(name string) bool {
	return !n.IsTok && n.Name == name
}

// IsKind reports whether the node is a leaf of the given token kind.
func (n *Node) IsKind(k token.Kind) bool {
	return n.IsTok && n.Tok.Kind == k
}

// FirstToken walks to the leftmost leaf.
func (n *Node) FirstToken() (token.Token, bool) {
	if n.IsTok {
		return n.Tok, true
	}

	for _, c := range n.Children {
		if t, ok := c.FirstToken(); ok {
			return t, true
		}
	}

	return token.Token{}, false
}

// LastToken walks to the rightmost leaf.
func (n *Node) LastToken() (token.Token, bool) {
	if n.IsTok {
		return n.Tok, true
	}

	for i := len(n.Children) - 1; i >= 0; i-- {
		if t, ok := n.Children[i].LastToken(); ok {
			return t, true
		}
	}

	return token.Token{}, false
}

// Dump renders parser.txt: post-order, leaves as "TYPE TEXT", interior
// nodes as "<Name>". The synthetic BlockItem, Decl and BType wrappers
// are suppressed.
func (n *Node) Dump(b []byte) []byte {
	for _, c := range n.Children {
		b = c.Dump(b)
	}

	if n.IsTok {
		return fmt.Appendf(b, "%v %v\n", n.Tok.Kind, n.Tok.Text)
	}

	switch n.Name {
	case "BlockItem", "Decl", "BType":
		return b
	}

	return fmt.Appendf(b, "<%v>\n", n.Name)
}
