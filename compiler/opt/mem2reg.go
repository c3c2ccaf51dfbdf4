package opt

import (
	"context"
	"fmt"

	"github.com/slowlang/sy/compiler/ir"
	"github.com/slowlang/sy/compiler/set"
)

type (
	// cfg is one function's control-flow graph over reachable blocks.
	cfg struct {
		blocks []*ir.Block
		idx    map[*ir.Block]int

		succ map[*ir.Block][]*ir.Block
		pred map[*ir.Block][]*ir.Block
	}

	mem2reg struct {
		phiCounter int
	}
)

// Mem2Reg promotes scalar stack slots to SSA registers: dominator
// analysis, Cytron φ placement, dominator-tree renaming.
func Mem2Reg() Pass {
	p := &mem2reg{}

	return Pass{Name: "mem2reg", Run: p.run}
}

func (p *mem2reg) run(ctx context.Context, m *ir.Module) error {
	for _, f := range m.Funcs {
		if f.Builtin || len(f.Blocks) == 0 {
			continue
		}

		p.runFunc(f)
	}

	return nil
}

func (p *mem2reg) runFunc(f *ir.Func) {
	truncateAfterTerminator(f)

	g := buildCFG(f)
	if len(g.blocks) == 0 {
		return
	}

	dom := dominators(g)
	idom := immediateDominators(g, dom)
	children := domTreeChildren(g, idom)
	df := dominanceFrontier(g, idom, children)

	promotable := collectPromotable(g)
	if len(promotable) == 0 {
		return
	}

	phiSlot := p.placePhis(g, df, promotable)

	rename(g, children, promotable, phiSlot)

	// Drop promoted slots once nothing references them.
	for _, bb := range g.blocks {
		for _, slot := range promotable {
			if slot.Blk == bb && len(ir.Uses(slot)) == 0 {
				bb.Erase(slot)
			}
		}
	}
}

// truncateAfterTerminator drops the dead tail the generator may leave
// after an early break/continue/return lowering.
func truncateAfterTerminator(f *ir.Func) {
	for _, bb := range f.Blocks {
		cut := -1

		for i, instr := range bb.Instrs {
			if instr.IsTerminator() {
				cut = i
				break
			}
		}

		if cut < 0 || cut == len(bb.Instrs)-1 {
			continue
		}

		for _, instr := range bb.Instrs[cut+1:] {
			instr.ClearOperands()
		}

		bb.Instrs = bb.Instrs[:cut+1]
	}
}

// buildCFG walks from the entry block; unreachable blocks are omitted.
func buildCFG(f *ir.Func) *cfg {
	g := &cfg{
		idx:  map[*ir.Block]int{},
		succ: map[*ir.Block][]*ir.Block{},
		pred: map[*ir.Block][]*ir.Block{},
	}

	entry := f.Entry()
	if entry == nil {
		return g
	}

	visited := map[*ir.Block]struct{}{entry: {}}
	stack := []*ir.Block{entry}

	for len(stack) != 0 {
		bb := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		g.idx[bb] = len(g.blocks)
		g.blocks = append(g.blocks, bb)

		term := bb.Terminator()
		if term == nil {
			continue
		}

		for _, s := range term.Succs() {
			g.succ[bb] = append(g.succ[bb], s)
			g.pred[s] = append(g.pred[s], bb)

			if _, ok := visited[s]; !ok {
				visited[s] = struct{}{}
				stack = append(stack, s)
			}
		}
	}

	return g
}

// dominators is the classical iterative fixpoint:
// Dom(entry) = {entry}; Dom(B) = {B} ∪ ⋂ Dom(pred).
func dominators(g *cfg) []set.Bits[int] {
	n := len(g.blocks)

	dom := make([]set.Bits[int], n)

	for i := range dom {
		if i == 0 {
			dom[i] = set.MakeBits[int]()
			dom[i].Set(0)
		} else {
			dom[i] = set.MakeFull[int](n)
		}
	}

	for changed := true; changed; {
		changed = false

		for i := 1; i < n; i++ {
			next := set.MakeFull[int](n)

			for _, p := range g.pred[g.blocks[i]] {
				next.Intersect(dom[g.idx[p]])
			}

			next.Set(i)

			if !next.Equal(dom[i]) {
				dom[i] = next
				changed = true
			}
		}
	}

	return dom
}

// immediateDominators picks, for each block, the strict dominator that
// every other strict dominator dominates (the closest one). Entry maps
// to -1.
func immediateDominators(g *cfg, dom []set.Bits[int]) []int {
	n := len(g.blocks)

	idom := make([]int, n)
	idom[0] = -1

	for i := 1; i < n; i++ {
		var cands []int

		dom[i].Range(func(d int) bool {
			if d != i {
				cands = append(cands, d)
			}

			return true
		})

		idom[i] = -1

		for _, c := range cands {
			ok := true

			for _, o := range cands {
				if o != c && !dom[c].IsSet(o) {
					ok = false
					break
				}
			}

			if ok {
				idom[i] = c
				break
			}
		}
	}

	return idom
}

func domTreeChildren(g *cfg, idom []int) [][]int {
	children := make([][]int, len(g.blocks))

	for i := 1; i < len(g.blocks); i++ {
		if p := idom[i]; p >= 0 {
			children[p] = append(children[p], i)
		}
	}

	return children
}

// dominanceFrontier computes local DF (successors not immediately
// dominated by us) plus the upward fixpoint over dom-tree children.
func dominanceFrontier(g *cfg, idom []int, children [][]int) []set.Bits[int] {
	n := len(g.blocks)

	df := make([]set.Bits[int], n)
	for i := range df {
		df[i] = set.MakeBits[int]()
	}

	for i, bb := range g.blocks {
		for _, s := range g.succ[bb] {
			if idom[g.idx[s]] != i {
				df[i].Set(g.idx[s])
			}
		}
	}

	for changed := true; changed; {
		changed = false

		for b := 0; b < n; b++ {
			for _, c := range children[b] {
				df[c].Range(func(w int) bool {
					if idom[w] != b && !df[b].IsSet(w) {
						df[b].Set(w)
						changed = true
					}

					return true
				})
			}
		}
	}

	return df
}

// collectPromotable finds allocas of scalar pointees whose every use is
// a load from the slot or a store with the slot as the address.
func collectPromotable(g *cfg) []*ir.Instr {
	var out []*ir.Instr

	for _, bb := range g.blocks {
		for _, instr := range bb.Instrs {
			if instr.Op == ir.Alloca && promotable(instr) {
				out = append(out, instr)
			}
		}
	}

	return out
}

func promotable(slot *ir.Instr) bool {
	if _, isArr := slot.Allocated().(*ir.Array); isArr {
		return false
	}

	for _, u := range ir.Uses(slot) {
		switch u.User.Op {
		case ir.Load:
			if u.Index != 0 {
				return false
			}
		case ir.Store:
			if u.Index != 1 {
				return false
			}
		default:
			return false
		}
	}

	return true
}

// placePhis runs the Cytron worklist per slot and returns φ→slot.
func (p *mem2reg) placePhis(g *cfg, df []set.Bits[int], promotable []*ir.Instr) map[*ir.Instr]*ir.Instr {
	phiSlot := map[*ir.Instr]*ir.Instr{}

	for _, slot := range promotable {
		defs := map[int]struct{}{}

		for _, u := range ir.Uses(slot) {
			if u.User.Op == ir.Store && u.User.Blk != nil {
				if i, ok := g.idx[u.User.Blk]; ok {
					defs[i] = struct{}{}
				}
			}
		}

		work := make([]int, 0, len(defs))
		for i := range defs {
			work = append(work, i)
		}

		hasPhi := map[int]struct{}{}

		for len(work) != 0 {
			x := work[len(work)-1]
			work = work[:len(work)-1]

			df[x].Range(func(y int) bool {
				if _, ok := hasPhi[y]; ok {
					return true
				}

				phi := ir.NewPhi(slot.Allocated(), fmt.Sprintf("%%phi%d", p.phiCounter))
				p.phiCounter++

				g.blocks[y].InsertAfterPhis(phi)

				phiSlot[phi] = slot
				hasPhi[y] = struct{}{}

				if _, isDef := defs[y]; !isDef {
					work = append(work, y)
				}

				return true
			})
		}
	}

	return phiSlot
}

// rename walks the dominator tree replacing loads with the reaching
// value and turning stores into stack pushes. Slots start at zero so
// reads from uninitialized locals are deterministic.
func rename(g *cfg, children [][]int, promotable []*ir.Instr, phiSlot map[*ir.Instr]*ir.Instr) {
	isSlot := map[*ir.Instr]struct{}{}
	stacks := map[*ir.Instr][]ir.Value{}

	for _, slot := range promotable {
		isSlot[slot] = struct{}{}
		stacks[slot] = []ir.Value{ir.NewConstInt(slot.Allocated(), 0)}
	}

	top := func(slot *ir.Instr) ir.Value {
		s := stacks[slot]
		return s[len(s)-1]
	}

	var walk func(b int)
	walk = func(b int) {
		bb := g.blocks[b]

		pushed := map[*ir.Instr]int{}

		for _, instr := range bb.Instrs {
			if instr.Op != ir.Phi {
				break
			}

			if slot, ok := phiSlot[instr]; ok {
				stacks[slot] = append(stacks[slot], instr)
				pushed[slot]++
			}
		}

		for i := 0; i < len(bb.Instrs); {
			instr := bb.Instrs[i]

			if instr.Op == ir.Phi {
				i++
				continue
			}

			switch instr.Op {
			case ir.Load:
				slot, ok := instr.Operand(0).(*ir.Instr)
				if !ok {
					break
				}

				if _, prom := isSlot[slot]; !prom {
					break
				}

				ir.ReplaceAllUses(instr, top(slot))
				bb.Erase(instr)

				continue
			case ir.Store:
				slot, ok := instr.Operand(1).(*ir.Instr)
				if !ok {
					break
				}

				if _, prom := isSlot[slot]; !prom {
					break
				}

				stacks[slot] = append(stacks[slot], instr.Operand(0))
				pushed[slot]++

				bb.Erase(instr)

				continue
			}

			i++
		}

		for _, s := range g.succ[bb] {
			for _, instr := range s.Instrs {
				if instr.Op != ir.Phi {
					break
				}

				if slot, ok := phiSlot[instr]; ok {
					instr.AddIncoming(top(slot), bb)
				}
			}
		}

		for _, c := range children[b] {
			walk(c)
		}

		for slot, cnt := range pushed {
			stacks[slot] = stacks[slot][:len(stacks[slot])-cnt]
		}
	}

	walk(0)
}
