package diff

import (
	"sort"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/errs"
)

// node is one vertex of the ordering graph. A split Create contributes two
// nodes: the shell (backRef=false) and its back-reference Alter.
type node struct {
	id      string
	backRef bool
}

// graph maps a node to the nodes that must come after it.
type graph struct {
	nodes map[node]*ChangeOp
	edges map[node][]node
	// indegree counts unmet predecessors.
	indegree map[node]int
}

func newGraph() *graph {
	return &graph{
		nodes:    map[node]*ChangeOp{},
		edges:    map[node][]node{},
		indegree: map[node]int{},
	}
}

func (g *graph) add(n node, op *ChangeOp) {
	g.nodes[n] = op
}

func (g *graph) edge(from, to node) {
	if from == to {
		return
	}
	for _, existing := range g.edges[from] {
		if existing == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
	g.indegree[to]++
}

// less orders ready nodes by kind rank, then identity, shells before their
// back-reference.
func (g *graph) less(a, b node) bool {
	ra, rb := g.nodes[a].Kind().Rank(), g.nodes[b].Kind().Rank()
	if ra != rb {
		return ra < rb
	}
	if a.id != b.id {
		return a.id < b.id
	}
	return !a.backRef && b.backRef
}

// topo runs Kahn's algorithm with deterministic tie-breaking. If every
// remaining node still has unmet predecessors, the smallest one is released
// so ordering always terminates.
func (g *graph) topo() []node {
	indegree := make(map[node]int, len(g.nodes))
	remaining := make(map[node]bool, len(g.nodes))
	for n := range g.nodes {
		indegree[n] = g.indegree[n]
		remaining[n] = true
	}

	order := make([]node, 0, len(g.nodes))
	for len(remaining) > 0 {
		var ready []node
		for n := range remaining {
			if indegree[n] == 0 {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			for n := range remaining {
				ready = append(ready, n)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return g.less(ready[i], ready[j]) })

		next := ready[0]
		delete(remaining, next)
		order = append(order, next)
		for _, succ := range g.edges[next] {
			indegree[succ]--
		}
	}
	return order
}

// orderUpserts orders Creates and Alters so referenced objects are created
// first. Strongly connected groups of Creates are split into shells plus
// back-reference Alters.
func orderUpserts(ops []ChangeOp) ([]ChangeOp, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	byID := make(map[string]*ChangeOp, len(ops))
	for i := range ops {
		byID[ops[i].ID] = &ops[i]
	}
	creating := func(id string) bool {
		op, ok := byID[id]
		return ok && op.Type == OpCreate
	}

	if err := checkParentCycles(ops, creating); err != nil {
		return nil, err
	}

	// soft + hard dependency graph among Creates, used to find cycles
	deps := make(map[string][]string)
	for _, op := range ops {
		if op.Type != OpCreate {
			continue
		}
		if _, ok := deps[op.ID]; !ok {
			deps[op.ID] = nil
		}
		for _, d := range op.After.Deps() {
			if creating(d) {
				deps[d] = append(deps[d], op.ID)
			}
		}
	}

	split := map[string]bool{}
	for _, scc := range tarjanSCC(deps) {
		if len(scc) < 2 {
			continue
		}
		for _, id := range scc {
			if _, ok := byID[id].After.ShellStatement(); ok {
				split[id] = true
			}
		}
	}

	g := newGraph()
	backRefs := map[string]*ChangeOp{}
	for _, op := range ops {
		op := byID[op.ID]
		g.add(node{id: op.ID}, op)
		if split[op.ID] {
			op.Shell = true
			back := &ChangeOp{Type: OpAlter, ID: op.ID, After: op.After, BackReference: true}
			backRefs[op.ID] = back
			g.add(node{id: op.ID, backRef: true}, back)
		}
	}

	for _, op := range ops {
		self := node{id: op.ID}
		if split[op.ID] {
			back := node{id: op.ID, backRef: true}
			g.edge(self, back)
			if parent := op.After.Parent; creating(parent) {
				g.edge(node{id: parent}, self)
			}
			for _, d := range op.After.Deps() {
				if creating(d) {
					g.edge(node{id: d}, back)
				}
			}
			continue
		}
		for _, d := range op.After.Deps() {
			if creating(d) {
				g.edge(node{id: d}, self)
			}
		}
	}

	order := g.topo()
	out := make([]ChangeOp, 0, len(order))
	for _, n := range order {
		if n.backRef {
			out = append(out, *backRefs[n.id])
			continue
		}
		out = append(out, *byID[n.id])
	}
	return out, nil
}

// orderDrops orders Drops so dependents are removed before the objects they
// reference.
func orderDrops(ops []ChangeOp) []ChangeOp {
	if len(ops) == 0 {
		return nil
	}
	byID := make(map[string]*ChangeOp, len(ops))
	g := newGraph()
	for i := range ops {
		byID[ops[i].ID] = &ops[i]
		g.add(node{id: ops[i].ID}, &ops[i])
	}
	for _, op := range ops {
		for _, d := range op.Before.Deps() {
			if _, ok := byID[d]; ok {
				g.edge(node{id: d}, node{id: op.ID})
			}
		}
	}

	order := g.topo()
	out := make([]ChangeOp, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		out = append(out, *byID[order[i].id])
	}
	return out
}

// checkParentCycles rejects cycles made only of parent edges, which no split
// can break.
func checkParentCycles(ops []ChangeOp, creating func(string) bool) error {
	parents := make(map[string][]string)
	for _, op := range ops {
		if op.Type != OpCreate {
			continue
		}
		if _, ok := parents[op.ID]; !ok {
			parents[op.ID] = nil
		}
		if p := op.After.Parent; creating(p) && p != op.ID {
			parents[p] = append(parents[p], op.ID)
		}
	}
	for _, scc := range tarjanSCC(parents) {
		if len(scc) > 1 {
			sort.Strings(scc)
			return errs.Config(scc[0], "cyclic parent dependency: %s", strings.Join(scc, " -> "))
		}
	}
	return nil
}

// tarjanSCC finds strongly connected components. Nodes are visited in sorted
// order so the output is deterministic.
func tarjanSCC(g map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	vertices := make([]string, 0, len(g))
	for v := range g {
		vertices = append(vertices, v)
	}
	sort.Strings(vertices)
	for _, v := range vertices {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return sccs
}
