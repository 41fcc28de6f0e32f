package graph

import (
	"gonum.org/v1/gonum/graph"

	"github.com/habitat-sh/builder-sub000/ident"
)

// wouldCreateCycle reports whether adding edges from target to each node
// in sources would create a cycle in g, i.e. whether any source can
// already reach target.
//
// It is a multi-source BFS rather than one DFS per source: sources share
// a single frontier, so a node reachable from one source is never
// re-expanded for another. When target has no incoming edges at all, the
// answer is false in O(1) without touching the rest of the graph, since
// nothing can reach a node of in-degree zero (spec.md §4.B).
func wouldCreateCycle(g graph.Directed, target ident.Handle, sources []ident.Handle) bool {
	tid := int64(target)
	if g.Node(tid) == nil {
		return false
	}
	if g.To(tid).Len() == 0 {
		return false
	}

	visited := make(map[int64]bool, len(sources))
	queue := make([]int64, 0, len(sources))
	for _, s := range sources {
		sid := int64(s)
		if sid == tid {
			return true
		}
		if !visited[sid] {
			visited[sid] = true
			queue = append(queue, sid)
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == tid {
			return true
		}
		it := g.From(n)
		for it.Next() {
			nx := it.Node().ID()
			if nx == tid {
				return true
			}
			if !visited[nx] {
				visited[nx] = true
				queue = append(queue, nx)
			}
		}
	}
	return false
}
