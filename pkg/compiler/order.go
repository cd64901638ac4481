package compiler

import "github.com/rmax-ai/psyflow/pkg/document"

// Order arranges nodes along the edges, so a node runs after every node that
// connects into it. Nodes without ordering constraints keep document order.
// Nodes caught in a cycle are appended in document order after the rest.
// Edges naming unknown nodes are ignored.
func Order(nodes []document.Node, edges []document.Edge) []document.Node {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ID]; !dup {
			index[n.ID] = i
		}
	}

	indegree := make([]int, len(nodes))
	next := make([][]int, len(nodes))
	for _, e := range edges {
		from, ok1 := index[e.Source]
		to, ok2 := index[e.Target]
		if !ok1 || !ok2 || from == to {
			continue
		}
		next[from] = append(next[from], to)
		indegree[to]++
	}

	done := make([]bool, len(nodes))
	out := make([]document.Node, 0, len(nodes))
	for len(out) < len(nodes) {
		// Lowest document index with no pending predecessor.
		pick := -1
		for i := range nodes {
			if !done[i] && indegree[i] == 0 {
				pick = i
				break
			}
		}
		if pick < 0 {
			break
		}
		done[pick] = true
		out = append(out, nodes[pick])
		for _, j := range next[pick] {
			indegree[j]--
		}
	}
	for i, n := range nodes {
		if !done[i] {
			out = append(out, n)
		}
	}
	return out
}
