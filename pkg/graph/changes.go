package graph

// NodeChangeType enumerates structural node changes.
type NodeChangeType string

const (
	NodeAdd      NodeChangeType = "add"
	NodeRemove   NodeChangeType = "remove"
	NodePosition NodeChangeType = "position"
	NodeSelect   NodeChangeType = "select"
	NodeReplace  NodeChangeType = "replace"
)

// NodeChange is one entry of a batch passed to ApplyNodeChanges.
type NodeChange struct {
	Type NodeChangeType
	ID   string

	// Node and Props are used by add and replace.
	Node  *Node
	Props Props
	// Position is used by position changes. A nil position is ignored.
	Position *Position
	// Selected is used by select changes.
	Selected bool
}

// EdgeChangeType enumerates structural edge changes.
type EdgeChangeType string

const (
	EdgeAdd     EdgeChangeType = "add"
	EdgeRemove  EdgeChangeType = "remove"
	EdgeReplace EdgeChangeType = "replace"
)

// EdgeChange is one entry of a batch passed to ApplyEdgeChanges.
type EdgeChange struct {
	Type EdgeChangeType
	ID   string
	Edge *Edge
}

// RemoveNodes builds a removal batch for the given IDs.
func RemoveNodes(ids ...string) []NodeChange {
	changes := make([]NodeChange, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, NodeChange{Type: NodeRemove, ID: id})
	}
	return changes
}

// MoveNode builds a single position change.
func MoveNode(id string, pos Position) NodeChange {
	return NodeChange{Type: NodePosition, ID: id, Position: &pos}
}

// RemoveEdges builds an edge removal batch for the given IDs.
func RemoveEdges(ids ...string) []EdgeChange {
	changes := make([]EdgeChange, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, EdgeChange{Type: EdgeRemove, ID: id})
	}
	return changes
}
