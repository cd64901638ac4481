// Package canvas turns pointer gestures on the builder canvas into graph
// store mutations. Rendering is left to the caller.
package canvas

import (
	"github.com/google/uuid"

	"github.com/rmax-ai/psyflow/pkg/components"
	"github.com/rmax-ai/psyflow/pkg/graph"
)

// DefaultDropPosition is used when a drop carries no usable coordinates.
var DefaultDropPosition = graph.Position{X: 100, Y: 100}

// Viewport is the pan and zoom of the canvas.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Bounds is the on-screen rectangle of the canvas element.
type Bounds struct {
	Left, Top float64
}

// Project converts a client (screen) point into graph coordinates.
func (v Viewport) Project(clientX, clientY float64, b Bounds) graph.Position {
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	return graph.Position{
		X: (clientX - b.Left - v.X) / zoom,
		Y: (clientY - b.Top - v.Y) / zoom,
	}
}

// Controller applies canvas gestures to a graph store.
type Controller struct {
	store    *graph.Store
	viewport Viewport
	newID    func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithIDGenerator overrides how node IDs are minted on drop.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		c.newID = fn
	}
}

// NewController creates a controller for store.
func NewController(store *graph.Store, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		viewport: Viewport{Zoom: 1},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Viewport returns the current viewport.
func (c *Controller) Viewport() Viewport { return c.viewport }

// SetViewport records a pan or zoom performed by the renderer.
func (c *Controller) SetViewport(v Viewport) { c.viewport = v }

// Drop places a new node of kind at pos, seeded with the kind's defaults.
// A nil pos uses DefaultDropPosition. The node's label starts as the kind
// name. It returns the new node.
func (c *Controller) Drop(kind graph.Kind, pos *graph.Position) graph.Node {
	at := DefaultDropPosition
	if pos != nil {
		at = *pos
	}
	node := graph.Node{
		ID:       c.newID(),
		Kind:     kind,
		Position: at,
		Label:    string(kind),
	}
	c.store.AddNode(node, components.Defaults(kind, at))
	return node
}

// DropAt places a node at a client point, projected through the viewport.
func (c *Controller) DropAt(kind graph.Kind, clientX, clientY float64, b Bounds) graph.Node {
	pos := c.viewport.Project(clientX, clientY, b)
	return c.Drop(kind, &pos)
}

// Click selects the clicked node.
func (c *Controller) Click(id string) {
	c.store.SetSelectedNode(id)
}

// ClickPane clears the selection.
func (c *Controller) ClickPane() {
	c.store.SetSelectedNode("")
}

// Drag moves a node. Intermediate and final drag positions are applied alike.
func (c *Controller) Drag(id string, pos graph.Position) {
	c.store.ApplyNodeChanges([]graph.NodeChange{graph.MoveNode(id, pos)})
}

// Rename changes the label shown on a node. Unknown IDs are ignored.
func (c *Controller) Rename(id, label string) {
	node, ok := c.store.Node(id)
	if !ok {
		return
	}
	node.Label = label
	c.store.ApplyNodeChanges([]graph.NodeChange{{Type: graph.NodeReplace, ID: id, Node: &node}})
}

// Connect draws an edge between two handles.
func (c *Controller) Connect(source, target string, ports graph.Ports) (graph.Edge, bool) {
	return c.store.Connect(source, target, ports)
}

// Delete removes nodes together with their edges and props.
func (c *Controller) Delete(ids ...string) {
	c.store.ApplyNodeChanges(graph.RemoveNodes(ids...))
}

// DeleteEdges removes edges.
func (c *Controller) DeleteEdges(ids ...string) {
	c.store.ApplyEdgeChanges(graph.RemoveEdges(ids...))
}

// DeleteSelected removes the selected node, if any.
func (c *Controller) DeleteSelected() bool {
	id := c.store.SelectedID()
	if id == "" {
		return false
	}
	c.Delete(id)
	return true
}
