// Package components defines the closed set of component kinds that can be
// placed on an experiment graph, together with a typed configuration record
// for each kind.
package components

import (
	"github.com/rmax-ai/psyflow/pkg/graph"
)

// Category groups kinds in the builder palette.
type Category string

const (
	CategoryStimuli   Category = "stimuli"
	CategoryResponses Category = "responses"
	CategoryIO        Category = "io"
)

// Spec describes one palette entry.
type Spec struct {
	Kind     graph.Kind
	Title    string
	Category Category
}

var palette = []Spec{
	{Kind: graph.KindText, Title: "Text", Category: CategoryStimuli},
	{Kind: graph.KindImage, Title: "Image", Category: CategoryStimuli},
	{Kind: graph.KindKeyboard, Title: "Keyboard", Category: CategoryResponses},
	{Kind: graph.KindSound, Title: "Sound", Category: CategoryStimuli},
	{Kind: graph.KindGPIO, Title: "GPIO", Category: CategoryIO},
}

// Palette returns the known kinds in palette order.
func Palette() []Spec {
	return append([]Spec(nil), palette...)
}

// Lookup returns the palette entry for kind.
func Lookup(kind graph.Kind) (Spec, bool) {
	for _, s := range palette {
		if s.Kind == kind {
			return s, true
		}
	}
	return Spec{}, false
}

// Known reports whether kind is one of the built-in kinds.
func Known(kind graph.Kind) bool {
	_, ok := Lookup(kind)
	return ok
}

// Defaults returns the initial props record for a freshly dropped node of
// the given kind at pos. Unknown kinds get an empty record.
func Defaults(kind graph.Kind, pos graph.Position) graph.Props {
	switch kind {
	case graph.KindText:
		return DefaultText(pos).Props()
	case graph.KindImage:
		return DefaultImage(pos).Props()
	case graph.KindKeyboard:
		return DefaultKeyboard().Props()
	case graph.KindSound:
		return DefaultSound().Props()
	case graph.KindGPIO:
		return DefaultGPIO().Props()
	default:
		return graph.Props{}
	}
}
