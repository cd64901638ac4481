package editor

import (
	"github.com/rmax-ai/psyflow/pkg/components"
	"github.com/rmax-ai/psyflow/pkg/graph"
)

// Binding is the field layout of one component kind.
type Binding struct {
	Kind   graph.Kind
	Fields []FieldDef
}

// Def returns the definition of the named field.
func (b Binding) Def(name string) (FieldDef, bool) {
	for _, d := range b.Fields {
		if d.Name == name {
			return d, true
		}
	}
	return FieldDef{}, false
}

func durationField(help string) FieldDef {
	return FieldDef{Name: "duration", Label: "Duration (s)", Type: FieldNumber, Min: bound(0), Help: help}
}

var (
	xField = FieldDef{Name: "x", Label: "X", Type: FieldNumber}
	yField = FieldDef{Name: "y", Label: "Y", Type: FieldNumber}
)

// TextBinding edits text stimuli.
var TextBinding = Binding{
	Kind: graph.KindText,
	Fields: []FieldDef{
		{Name: "text", Label: "Text", Type: FieldString},
		durationField(""),
		xField,
		yField,
	},
}

// KeyboardBinding edits keyboard responses. The correct answer is only shown
// while store_correct is on.
var KeyboardBinding = Binding{
	Kind: graph.KindKeyboard,
	Fields: []FieldDef{
		{Name: "allowed_keys", Label: "Allowed keys", Type: FieldString, Help: "comma separated, e.g. space, left, right"},
		durationField("0 waits without limit"),
		{Name: "store_correct", Label: "Store correct", Type: FieldBool},
		{
			Name:  "correct_answer",
			Label: "Correct answer",
			Type:  FieldString,
			ShowIf: func(c components.Config) bool {
				kb, ok := c.(components.KeyboardConfig)
				return ok && kb.StoreCorrect
			},
		},
	},
}

// ImageBinding edits image stimuli.
var ImageBinding = Binding{
	Kind: graph.KindImage,
	Fields: []FieldDef{
		{Name: "image", Label: "Image file", Type: FieldString},
		durationField(""),
		{Name: "size", Label: "Size", Type: FieldNumber, Min: bound(0)},
		xField,
		yField,
	},
}

// SoundBinding edits sound stimuli.
var SoundBinding = Binding{
	Kind: graph.KindSound,
	Fields: []FieldDef{
		{Name: "sound", Label: "Sound", Type: FieldString, Help: "note name or file"},
		durationField(""),
		{Name: "volume", Label: "Volume", Type: FieldNumber, Min: bound(0), Max: bound(1)},
	},
}

// GPIOBinding edits gpio outputs.
var GPIOBinding = Binding{
	Kind: graph.KindGPIO,
	Fields: []FieldDef{
		{Name: "pin", Label: "Pin", Type: FieldInt, Min: bound(0), Max: bound(40)},
		{Name: "state", Label: "State", Type: FieldChoice, Options: []string{"high", "low"}},
		durationField(""),
	},
}

// DefaultBindings returns a binding for every built-in kind.
func DefaultBindings() map[graph.Kind]Binding {
	return map[graph.Kind]Binding{
		graph.KindText:     TextBinding,
		graph.KindKeyboard: KeyboardBinding,
		graph.KindImage:    ImageBinding,
		graph.KindSound:    SoundBinding,
		graph.KindGPIO:     GPIOBinding,
	}
}
