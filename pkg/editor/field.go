package editor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rmax-ai/psyflow/pkg/components"
)

// FieldType is the input widget a field renders as.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldChoice FieldType = "choice"
)

// FieldDef declares one editable field of a kind.
type FieldDef struct {
	Name    string
	Label   string
	Type    FieldType
	Help    string
	Min     *float64
	Max     *float64
	Options []string

	// ShowIf hides the field when it returns false. It is evaluated against
	// the editor's local state on every render.
	ShowIf func(components.Config) bool
}

// Field is a rendered field: its definition plus the current local value.
type Field struct {
	FieldDef
	Value any
}

func bound(v float64) *float64 { return &v }

// coerce converts raw input into the field's value type, clamping numbers
// into [Min, Max].
func (d FieldDef) coerce(raw any) (any, error) {
	switch d.Type {
	case FieldString:
		switch t := raw.(type) {
		case string:
			return t, nil
		case fmt.Stringer:
			return t.String(), nil
		}
		return fmt.Sprint(raw), nil

	case FieldChoice:
		s := strings.TrimSpace(fmt.Sprint(raw))
		for _, opt := range d.Options {
			if strings.EqualFold(opt, s) {
				return opt, nil
			}
		}
		return nil, fmt.Errorf("%s: must be one of [%s]", d.Name, strings.Join(d.Options, " "))

	case FieldBool:
		switch t := raw.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("%s: not a boolean: %q", d.Name, t)
			}
			return b, nil
		}
		return nil, fmt.Errorf("%s: not a boolean: %v", d.Name, raw)

	case FieldNumber, FieldInt:
		f, ok := components.ToFloat(raw)
		if !ok || math.IsNaN(f) {
			return nil, fmt.Errorf("%s: not a number: %v", d.Name, raw)
		}
		if d.Min != nil && f < *d.Min {
			f = *d.Min
		}
		if d.Max != nil && f > *d.Max {
			f = *d.Max
		}
		if d.Type == FieldInt {
			return int(math.Round(f)), nil
		}
		return f, nil
	}
	return nil, fmt.Errorf("%s: unsupported field type %s", d.Name, d.Type)
}
