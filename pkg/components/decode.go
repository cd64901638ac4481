package components

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rmax-ai/psyflow/pkg/graph"
)

// UnknownKindError is returned by Decode for kinds outside the palette.
type UnknownKindError struct {
	Kind graph.Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown component kind %q", e.Kind)
}

// FieldError reports a props value that could not be coerced to the field's
// type.
type FieldError struct {
	Field string
	Value any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: cannot use %v (%T)", e.Field, e.Value, e.Value)
}

// Decode reads the props record of a node into its typed configuration.
// Missing keys take the kind's default, keys the kind does not define are kept
// in Extra. Node position feeds the x/y defaults of positioned kinds.
func Decode(kind graph.Kind, pos graph.Position, props graph.Props) (Config, error) {
	r := reader{props: props}
	switch kind {
	case graph.KindText:
		c := DefaultText(pos)
		c.Text = r.str("text", c.Text)
		c.Duration = r.num("duration", c.Duration)
		c.X = r.num("x", c.X)
		c.Y = r.num("y", c.Y)
		c.Extra = r.rest()
		return c, r.err
	case graph.KindImage:
		c := DefaultImage(pos)
		c.Image = r.str("image", c.Image)
		c.Duration = r.num("duration", c.Duration)
		c.X = r.num("x", c.X)
		c.Y = r.num("y", c.Y)
		c.Size = r.num("size", c.Size)
		c.Extra = r.rest()
		return c, r.err
	case graph.KindKeyboard:
		c := DefaultKeyboard()
		c.AllowedKeys = r.str("allowed_keys", c.AllowedKeys)
		c.Duration = r.num("duration", c.Duration)
		c.StoreCorrect = r.boolean("store_correct", c.StoreCorrect)
		c.CorrectAnswer = r.str("correct_answer", c.CorrectAnswer)
		c.Extra = r.rest()
		return c, r.err
	case graph.KindSound:
		c := DefaultSound()
		c.Sound = r.str("sound", c.Sound)
		c.Duration = r.num("duration", c.Duration)
		c.Volume = r.num("volume", c.Volume)
		c.Extra = r.rest()
		return c, r.err
	case graph.KindGPIO:
		c := DefaultGPIO()
		c.Pin = int(r.num("pin", float64(c.Pin)))
		c.State = strings.ToLower(r.str("state", c.State))
		c.Duration = r.num("duration", c.Duration)
		c.Extra = r.rest()
		return c, r.err
	default:
		return nil, &UnknownKindError{Kind: kind}
	}
}

// reader pulls typed fields out of a props record and remembers which keys it
// consumed. The first coercion failure is kept in err.
type reader struct {
	props graph.Props
	seen  map[string]bool
	err   error
}

func (r *reader) take(key string) (any, bool) {
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	r.seen[key] = true
	v, ok := r.props[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (r *reader) fail(key string, v any) {
	if r.err == nil {
		r.err = &FieldError{Field: key, Value: v}
	}
}

func (r *reader) str(key, def string) string {
	v, ok := r.take(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case float64, int, bool:
		return fmt.Sprint(t)
	}
	r.fail(key, v)
	return def
}

func (r *reader) num(key string, def float64) float64 {
	v, ok := r.take(key)
	if !ok {
		return def
	}
	if f, ok := ToFloat(v); ok {
		return f
	}
	r.fail(key, v)
	return def
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.take(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	r.fail(key, v)
	return def
}

func (r *reader) rest() graph.Props {
	var extra graph.Props
	for k, v := range r.props {
		if r.seen[k] {
			continue
		}
		if extra == nil {
			extra = graph.Props{}
		}
		extra[k] = v
	}
	if extra == nil {
		return nil
	}
	return extra.Clone()
}

// ToFloat coerces a props value to a number. Strings are parsed, so values
// typed into a form field decode the same as JSON numbers.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
