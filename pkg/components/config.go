package components

import (
	"strings"

	"github.com/rmax-ai/psyflow/pkg/graph"
)

// Config is the typed configuration of one node. Implementations are the
// *Config structs in this package.
type Config interface {
	Kind() graph.Kind
	// Props encodes the record back into the open props form, including any
	// keys the record did not recognise.
	Props() graph.Props
}

// TextConfig configures a text stimulus.
type TextConfig struct {
	Text     string
	Duration float64 `validate:"gte=0"`
	X        float64
	Y        float64
	Extra    graph.Props
}

// DefaultText returns the text defaults at pos.
func DefaultText(pos graph.Position) TextConfig {
	return TextConfig{Text: "Hello World", Duration: 1.0, X: pos.X, Y: pos.Y}
}

func (c TextConfig) Kind() graph.Kind { return graph.KindText }

func (c TextConfig) Props() graph.Props {
	return c.Extra.Merge(graph.Props{
		"text":     c.Text,
		"duration": c.Duration,
		"x":        c.X,
		"y":        c.Y,
	})
}

// ImageConfig configures an image stimulus.
type ImageConfig struct {
	Image    string
	Duration float64 `validate:"gte=0"`
	X        float64
	Y        float64
	Size     float64 `validate:"gte=0"`
	Extra    graph.Props
}

// DefaultImage returns the image defaults at pos.
func DefaultImage(pos graph.Position) ImageConfig {
	return ImageConfig{Duration: 1.0, X: pos.X, Y: pos.Y, Size: 0.5}
}

func (c ImageConfig) Kind() graph.Kind { return graph.KindImage }

func (c ImageConfig) Props() graph.Props {
	return c.Extra.Merge(graph.Props{
		"image":    c.Image,
		"duration": c.Duration,
		"x":        c.X,
		"y":        c.Y,
		"size":     c.Size,
	})
}

// KeyboardConfig configures a keyboard response. A zero Duration waits
// without limit.
type KeyboardConfig struct {
	AllowedKeys   string
	Duration      float64 `validate:"gte=0"`
	StoreCorrect  bool
	CorrectAnswer string
	Extra         graph.Props
}

// DefaultKeyboard returns the keyboard defaults.
func DefaultKeyboard() KeyboardConfig {
	return KeyboardConfig{AllowedKeys: "space"}
}

func (c KeyboardConfig) Kind() graph.Kind { return graph.KindKeyboard }

func (c KeyboardConfig) Props() graph.Props {
	return c.Extra.Merge(graph.Props{
		"allowed_keys":   c.AllowedKeys,
		"duration":       c.Duration,
		"store_correct":  c.StoreCorrect,
		"correct_answer": c.CorrectAnswer,
	})
}

// Keys returns the allowed key names.
func (c KeyboardConfig) Keys() []string {
	return ParseKeys(c.AllowedKeys)
}

// SoundConfig configures a sound stimulus. Sound is a note name or a file.
type SoundConfig struct {
	Sound    string
	Duration float64 `validate:"gte=0"`
	Volume   float64 `validate:"gte=0,lte=1"`
	Extra    graph.Props
}

// DefaultSound returns the sound defaults.
func DefaultSound() SoundConfig {
	return SoundConfig{Sound: "A", Duration: 1.0, Volume: 1.0}
}

func (c SoundConfig) Kind() graph.Kind { return graph.KindSound }

func (c SoundConfig) Props() graph.Props {
	return c.Extra.Merge(graph.Props{
		"sound":    c.Sound,
		"duration": c.Duration,
		"volume":   c.Volume,
	})
}

// GPIOConfig drives a digital output pin for Duration seconds.
type GPIOConfig struct {
	Pin      int     `validate:"gte=0,lte=40"`
	State    string  `validate:"oneof=high low"`
	Duration float64 `validate:"gte=0"`
	Extra    graph.Props
}

// DefaultGPIO returns the gpio defaults.
func DefaultGPIO() GPIOConfig {
	return GPIOConfig{Pin: 17, State: "high", Duration: 0.5}
}

func (c GPIOConfig) Kind() graph.Kind { return graph.KindGPIO }

func (c GPIOConfig) Props() graph.Props {
	return c.Extra.Merge(graph.Props{
		"pin":      c.Pin,
		"state":    c.State,
		"duration": c.Duration,
	})
}

// ParseKeys splits a comma separated key list into trimmed, non-empty names.
func ParseKeys(allowed string) []string {
	var keys []string
	for _, k := range strings.Split(allowed, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
