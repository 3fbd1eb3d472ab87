package evaluator

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/keronhq/keron/internal/manifest"
)

// starlarkRenderedValue wraps a manifest.RenderedValue so it can flow
// through Starlark dicts (template opts.vars) and still be unwrapped
// with its sensitivity bit intact when the template intent is built.
type starlarkRenderedValue struct {
	value manifest.RenderedValue
}

var _ starlark.Value = starlarkRenderedValue{}

func (v starlarkRenderedValue) String() string        { return fmt.Sprintf("rendered_value(%q)", v.value.Value) }
func (v starlarkRenderedValue) Type() string           { return "rendered_value" }
func (v starlarkRenderedValue) Freeze()                {}
func (v starlarkRenderedValue) Truth() starlark.Bool   { return starlark.Bool(v.value.Value != "") }
func (v starlarkRenderedValue) Hash() (uint32, error) {
	return starlark.String(v.value.Value).Hash()
}

// toRenderedValue coerces a Starlark value taken from a vars dict into a
// RenderedValue. Literal strings/numbers/bools are coerced to strings
// and treated as non-sensitive; a starlarkRenderedValue carries its
// sensitivity bit through unchanged.
func toRenderedValue(v starlark.Value) (manifest.RenderedValue, error) {
	switch val := v.(type) {
	case starlarkRenderedValue:
		return val.value, nil
	case starlark.String:
		return manifest.RenderedValue{Value: string(val)}, nil
	case starlark.Bool:
		if val {
			return manifest.RenderedValue{Value: "true"}, nil
		}
		return manifest.RenderedValue{Value: "false"}, nil
	case starlark.Int:
		return manifest.RenderedValue{Value: val.String()}, nil
	case starlark.Float:
		return manifest.RenderedValue{Value: fmt.Sprintf("%v", float64(val))}, nil
	default:
		return manifest.RenderedValue{}, fmt.Errorf("unsupported vars value type: %s", v.Type())
	}
}

// stringList converts a Starlark list/tuple of strings to []string.
func stringList(v starlark.Value) ([]string, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings, got %s", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []string
	var item starlark.Value
	for iter.Next(&item) {
		s, ok := item.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("expected a list of strings, got element of type %s", item.Type())
		}
		out = append(out, string(s))
	}
	return out, nil
}
