package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cast"
)

// ErrInvalidArgument marks an argument problem. Implementations may wrap it
// when they reject a value that passed kind coercion (a malformed date, an
// inverted range); the invoker reports such failures as InvalidArguments.
var ErrInvalidArgument = errors.New("invalid argument")

// Args holds validated, coerced arguments keyed by parameter name. Values are
// string for string and enum parameters, float64 for numbers, bool for
// booleans and map[string]any or []any for objects.
type Args map[string]any

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// ArgumentError identifies the parameter that failed validation.
type ArgumentError struct {
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Param == "" {
		return e.Reason
	}
	return fmt.Sprintf("parameter %q: %s", e.Param, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// BindArgs decodes raw JSON arguments and checks them against spec. Every
// required parameter must be present, every present value must coerce to its
// declared kind, and unknown parameters are rejected. JSON null counts as
// absent.
func BindArgs(spec Spec, raw json.RawMessage) (Args, error) {
	decoded := map[string]any{}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return nil, &ArgumentError{Reason: fmt.Sprintf("arguments are not a JSON object: %v", err)}
		}
		if dec.More() {
			return nil, &ArgumentError{Reason: "arguments contain trailing data after the JSON object"}
		}
	}

	for name := range decoded {
		if _, ok := spec.Param(name); !ok && spec.InputSchema == nil {
			return nil, &ArgumentError{Param: name, Reason: "unknown parameter"}
		}
	}

	args := make(Args, len(decoded))
	for _, p := range spec.Params {
		v, present := decoded[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, &ArgumentError{Param: p.Name, Reason: "required parameter is missing"}
			}
			continue
		}

		coerced, err := coerce(p, v)
		if err != nil {
			return nil, &ArgumentError{Param: p.Name, Reason: err.Error()}
		}
		args[p.Name] = coerced
	}

	// Bridged tools may accept parameters the derived Params do not describe
	if spec.InputSchema != nil {
		for name, v := range decoded {
			if _, ok := args[name]; !ok && v != nil {
				args[name] = plain(v)
			}
		}
	}

	return args, nil
}

func coerce(p ParamSpec, v any) (any, error) {
	v = plain(v)

	switch p.Kind {
	case KindString:
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("expected string, got %s", describe(v))
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("expected string, got %s", describe(v))
		}
		return s, nil

	case KindNumber:
		if _, ok := v.(bool); ok {
			return nil, fmt.Errorf("expected number, got boolean")
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %s", describe(v))
		}
		return f, nil

	case KindBoolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fmt.Errorf("expected boolean, got %s", describe(v))
		}
		return b, nil

	case KindEnum:
		s, err := cast.ToStringE(v)
		if err != nil || !slices.Contains(p.Enum, s) {
			return nil, fmt.Errorf("expected one of %v, got %s", p.Enum, describe(v))
		}
		return s, nil

	case KindObject:
		switch v.(type) {
		case map[string]any, []any:
			return v, nil
		}
		return nil, fmt.Errorf("expected object, got %s", describe(v))
	}

	return nil, fmt.Errorf("unsupported kind %q", p.Kind)
}

// plain converts json.Number values (from UseNumber decoding) into float64 so
// downstream code sees ordinary JSON types.
func plain(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

func describe(v any) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case bool:
		return fmt.Sprintf("boolean %v", t)
	}
	return fmt.Sprintf("%v", v)
}
