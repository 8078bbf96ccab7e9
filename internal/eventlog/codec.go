package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec converts events to and from their stored bytes.
type Codec[E any] interface {
	Encode(event E) ([]byte, error)
	Decode(data []byte) (E, error)
}

// variants maps the concrete types of a sum-typed event to stable names.
type variants[E any] struct {
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

func newVariants[E any](samples []E) (variants[E], error) {
	v := variants[E]{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	if len(samples) == 0 {
		t := reflect.TypeFor[E]()
		if t.Kind() == reflect.Interface {
			return v, fmt.Errorf("codec for interface type %s needs sample variants", t)
		}
		v.add(t)
		return v, nil
	}
	for _, s := range samples {
		t := reflect.TypeOf(s)
		if t == nil {
			return v, fmt.Errorf("nil sample variant")
		}
		name := VariantName(s)
		if prev, ok := v.byName[name]; ok && prev != t {
			return v, fmt.Errorf("variant name %q used by %s and %s", name, prev, t)
		}
		v.add(t)
	}
	return v, nil
}

func (v variants[E]) add(t reflect.Type) {
	name := t.Name()
	if t.Kind() == reflect.Pointer {
		name = t.Elem().Name()
	}
	v.byName[name] = t
	v.byType[t] = name
}

func (v variants[E]) name(ev E) (string, error) {
	t := reflect.TypeOf(ev)
	name, ok := v.byType[t]
	if !ok {
		return "", fmt.Errorf("unregistered event variant %v", t)
	}
	return name, nil
}

// decode allocates a value of the named variant, lets fill populate it and
// returns it as an E.
func (v variants[E]) decode(name string, fill func(ptr any) error) (E, error) {
	var zero E
	t, ok := v.byName[name]
	if !ok {
		return zero, fmt.Errorf("unknown event variant %q", name)
	}

	var out reflect.Value
	if t.Kind() == reflect.Pointer {
		out = reflect.New(t.Elem())
		if err := fill(out.Interface()); err != nil {
			return zero, err
		}
	} else {
		ptr := reflect.New(t)
		if err := fill(ptr.Interface()); err != nil {
			return zero, err
		}
		out = ptr.Elem()
	}

	ev, ok := out.Interface().(E)
	if !ok {
		return zero, fmt.Errorf("variant %s is not assignable to %s", t, reflect.TypeFor[E]())
	}
	return ev, nil
}

type jsonEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JSONCodec stores events as {"type": <variant>, "data": <json>}.
type JSONCodec[E any] struct {
	variants variants[E]
}

// JSON returns a JSON codec for E. When E is an interface, samples lists one
// value of every variant that may be stored.
func JSON[E any](samples ...E) (*JSONCodec[E], error) {
	v, err := newVariants(samples)
	if err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return &JSONCodec[E]{variants: v}, nil
}

// Encode implements Codec.
func (c *JSONCodec[E]) Encode(event E) ([]byte, error) {
	name, err := c.variants.name(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	var data bytes.Buffer
	enc := json.NewEncoder(&data)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(event); err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}

	out, err := json.Marshal(jsonEnvelope{
		Type: name,
		Data: json.RawMessage(strings.TrimSpace(data.String())),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return out, nil
}

// Decode implements Codec.
func (c *JSONCodec[E]) Decode(data []byte) (E, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		var zero E
		return zero, fmt.Errorf("decode envelope: %w", err)
	}
	return c.variants.decode(env.Type, func(ptr any) error {
		if err := json.Unmarshal(env.Data, ptr); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return nil
	})
}

type cborEnvelope struct {
	Type string          `cbor:"1,keyasint"`
	Data cbor.RawMessage `cbor:"2,keyasint"`
}

// CBORCodec stores events as a two-field CBOR map keyed by small integers.
// Encoding uses core deterministic options so equal events give equal bytes.
type CBORCodec[E any] struct {
	variants variants[E]
	enc      cbor.EncMode
	dec      cbor.DecMode
}

// CBOR returns a CBOR codec for E. Samples work as for JSON.
func CBOR[E any](samples ...E) (*CBORCodec[E], error) {
	v, err := newVariants(samples)
	if err != nil {
		return nil, fmt.Errorf("cbor codec: %w", err)
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor codec: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor codec: %w", err)
	}
	return &CBORCodec[E]{variants: v, enc: enc, dec: dec}, nil
}

// Encode implements Codec.
func (c *CBORCodec[E]) Encode(event E) ([]byte, error) {
	name, err := c.variants.name(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	data, err := c.enc.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	out, err := c.enc.Marshal(cborEnvelope{Type: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return out, nil
}

// Decode implements Codec.
func (c *CBORCodec[E]) Decode(data []byte) (E, error) {
	var env cborEnvelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		var zero E
		return zero, fmt.Errorf("decode envelope: %w", err)
	}
	return c.variants.decode(env.Type, func(ptr any) error {
		if err := c.dec.Unmarshal(env.Data, ptr); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return nil
	})
}
