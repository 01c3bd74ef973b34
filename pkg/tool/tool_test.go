package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestDispatcherRegisterAndDefinitions(t *testing.T) {
	is := is.New(t)

	d := NewDispatcher(nil)
	is.NoErr(d.Register(Definition{
		Name:        "zeta",
		Description: "last alphabetically",
		Parameters:  map[string]any{"type": "object"},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "z", nil
		},
	}))
	is.NoErr(d.Register(Definition{
		Name:        "alpha",
		Description: "first alphabetically",
		Parameters:  map[string]any{"type": "object"},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "a", nil
		},
	}))

	defs := d.Definitions()
	is.Equal(len(defs), 2)
	is.Equal(defs[0].Name, "alpha")
	is.Equal(defs[1].Name, "zeta")
}

func TestDispatcherRejectsInvalidDefinitions(t *testing.T) {
	is := is.New(t)

	d := NewDispatcher(nil)
	is.True(d.Register(Definition{Name: ""}) != nil)
	is.True(d.Register(Definition{Name: "norun"}) != nil)
}

func TestDispatchSuccess(t *testing.T) {
	is := is.New(t)

	d := NewDispatcher(nil)
	var gotArgs string
	is.NoErr(d.Register(Definition{
		Name: "echo",
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			gotArgs = string(args)
			return "done", nil
		},
	}))

	result := d.Dispatch(context.Background(), "echo", `{"x":1}`)
	is.Equal(result, "done")
	is.Equal(gotArgs, `{"x":1}`)
}

func TestDispatchUnknownTool(t *testing.T) {
	is := is.New(t)

	d := NewDispatcher(nil)
	result := d.Dispatch(context.Background(), "missing", "{}")
	is.True(strings.Contains(result, "missing"))
	is.True(strings.HasPrefix(result, "Sorry"))
}

func TestDispatchMalformedArguments(t *testing.T) {
	is := is.New(t)

	d := NewDispatcher(nil)
	called := false
	is.NoErr(d.Register(Definition{
		Name: "strict",
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			called = true
			return "ok", nil
		},
	}))

	result := d.Dispatch(context.Background(), "strict", `{"broken`)
	is.True(!called)
	is.True(strings.HasPrefix(result, "Sorry"))
}

func TestDispatchToolErrorBecomesText(t *testing.T) {
	is := is.New(t)

	d := NewDispatcher(nil)
	is.NoErr(d.Register(Definition{
		Name: "flaky",
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("upstream unavailable")
		},
	}))

	result := d.Dispatch(context.Background(), "flaky", "{}")
	is.True(strings.Contains(result, "upstream unavailable"))
	is.True(strings.HasPrefix(result, "Sorry"))
}

func TestDispatchPanicBecomesText(t *testing.T) {
	is := is.New(t)

	d := NewDispatcher(nil)
	is.NoErr(d.Register(Definition{
		Name: "crash",
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			panic("nil map write")
		},
	}))

	result := d.Dispatch(context.Background(), "crash", "{}")
	is.True(strings.HasPrefix(result, "Sorry"))
}

func TestSchemaFor(t *testing.T) {
	is := is.New(t)

	type args struct {
		Message string `json:"message,omitempty"`
		Count   int    `json:"count"`
	}

	schema := SchemaFor(&args{})
	is.Equal(schema["type"], "object")

	props, ok := schema["properties"].(map[string]any)
	is.True(ok)
	_, hasMessage := props["message"]
	_, hasCount := props["count"]
	is.True(hasMessage)
	is.True(hasCount)
}
