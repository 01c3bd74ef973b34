package plugin

import (
	"testing"

	"github.com/matryer/is"
)

func newFactory() Factory {
	return func(cfg map[string]any) (any, error) {
		return struct{}{}, nil
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	is := is.New(t)

	r := NewRegistry()
	r.Register(KindSTT, "acme", newFactory())

	factory, ok := r.Get(KindSTT, "acme")
	is.True(ok)
	is.True(factory != nil)

	_, ok = r.Get(KindSTT, "missing")
	is.True(!ok)

	_, ok = r.Get(KindTTS, "acme")
	is.True(!ok)
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(KindLLM, "acme", newFactory())

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register(KindLLM, "acme", newFactory())
}

func TestRegistryInvalidRegistrationPanics(t *testing.T) {
	tests := []struct {
		name   string
		plugin *Plugin
	}{
		{"empty kind", &Plugin{Name: "x", Factory: newFactory()}},
		{"empty name", &Plugin{Kind: KindVAD, Factory: newFactory()}},
		{"nil factory", &Plugin{Kind: KindVAD, Name: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			r.RegisterWithMetadata(tt.plugin)
		})
	}
}

func TestRegistryList(t *testing.T) {
	is := is.New(t)

	r := NewRegistry()
	r.Register(KindTTS, "zeta", newFactory())
	r.Register(KindSTT, "acme", newFactory())
	r.Register(KindSTT, "beta", newFactory())

	all := r.List("")
	is.Equal(len(all), 3)
	is.Equal(all[0].Kind, KindSTT)
	is.Equal(all[0].Name, "acme")
	is.Equal(all[1].Name, "beta")
	is.Equal(all[2].Kind, KindTTS)

	stts := r.List(KindSTT)
	is.Equal(len(stts), 2)
}

func TestRegistryClear(t *testing.T) {
	is := is.New(t)

	r := NewRegistry()
	r.Register(KindVAD, "acme", newFactory())
	r.Clear()
	is.Equal(len(r.List("")), 0)
}
