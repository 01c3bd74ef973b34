// Package plugin provides a registry for pipeline backend providers
// (STT, TTS, LLM, VAD, realtime). Provider packages register factories
// from init(), and the session layer resolves configured provider names
// through the registry without importing the providers directly.
package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Backend kinds.
const (
	KindSTT      = "stt"
	KindTTS      = "tts"
	KindLLM      = "llm"
	KindVAD      = "vad"
	KindRealtime = "realtime"
)

// Factory creates a provider instance from configuration. The returned
// value is cast by the caller to the interface matching the kind
// (stt.STT, tts.TTS, llm.LLM, vad.VAD, or realtime.Model).
type Factory func(cfg map[string]any) (any, error)

// Downloader is implemented by plugins that fetch model files before use.
type Downloader interface {
	Download() error
}

// Plugin is a registered provider with its metadata.
type Plugin struct {
	Kind        string
	Name        string
	Factory     Factory
	Description string
	Version     string
	Downloader  Downloader
}

// Registry holds registered plugins keyed by kind and name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Register adds a plugin to the global registry. Called from provider
// package init() functions. Panics on duplicate kind/name, which is a
// programming error.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin with metadata to the global registry.
func RegisterWithMetadata(p *Plugin) {
	globalRegistry.RegisterWithMetadata(p)
}

// Get looks up a factory in the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// List returns all globally registered plugins of a kind, or all plugins
// when kind is empty.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// Register adds a plugin to this registry.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Kind: kind, Name: name, Factory: factory})
}

// RegisterWithMetadata adds a plugin to this registry. Panics on invalid
// or duplicate registration.
func (r *Registry) RegisterWithMetadata(p *Plugin) {
	if p.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if p.Name == "" {
		panic("plugin name cannot be empty")
	}
	if p.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[p.Kind] == nil {
		r.plugins[p.Kind] = make(map[string]*Plugin)
	}
	if _, exists := r.plugins[p.Kind][p.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered", p.Kind, p.Name))
	}
	r.plugins[p.Kind][p.Name] = p
}

// Get looks up a factory by kind and name.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[kind][name]
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// List returns registered plugins of a kind sorted by kind then name.
// An empty kind returns everything.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Plugin
	for k, kindMap := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, p := range kindMap {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Clear removes all plugins. Test use only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}
