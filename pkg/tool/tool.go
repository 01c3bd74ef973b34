// Package tool provides the function tool dispatcher that bridges LLM
// function calls to agent-side actions.
//
// Tools never surface errors to the conversation loop. Every dispatch
// resolves to a text result the model can speak, so a broken tool degrades
// to an apology instead of killing the session.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
)

// Definition describes a single callable tool.
type Definition struct {
	// Name the model calls the tool by
	Name string

	// Description tells the model when to use the tool
	Description string

	// Parameters is the JSON schema for the tool arguments
	Parameters map[string]any

	// Run executes the tool. The returned string is fed back to the model
	// as the function result. A returned error is converted to an
	// apologetic text result by the dispatcher.
	Run func(ctx context.Context, args json.RawMessage) (string, error)
}

// Dispatcher routes LLM function calls to registered tools.
type Dispatcher struct {
	mu     sync.RWMutex
	tools  map[string]Definition
	logger *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		tools:  make(map[string]Definition),
		logger: logger,
	}
}

// Register adds a tool. Registering an existing name replaces it.
func (d *Dispatcher) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Run == nil {
		return fmt.Errorf("tool %s has no Run function", def.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[def.Name] = def
	return nil
}

// Definitions returns the registered tools as LLM function definitions,
// sorted by name for stable prompts.
func (d *Dispatcher) Definitions() []llm.FunctionDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	defs := make([]llm.FunctionDefinition, 0, len(d.tools))
	for _, t := range d.tools {
		defs = append(defs, llm.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch runs the named tool and always returns a speakable text result.
// Unknown tools, malformed arguments, tool errors, and panics all resolve
// to apologetic text.
func (d *Dispatcher) Dispatch(ctx context.Context, name, rawArgs string) (result string) {
	log := d.logger.With("tool", name)

	defer func() {
		if r := recover(); r != nil {
			log.Error("tool panicked", "panic", r)
			result = "Sorry, something went wrong while I was doing that."
		}
	}()

	d.mu.RLock()
	def, ok := d.tools[name]
	d.mu.RUnlock()

	if !ok {
		log.Warn("model called unknown tool")
		return fmt.Sprintf("Sorry, I don't have a tool called %s.", name)
	}

	args := json.RawMessage(rawArgs)
	if rawArgs != "" && !json.Valid(args) {
		log.Warn("model produced malformed tool arguments")
		return "Sorry, I couldn't make sense of that request."
	}

	log.Info("dispatching tool call")
	out, err := def.Run(ctx, args)
	if err != nil {
		log.Error("tool failed", "error", err)
		return fmt.Sprintf("Sorry, that didn't work: %s", err)
	}
	return out
}

// SchemaFor reflects a JSON schema for a tool's argument struct.
func SchemaFor(v any) map[string]any {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	encoded, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	return out
}
