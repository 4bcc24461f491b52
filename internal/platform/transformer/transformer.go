// Package transformer holds per-customer HL7 message transformations.
// Some integration engines emit messages with quirks that need fixing up
// before parsing, and some expect quirks reintroduced on the way out.
// Transformers are registered under a name and selected by configuration.
package transformer

import (
	"fmt"
	"sort"
	"sync"
)

// Transformer rewrites raw HL7 messages at the connector boundary.
type Transformer interface {
	// TransformIncoming is applied to inbound messages before parsing.
	TransformIncoming(raw string) string
	// TransformOutgoing is applied to outbound messages before sending.
	TransformOutgoing(raw string) string
}

// Default is the name of the no-op transformer.
const Default = "noop"

var (
	mu       sync.RWMutex
	registry = map[string]Transformer{
		Default: noop{},
	}
)

// Register makes a transformer selectable by name. It panics on a
// duplicate name, which indicates a programming error at init time.
func Register(name string, t Transformer) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("transformer: duplicate registration of %q", name))
	}
	registry[name] = t
}

// Lookup returns the named transformer.
func Lookup(name string) (Transformer, error) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("transformer: unknown transformer %q (have %v)", name, names())
	}
	return t, nil
}

func names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type noop struct{}

func (noop) TransformIncoming(raw string) string { return raw }
func (noop) TransformOutgoing(raw string) string { return raw }
