package sandbox

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// LanguageJavaScript is the only language with a runner. Other languages
// need their own isolated backend registered under their id.
const LanguageJavaScript = "javascript"

// Backend names accepted by NewRunner.
const (
	BackendGoja   = "goja"
	BackendDocker = "docker"
)

// Registry maps a language id to the Runner that executes it.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds or replaces the runner for a language.
func (r *Registry) Register(language string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[language] = runner
}

// Get returns the runner for a language or ErrUnsupportedLanguage.
func (r *Registry) Get(language string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return runner, nil
}

// Languages returns the registered language ids, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.runners))
	for l := range r.runners {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// NewRunner builds the JavaScript runner for a backend name.
func NewRunner(backend string, policy Policy, logger zerolog.Logger) (Runner, error) {
	switch backend {
	case "", BackendGoja:
		return NewGojaRunner(policy), nil
	case BackendDocker:
		return NewDockerRunner(policy, logger)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", backend)
	}
}
