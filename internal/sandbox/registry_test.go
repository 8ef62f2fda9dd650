package sandbox

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(LanguageJavaScript, NewGojaRunner(DefaultPolicy()))

	if _, err := reg.Get(LanguageJavaScript); err != nil {
		t.Fatalf("Get(javascript): %v", err)
	}

	_, err := reg.Get("python")
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("Get(python) err = %v, want ErrUnsupportedLanguage", err)
	}

	reg.Register("typescript", NewGojaRunner(DefaultPolicy()))
	if got := reg.Languages(); !reflect.DeepEqual(got, []string{"javascript", "typescript"}) {
		t.Errorf("Languages = %v", got)
	}
}

func TestNewRunner(t *testing.T) {
	r, err := NewRunner("", DefaultPolicy(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunner default: %v", err)
	}
	if _, ok := r.(*GojaRunner); !ok {
		t.Errorf("default backend = %T, want *GojaRunner", r)
	}

	if _, err := NewRunner("wasm", DefaultPolicy(), zerolog.Nop()); err == nil {
		t.Error("expected error for unknown backend")
	}

	p := DefaultPolicy()
	p.Image = "evil:latest"
	if _, err := NewRunner(BackendDocker, p, zerolog.Nop()); !errors.Is(err, ErrImageNotAllowed) {
		t.Errorf("NewRunner docker with disallowed image err = %v", err)
	}
}
