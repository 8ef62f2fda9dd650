package sandbox

import (
	"reflect"
	"testing"
)

func TestDeclaredNames(t *testing.T) {
	code := `
function add(a, b) { return a + b }
async function fetchIt() {}
function* gen() {}
const twice = (x) => x * 2
let counter = 0
var obj = { run: function named() {} }
x.method = function () {}
`
	got := declaredNames(code)
	want := []string{"add", "fetchIt", "gen", "twice", "counter", "obj", "named"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("declaredNames = %v, want %v", got, want)
	}
}

func TestEntryCandidates(t *testing.T) {
	got := entryCandidates(Program{Code: "function a(){}\nfunction solution(){}\nconst b = 1\nfunction a(){}"})
	want := []string{"solution", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entryCandidates = %v, want %v", got, want)
	}

	got = entryCandidates(Program{Code: "function a(){}", EntryPoint: "main"})
	if !reflect.DeepEqual(got, []string{"main"}) {
		t.Errorf("explicit entry point candidates = %v", got)
	}
}

func TestIdentPattern(t *testing.T) {
	for _, name := range []string{"solve", "_x", "$", "twoSum2"} {
		if !identPattern.MatchString(name) {
			t.Errorf("%q should be a valid identifier", name)
		}
	}
	for _, name := range []string{"", "2x", "a-b", "a; b()", "a b"} {
		if identPattern.MatchString(name) {
			t.Errorf("%q should be rejected", name)
		}
	}
}
