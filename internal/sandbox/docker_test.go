package sandbox

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDockerParse(t *testing.T) {
	d := &DockerRunner{}
	tc := TestCase{ExpectedOutput: []any{1, 2}}

	stdout := "noise\n" + resultMarker + `{"ok":true,"output":[1,2],"time":0.002,"logs":["hi"]}` + "\n"
	res := d.parse(stdout, "", 0, tc, time.Second)
	if !res.Passed {
		t.Errorf("expected pass, got %+v", res)
	}
	if res.ExecutionTime != 0.002 {
		t.Errorf("ExecutionTime = %v, want harness time", res.ExecutionTime)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "hi" {
		t.Errorf("Logs = %q", res.Logs)
	}

	stdout = resultMarker + `{"ok":false,"error":"ReferenceError: x is not defined","time":0.001}` + "\n"
	res = d.parse(stdout, "", 0, tc, time.Second)
	if res.Passed || res.Error != "ReferenceError: x is not defined" {
		t.Errorf("unexpected result %+v", res)
	}

	res = d.parse("", "line one\nKilled\n", 137, tc, time.Second)
	if res.Passed || !strings.Contains(res.Error, "exit code 137") || !strings.HasSuffix(res.Error, "Killed") {
		t.Errorf("error = %q", res.Error)
	}

	res = d.parse(resultMarker+"{broken\n", "", 0, tc, time.Second)
	if res.Error != "Malformed sandbox output" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestLastResultLine(t *testing.T) {
	out := resultMarker + `{"ok":false}` + "\nconsole noise\n" + resultMarker + `{"ok":true}` + "\n"
	line, ok := lastResultLine(out)
	if !ok || line != `{"ok":true}` {
		t.Errorf("lastResultLine = %q, %v", line, ok)
	}
	if _, ok := lastResultLine("nothing here"); ok {
		t.Error("expected no result line")
	}
}

// TestDockerRunner needs a docker daemon with the node image pulled.
func TestDockerRunner(t *testing.T) {
	if os.Getenv("ASSESSOR_TEST_DOCKER") == "" {
		t.Skip("set ASSESSOR_TEST_DOCKER=1 to run docker sandbox tests")
	}

	p := DefaultPolicy()
	p.Timeout = 10 * time.Second
	d, err := NewDockerRunner(p, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDockerRunner: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx := context.Background()
	if err := d.Ping(ctx); err != nil {
		t.Skipf("docker daemon unavailable: %v", err)
	}

	res, err := d.Run(ctx, Program{Code: "function add(a,b){return a+b}"}, TestCase{Input: []any{2, 3}, ExpectedOutput: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Passed {
		t.Errorf("expected pass, got %+v", res)
	}

	res, err = d.Run(ctx, Program{Code: "function f(){ require('fs') }"}, TestCase{ExpectedOutput: nil})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Error == "" {
		t.Error("require must not be available to candidate code")
	}
}
