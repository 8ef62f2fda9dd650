package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/metrics"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// Interrupt values used by the timeout timer and the memory watchdog.
var (
	errTimedOut    = errors.New(MsgTimedOut)
	errMemoryLimit = errors.New(MsgMemoryLimit)
)

// heapMetric is sampled by the memory watchdog. It is process wide, so
// concurrent runs count against each other's budget.
const heapMetric = "/memory/classes/heap/objects:bytes"

const memoryPollInterval = 2 * time.Millisecond

// scriptError is a failure attributed to the submitted code that did not
// originate as a JavaScript exception.
type scriptError string

func (e scriptError) Error() string { return string(e) }

// resolveExports picks the function exported through module.exports: the
// export itself when it is callable, else the last callable property.
const resolveExports = `(function (m) {
	var e = m.exports;
	if (typeof e === 'function') return e;
	if (e !== null && typeof e === 'object') {
		var keys = Object.keys(e);
		for (var i = keys.length - 1; i >= 0; i--) {
			if (typeof e[keys[i]] === 'function') return e[keys[i]];
		}
	}
	return undefined;
})`

// GojaRunner runs JavaScript in a fresh goja runtime per call. The runtime
// has no file system, network or process bindings; it is preempted with
// Runtime.Interrupt when the policy timeout elapses or ctx is cancelled.
type GojaRunner struct {
	policy Policy
}

// NewGojaRunner creates a runner with the given policy.
func NewGojaRunner(policy Policy) *GojaRunner {
	return &GojaRunner{policy: policy}
}

func (g *GojaRunner) Run(ctx context.Context, prog Program, tc TestCase) (res *ExecutionResult, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled: %w", err)
	}
	if strings.TrimSpace(prog.Code) == "" {
		return failed(tc, MsgEmptyCode), nil
	}
	if g.policy.MaxCodeBytes > 0 && len(prog.Code) > g.policy.MaxCodeBytes {
		return failed(tc, MsgCodeTooLarge), nil
	}
	input, err := encodeValue(tc.Input)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("goja runtime panic: %v", r)
		}
	}()

	run, err := g.newRun()
	if err != nil {
		return nil, fmt.Errorf("preparing runtime: %w", err)
	}

	timer := time.AfterFunc(g.policy.timeout(), func() { run.vm.Interrupt(errTimedOut) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { run.vm.Interrupt(ctx.Err()) })
	defer stop()
	defer g.watchMemory(run.vm)()

	res = &ExecutionResult{ExpectedOutput: tc.ExpectedOutput}
	run.started = time.Now()
	output, runErr := run.execute(prog, input)
	res.ExecutionTime = time.Since(run.started).Seconds()
	res.Logs = run.console.lines

	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			switch interrupted.Value() {
			case errTimedOut:
				res.Error = MsgTimedOut
				return res, nil
			case errMemoryLimit:
				res.Error = MsgMemoryLimit
				return res, nil
			}
			return nil, fmt.Errorf("run cancelled: %w", context.Cause(ctx))
		}
		res.Error = describeError(runErr)
		return res, nil
	}

	res.Output = output
	res.Passed = Equal(output, tc.ExpectedOutput)
	return res, nil
}

// watchMemory interrupts vm once the heap has grown by more than
// Policy.MaxMemory since the call. The returned func stops the watchdog.
func (g *GojaRunner) watchMemory(vm *goja.Runtime) func() {
	if g.policy.MaxMemory <= 0 {
		return func() {}
	}
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return func() {}
	}
	limit := sample[0].Value.Uint64() + uint64(g.policy.MaxMemory)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(memoryPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				metrics.Read(sample)
				if sample[0].Value.Uint64() > limit {
					vm.Interrupt(errMemoryLimit)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// gojaRun holds the per-call runtime. Nothing in it outlives Run.
type gojaRun struct {
	vm        *goja.Runtime
	module    *goja.Object
	parse     goja.Callable
	stringify goja.Callable
	exports   goja.Callable
	console   *consoleBuffer
	started   time.Time
}

func (g *GojaRunner) newRun() (*gojaRun, error) {
	vm := goja.New()
	if g.policy.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(g.policy.MaxCallStackSize)
	}

	run := &gojaRun{
		vm:      vm,
		console: &consoleBuffer{max: g.policy.MaxLogLines},
	}

	// Capture builtins before candidate code can replace them.
	jsonObj := vm.Get("JSON").ToObject(vm)
	var ok bool
	if run.parse, ok = goja.AssertFunction(jsonObj.Get("parse")); !ok {
		return nil, errors.New("JSON.parse unavailable")
	}
	if run.stringify, ok = goja.AssertFunction(jsonObj.Get("stringify")); !ok {
		return nil, errors.New("JSON.stringify unavailable")
	}
	resolver, err := vm.RunString(resolveExports)
	if err != nil {
		return nil, fmt.Errorf("compiling export resolver: %w", err)
	}
	if run.exports, ok = goja.AssertFunction(resolver); !ok {
		return nil, errors.New("export resolver is not callable")
	}

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(name, run.console.write); err != nil {
			return nil, err
		}
	}
	exports := vm.NewObject()
	run.module = vm.NewObject()
	if err := run.module.Set("exports", exports); err != nil {
		return nil, err
	}
	for name, v := range map[string]any{
		"console": console,
		"module":  run.module,
		"exports": exports,
	} {
		if err := vm.Set(name, v); err != nil {
			return nil, err
		}
	}
	return run, nil
}

func (r *gojaRun) execute(prog Program, input []byte) (any, error) {
	if _, err := r.vm.RunScript("solution.js", prog.Code); err != nil {
		return nil, err
	}
	fn, err := r.entryPoint(prog)
	if err != nil {
		return nil, err
	}
	args, err := r.arguments(input)
	if err != nil {
		return nil, err
	}

	r.started = time.Now()
	ret, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, err
	}
	if ret, err = settle(ret); err != nil {
		return nil, err
	}
	return r.export(ret)
}

func (r *gojaRun) entryPoint(prog Program) (goja.Callable, error) {
	if prog.EntryPoint != "" && !identPattern.MatchString(prog.EntryPoint) {
		return nil, scriptError(fmt.Sprintf("Invalid function name %q", prog.EntryPoint))
	}
	if prog.EntryPoint == "" {
		v, err := r.exports(goja.Undefined(), r.module)
		if err != nil {
			return nil, err
		}
		if fn, ok := goja.AssertFunction(v); ok {
			return fn, nil
		}
	}
	for _, name := range entryCandidates(prog) {
		fn, err := r.lookup(name)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			return fn, nil
		}
	}
	if prog.EntryPoint != "" {
		return nil, scriptError(fmt.Sprintf("Function %q is not defined", prog.EntryPoint))
	}
	return nil, scriptError(MsgNoEntryPoint)
}

// lookup resolves a top-level binding, including let/const bindings which
// are not properties of the global object.
func (r *gojaRun) lookup(name string) (goja.Callable, error) {
	v, err := r.vm.RunString(fmt.Sprintf("typeof %[1]s === 'function' ? %[1]s : undefined", name))
	if err != nil {
		if isSyntaxError(err) {
			return nil, nil
		}
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, nil
	}
	return fn, nil
}

// arguments parses the JSON input inside the runtime. Arrays are spread
// positionally, null calls with no arguments, anything else is one argument.
func (r *gojaRun) arguments(input []byte) ([]goja.Value, error) {
	v, err := r.parse(goja.Undefined(), r.vm.ToValue(string(input)))
	if err != nil {
		return nil, err
	}
	if goja.IsNull(v) || goja.IsUndefined(v) {
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return []goja.Value{v}, nil
	}
	n := obj.Get("length").ToInteger()
	args := make([]goja.Value, 0, n)
	for i := int64(0); i < n; i++ {
		args = append(args, obj.Get(fmt.Sprint(i)))
	}
	return args, nil
}

func (r *gojaRun) export(v goja.Value) (any, error) {
	text, err := r.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if text == nil || goja.IsUndefined(text) {
		return nil, nil
	}
	out, err := decodeValue([]byte(text.String()))
	if err != nil {
		return nil, scriptError("Returned value could not be serialised")
	}
	return out, nil
}

// settle unwraps a promise returned by an async function. goja drains its
// job queue before a top-level call returns, so a promise that is still
// pending here will never settle.
func settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v, nil
	}
	p, ok := obj.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, scriptError("Uncaught (in promise) " + p.Result().String())
	default:
		return nil, scriptError("Promise did not settle")
	}
}

// isSyntaxError matches compile failures, which goja reports either directly
// or wrapped in a SyntaxError exception.
func isSyntaxError(err error) bool {
	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return strings.HasPrefix(ex.Value().String(), "SyntaxError")
	}
	return false
}

func describeError(err error) string {
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return MsgStackOverflow
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil && !goja.IsUndefined(v) {
			return v.String()
		}
	}
	return err.Error()
}

type consoleBuffer struct {
	max   int
	lines []string
}

func (c *consoleBuffer) write(call goja.FunctionCall) goja.Value {
	if len(c.lines) >= c.max {
		return goja.Undefined()
	}
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	c.lines = append(c.lines, strings.Join(parts, " "))
	return goja.Undefined()
}
