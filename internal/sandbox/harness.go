package sandbox

// resultMarker prefixes the single JSON line the node harness prints.
const resultMarker = "__ASSESSOR_RESULT__"

// payloadEnv carries the base64 encoded harnessPayload into the container.
const payloadEnv = "ASSESSOR_PAYLOAD"

type harnessPayload struct {
	Code        string   `json:"code"`
	Input       string   `json:"input"`
	Candidates  []string `json:"candidates"`
	UseExports  bool     `json:"useExports"`
	MaxLogLines int      `json:"maxLogLines"`
	TimeoutMs   int64    `json:"timeoutMs"`
}

type harnessResult struct {
	OK     bool     `json:"ok"`
	Output any      `json:"output"`
	Error  string   `json:"error"`
	Time   float64  `json:"time"`
	Logs   []string `json:"logs"`
}

// nodeHarness evaluates the candidate code in a fresh vm context and calls
// the resolved entry point with the parsed input, following the same
// conventions as GojaRunner. The container is the isolation boundary; the
// vm context only keeps candidate globals apart from the harness.
const nodeHarness = `'use strict';
const vm = require('vm');
const MARKER = '` + resultMarker + `';
const payload = JSON.parse(Buffer.from(process.env.` + payloadEnv + `, 'base64').toString('utf8'));
const logs = [];
const push = (...a) => { if (logs.length < payload.maxLogLines) logs.push(a.map((x) => String(x)).join(' ')); };
const mod = { exports: {} };
const context = vm.createContext({
  console: { log: push, info: push, warn: push, error: push, debug: push },
  module: mod,
  exports: mod.exports,
});
let started = process.hrtime.bigint();
const elapsed = () => Number(process.hrtime.bigint() - started) / 1e9;
const emit = (r) => {
  r.logs = logs;
  process.stdout.write('\n' + MARKER + JSON.stringify(r) + '\n');
};
const fromExports = () => {
  const e = mod.exports;
  if (typeof e === 'function') return e;
  if (e !== null && typeof e === 'object') {
    const keys = Object.keys(e);
    for (let i = keys.length - 1; i >= 0; i--) {
      if (typeof e[keys[i]] === 'function') return e[keys[i]];
    }
  }
  return undefined;
};
const lookup = (name) => {
  try {
    return vm.runInContext('typeof ' + name + " === 'function' ? " + name + ' : undefined', context);
  } catch (e) {
    if (e && e.name === 'SyntaxError') return undefined;
    throw e;
  }
};
(async () => {
  try {
    vm.runInContext(payload.code, context, { filename: 'solution.js', timeout: payload.timeoutMs });
    let fn = payload.useExports ? fromExports() : undefined;
    for (const name of payload.candidates) {
      if (fn) break;
      fn = lookup(name);
    }
    if (!fn) {
      const named = payload.useExports ? '' : payload.candidates[0];
      emit({ ok: false, error: named ? 'Function "' + named + '" is not defined' : 'No function found in submitted code', time: elapsed() });
      return;
    }
    const input = JSON.parse(payload.input);
    const args = input === null ? [] : Array.isArray(input) ? input : [input];
    started = process.hrtime.bigint();
    let out = fn(...args);
    if (out !== null && typeof out === 'object' && typeof out.then === 'function') out = await out;
    const text = JSON.stringify(out);
    emit({ ok: true, output: text === undefined ? null : JSON.parse(text), time: elapsed() });
  } catch (e) {
    emit({ ok: false, error: String(e), time: elapsed() });
  }
})();
`
