package sandbox

import "regexp"

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

	// Matches `function name`, `async function name`, `function* name` and
	// `var|let|const name =`. Names that are not bound to a function at the
	// top level are filtered out by the runner.
	declPattern = regexp.MustCompile(`(?:^|[^\w$.])(?:function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(|(?:var|let|const)\s+([A-Za-z_$][\w$]*)\s*=)`)
)

// solutionName is the conventional entry point tried before falling back to
// the last declared function.
const solutionName = "solution"

// entryCandidates returns the binding names to try, in order, when looking
// for the function to call. An explicit entry point is the only candidate.
// Otherwise `solution` comes first, followed by every declared name from the
// last declaration to the first.
func entryCandidates(prog Program) []string {
	if prog.EntryPoint != "" {
		return []string{prog.EntryPoint}
	}
	names := declaredNames(prog.Code)
	out := make([]string, 0, len(names)+1)
	out = append(out, solutionName)
	seen := map[string]bool{solutionName: true}
	for i := len(names) - 1; i >= 0; i-- {
		if seen[names[i]] {
			continue
		}
		seen[names[i]] = true
		out = append(out, names[i])
	}
	return out
}

// declaredNames returns declared identifiers in source order.
func declaredNames(code string) []string {
	var names []string
	for _, m := range declPattern.FindAllStringSubmatch(code, -1) {
		switch {
		case m[1] != "":
			names = append(names, m[1])
		case m[2] != "":
			names = append(names, m[2])
		}
	}
	return names
}
