package dispatch

import "strings"

// forbiddenScriptPatterns are substrings that disqualify a Macro's command
// script. The list is a superset of the single eval( check a minimal
// implementation would use, since scripts can reach the same capability
// through several APIs.
var forbiddenScriptPatterns = []string{
	"eval(",
	"localStorage",
	"sessionStorage",
	"Function(",
	"require(",
	"process.",
	"import(",
}

// CheckScript reports whether command is free of every forbidden pattern
// (ok is true); when it is not, matched names the first pattern found. It
// is a pure predicate with no side effects, invoked by the dispatcher only
// when entityType is "Macro".
func CheckScript(command string) (ok bool, matched string) {
	for _, pattern := range forbiddenScriptPatterns {
		if strings.Contains(command, pattern) {
			return false, pattern
		}
	}
	return true, ""
}
