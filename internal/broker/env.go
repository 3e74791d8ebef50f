package broker

import "strings"

// DefaultScrubVars are the credential-shadowing variables removed from every
// spawn environment. With these present the CLI would bill against the raw
// API key instead of its own stored credential.
var DefaultScrubVars = []string{
	"ANTHROPIC_API_KEY",
	"ANTHROPIC_AUTH_TOKEN",
}

// SanitizeEnv returns a copy of base with every variable named in scrub
// removed. The input slice is never mutated. Variable-name comparison is
// exact (environment names are case-sensitive on the platforms we target).
func SanitizeEnv(base []string, scrub []string) []string {
	if len(scrub) == 0 {
		out := make([]string, len(base))
		copy(out, base)
		return out
	}
	drop := make(map[string]struct{}, len(scrub))
	for _, name := range scrub {
		drop[name] = struct{}{}
	}
	out := make([]string, 0, len(base))
	for _, kv := range base {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		if _, shadowed := drop[name]; shadowed {
			continue
		}
		out = append(out, kv)
	}
	return out
}
