package graph

import (
	"strings"
)

// expand substitutes $NAME / ${NAME} references in s from vars.
// Referencing a name absent from vars is an error: a silently empty
// substitution would make the local and orchestrated renderings of the
// same config diverge.
func expand(s string, vars map[string]string) (string, error) {
	var missing []string
	out := expandRefs(s, func(name string) string {
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", buildErrorf(ErrUnknownVariable, "%s (in %q)", strings.Join(missing, ", "), s)
	}
	return out, nil
}

// expandRefs is os.Expand restricted to $NAME and ${NAME} forms; a
// literal "$$" escapes to "$".
func expandRefs(s string, mapping func(string) string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch {
		case s[i+1] == '$':
			b.WriteByte('$')
			i++
		case s[i+1] == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(s[i])
				continue
			}
			b.WriteString(mapping(s[i+2 : i+2+end]))
			i += 2 + end
		case isNameByte(s[i+1]):
			j := i + 1
			for j < len(s) && isNameByte(s[j]) {
				j++
			}
			b.WriteString(mapping(s[i+1 : j]))
			i = j - 1
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isNameByte(c byte) bool {
	return c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// cloneVars copies a variable namespace so per-commit additions do not
// leak between expanded steps.
func cloneVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		out[k] = v
	}
	return out
}
