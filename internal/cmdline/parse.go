package cmdline

import "strings"

// optionsWithParameter is the closed list of option letters (without the
// leading "/" or "-") that take a parameter, either inline in the same
// token or as the following token. Sorted longest-first so that, e.g.,
// "Fo" is matched before the single-letter "F".
var optionsWithParameter = sortedByLengthDesc([]string{
	"Ob", "Gs", "Fa", "Fd", "Fm", "Fp", "FR", "doc", "FA", "Fe", "Fo", "Fr",
	"AI", "FI", "FU", "D", "U", "I", "Zp", "vm", "MP", "Tc", "V", "wd", "wo",
	"W", "Yc", "Yl", "Tp", "we", "Yu", "Zm", "F",
})

func sortedByLengthDesc(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Parsed is the result of walking an expanded argument list.
type Parsed struct {
	// Options maps an option name (e.g. "D", "Fo", "Zi") to its list of
	// parameter values. Options with no parameter are present with an
	// empty (possibly zero-length) slice value.
	Options map[string][]string
	// Sources lists every non-option argument, in order.
	Sources []string
	// ResponseFiles lists "@file" arguments seen; response-file expansion
	// has already run by the time Parse sees them, so these are recorded
	// for diagnostics only and otherwise unused.
	ResponseFiles []string
}

// Has reports whether option name was present at all.
func (p *Parsed) Has(name string) bool {
	_, ok := p.Options[name]
	return ok
}

// First returns the first parameter value for option name, or "" if the
// option was not seen or carried no value.
func (p *Parsed) First(name string) string {
	vals, ok := p.Options[name]
	if !ok || len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Parse walks an already-expanded argument list (response files resolved,
// Tokenize already applied) and classifies each argument as an option, a
// response-file marker, or a source file.
func Parse(args []string) *Parsed {
	p := &Parsed{Options: make(map[string][]string)}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "@"):
			p.ResponseFiles = append(p.ResponseFiles, arg[1:])
		case strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, "-"):
			remainder := arg[1:]
			name, hasParam := matchOption(remainder)
			if !hasParam {
				if _, ok := p.Options[remainder]; !ok {
					p.Options[remainder] = []string{}
				}
				continue
			}
			inline := remainder[len(name):]
			if inline != "" {
				p.Options[name] = append(p.Options[name], inline)
				continue
			}
			if name == "MP" {
				// /MP's optional numeric suffix is always inline
				// (/MP2); a bare /MP never takes a following
				// argument as its parameter.
				p.Options[name] = append(p.Options[name], "")
				continue
			}
			if i+1 < len(args) {
				i++
				p.Options[name] = append(p.Options[name], args[i])
			} else {
				p.Options[name] = append(p.Options[name], "")
			}
		default:
			p.Sources = append(p.Sources, arg)
		}
	}
	return p
}

// matchOption finds the longest entry in optionsWithParameter that
// remainder starts with.
func matchOption(remainder string) (name string, ok bool) {
	for _, candidate := range optionsWithParameter {
		if strings.HasPrefix(remainder, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// stripOptions is the set of option-letter prefixes whose token is removed
// entirely when building the normalized command line: these influence the
// preprocessor (whose output is hashed separately, or is irrelevant to
// object content) or name the output path, which does not affect object
// content.
var stripOptions = sortedByLengthDesc([]string{
	"AI", "C", "E", "P", "FI", "u", "X", "FU", "D", "EP", "Fx", "U", "I", "Fo",
})

// NormalizedCommandLine drops every argument that is an option whose
// remainder (after the leading "/" or "-") begins with one of
// stripOptions, preserving the order of what remains.
func NormalizedCommandLine(args []string) []string {
	var out []string
	for _, arg := range args {
		if isStripped(arg) {
			continue
		}
		out = append(out, arg)
	}
	return out
}

func isStripped(arg string) bool {
	if !strings.HasPrefix(arg, "/") && !strings.HasPrefix(arg, "-") {
		return false
	}
	remainder := arg[1:]
	for _, prefix := range stripOptions {
		if strings.HasPrefix(remainder, prefix) {
			return true
		}
	}
	return false
}
