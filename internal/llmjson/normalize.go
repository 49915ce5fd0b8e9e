package llmjson

import (
	"fmt"
	"regexp"
	"strings"
)

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// scanState is the position of the normalizer relative to string literals.
type scanState int

const (
	stateOutside scanState = iota
	stateInString
	stateEscaped
)

func (s scanState) String() string {
	switch s {
	case stateOutside:
		return "outside"
	case stateInString:
		return "in-string"
	case stateEscaped:
		return "escaped"
	}
	return fmt.Sprintf("scanState(%d)", int(s))
}

// scanner rewrites a JSON candidate rune by rune.
type scanner struct {
	out    strings.Builder
	state  scanState
	resume scanState // state to return to after the escaped rune
}

func (sc *scanner) step(r rune) {
	// Typographic quotes are replaced everywhere, before the state machine
	// sees them, so a model that quotes keys with them still yields strings.
	switch r {
	case '“', '”':
		r = '"'
	case '’':
		r = '\''
	}

	switch sc.state {
	case stateEscaped:
		sc.out.WriteRune(r)
		sc.state = sc.resume

	case stateInString:
		switch {
		case r == '\\':
			sc.out.WriteRune(r)
			sc.resume = stateInString
			sc.state = stateEscaped
		case r == '"':
			sc.out.WriteRune(r)
			sc.state = stateOutside
		case r == '\n':
			sc.out.WriteString(`\n`)
		case r == '\r':
			sc.out.WriteString(`\r`)
		case r == '\t':
			sc.out.WriteString(`\t`)
		case r < 0x20:
			fmt.Fprintf(&sc.out, `\u%04x`, r)
		default:
			sc.out.WriteRune(r)
		}

	default:
		sc.out.WriteRune(r)
		switch r {
		case '\\':
			sc.resume = stateOutside
			sc.state = stateEscaped
		case '"':
			sc.state = stateInString
		}
	}
}

// Normalize fixes the quoting and escaping mistakes models make in JSON:
// typographic quotes, raw control characters inside string literals, and
// trailing commas before a closing brace or bracket.
//
// The trailing comma pass is a plain regular expression and also rewrites
// ", ]" or ", }" sequences that occur inside string values.
func Normalize(candidate string) string {
	sc := &scanner{}
	sc.out.Grow(len(candidate) + 16)
	for _, r := range candidate {
		sc.step(r)
	}
	return trailingCommaRe.ReplaceAllString(sc.out.String(), "$1")
}
