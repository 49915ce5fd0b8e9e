// Package llmjson recovers JSON payloads from generative model output.
//
// Models asked for JSON routinely wrap it in Markdown fences, add prose around
// it, use typographic quotes, leave raw newlines inside string literals, emit
// trailing commas, or stop mid-structure when they hit the output limit. The
// functions here reshape what the model emitted until a JSON parser accepts
// it. They only touch quoting, escaping, whitespace and bracket balance; they
// never add values of their own (except in lenient mode, see Options).
package llmjson

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	jsonFenceRe = regexp.MustCompile("(?is)```json\\s*(.*?)```")
	anyFenceRe  = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*\\s*(.*?)```")
	arrayRe     = regexp.MustCompile(`(?s)\[.*\]`)
)

// ExtractCandidate returns the substring of raw most likely to hold the JSON
// payload. Candidates are tried in priority order:
//
//  1. raw itself, when it already is valid JSON
//  2. the body of a ```json fenced block
//  3. the body of any fenced block
//  4. the greedy span of the top-level value: first '[' to last ']', or
//     first '{' to last '}' when a brace opens before any bracket
//  5. everything from the first opener onward, when its closer never appears
//
// When nothing matches, raw is returned unchanged. Failure is left to the
// parser.
func ExtractCandidate(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return trimmed
	}

	if m := jsonFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}

	open := strings.IndexAny(raw, "[{")
	if open < 0 {
		return raw
	}
	if raw[open] == '{' {
		if end := strings.LastIndex(raw, "}"); end > open {
			return raw[open : end+1]
		}
	} else if m := arrayRe.FindString(raw); m != "" {
		return m
	}

	// Output cut off before the closer: keep the open tail so that
	// RepairTruncated has something to balance.
	return strings.TrimSpace(raw[open:])
}
