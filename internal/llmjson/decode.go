package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrUnparseable is returned when no recovery step yields valid JSON.
var ErrUnparseable = errors.New("model response is not parseable JSON")

// Recovery names the step that produced valid JSON.
type Recovery string

const (
	RecoveryNone       Recovery = "none"       // candidate was already valid
	RecoveryRepaired   Recovery = "repaired"   // truncation repair
	RecoveryNormalized Recovery = "normalized" // quote/escape normalization
	RecoveryLenient    Recovery = "lenient"    // jsonrepair
)

// Options tune Recover and Decode.
type Options struct {
	// Truncated is set when the model reported that it stopped at its
	// output limit.
	Truncated bool
	// Lenient enables a final pass through jsonrepair, which may insert
	// quotes, values and closers the model never wrote.
	Lenient bool
}

// Recover turns raw model output into valid JSON text.
func Recover(raw string, opts Options) (string, Recovery, error) {
	candidate := ExtractCandidate(raw)
	if validate(candidate) == nil {
		return candidate, RecoveryNone, nil
	}

	if NeedsRepair(candidate, opts.Truncated) {
		repaired := RepairTruncated(candidate)
		if validate(repaired) == nil {
			return repaired, RecoveryRepaired, nil
		}
	}

	normalized := Normalize(candidate)
	err := validate(normalized)
	if err == nil {
		return normalized, RecoveryNormalized, nil
	}

	if opts.Lenient {
		fixed, rerr := jsonrepair.JSONRepair(normalized)
		if rerr == nil && validate(fixed) == nil {
			return fixed, RecoveryLenient, nil
		}
	}

	return "", "", fmt.Errorf("%w: %w", ErrUnparseable, err)
}

// Decode recovers JSON from raw model output and unmarshals it into v.
// When the first candidate is an object that does not fit v, the greedy
// array span of raw is tried next, which recovers replies such as
// `Here you go: {"questions": [...]}` for a slice target. Every failure
// wraps ErrUnparseable.
func Decode(raw string, v any, opts Options) (Recovery, error) {
	text, rec, err := Recover(raw, opts)
	if err == nil {
		uerr := json.Unmarshal([]byte(text), v)
		if uerr == nil {
			return rec, nil
		}
		err = fmt.Errorf("%w: decode recovered JSON: %w", ErrUnparseable, uerr)
	}

	if strings.HasPrefix(ExtractCandidate(raw), "{") {
		if inner := arrayRe.FindString(raw); inner != "" && inner != text {
			alt, altRec, aerr := Recover(inner, opts)
			if aerr == nil && json.Unmarshal([]byte(alt), v) == nil {
				return altRec, nil
			}
		}
	}
	return rec, err
}

func validate(text string) error {
	var probe json.RawMessage
	return json.Unmarshal([]byte(text), &probe)
}
