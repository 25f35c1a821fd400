package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	flowerrors "github.com/randalmurphal/flowcore/pkg/flowcore/errors"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// JSON returns a Module decoding model output into T. Text around the
// JSON value and a Markdown code fence are ignored.
//
// Output that does not decode fails with *errors.JSONParseError. An object
// missing one of the required top-level fields, or holding a value of the
// wrong type, fails with *errors.ValidationError. Both are fallback
// errors, so errors.WithFallbacks can hand the text to another parser.
//
// Example:
//
//	type Grade struct {
//	    Score  int    `json:"score"`
//	    Reason string `json:"reason"`
//	}
//	grade := prompt.JSON[Grade]("grade", "score")
//	g, err := grade.Invoke(ctx, "```json\n{\"score\": 4, \"reason\": \"cites sources\"}\n```")
func JSON[T any](name string, required ...string) module.Module[string, T] {
	return module.Func(name, func(_ context.Context, text string) (T, error) {
		var out T
		raw := extractJSON(text)

		if len(required) > 0 {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal([]byte(raw), &fields); err != nil {
				return out, parseError(name, raw, err)
			}
			for _, field := range required {
				v, ok := fields[field]
				if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
					return out, &flowerrors.ValidationError{Parser: name, Field: field, Message: "required field is missing"}
				}
			}
		}

		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return out, &flowerrors.ValidationError{
					Parser:  name,
					Field:   typeErr.Field,
					Message: "expected " + typeErr.Type.String() + ", got " + typeErr.Value,
				}
			}
			return out, parseError(name, raw, err)
		}
		return out, nil
	}, module.WithMetadata(map[string]any{"required": required}))
}

func parseError(name, raw string, err error) error {
	perr := &flowerrors.JSONParseError{Parser: name, Input: raw, Err: err}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		perr.Offset = syntaxErr.Offset
	}
	return perr
}

// extractJSON strips a code fence and any prose around the outermost
// object or array of text.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		_, body, found := strings.Cut(rest, "\n")
		if !found {
			body = ""
		}
		body, _, _ = strings.Cut(body, "```")
		s = strings.TrimSpace(body)
	}
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
