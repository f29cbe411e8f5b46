package functions

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Summarizer is implemented by results that know their one line summary.
type Summarizer interface {
	Summary() string
}

const maxSummaryLen = 120

// Summarize returns a short human readable description of result.
func Summarize(result any) string {
	switch r := result.(type) {
	case nil:
		return "no result"
	case Summarizer:
		return r.Summary()
	case error:
		return "error: " + r.Error()
	case string:
		return truncate(r)
	}
	b, err := sonic.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return truncate(string(b))
}

func truncate(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	cut := maxSummaryLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// ErrorResult is sent back when a call could not be served, so the remote
// side is never left waiting.
type ErrorResult struct {
	Error string `json:"error"`
}

func (r ErrorResult) Summary() string { return "error: " + r.Error }

func NewErrorResult(err error) ErrorResult {
	if err == nil {
		err = errors.New("unknown error")
	}
	return ErrorResult{Error: err.Error()}
}

// EncodeResult serializes a handler result into the function output string.
func EncodeResult(result any) (string, error) {
	if s, ok := result.(string); ok {
		return s, nil
	}
	b, err := sonic.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding function result: %w", err)
	}
	return string(b), nil
}

// DecodeArguments parses the JSON argument payload of a call. An empty
// payload decodes to an empty map.
func DecodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := sonic.UnmarshalString(raw, &args); err != nil {
		return map[string]any{}, fmt.Errorf("decoding function arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
