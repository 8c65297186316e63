package quiz

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// AnswerKind tags the typed value a solver response normalized into.
type AnswerKind int

const (
	AnswerString AnswerKind = iota
	AnswerBool
	AnswerInt
	AnswerFloat
	AnswerStructured
)

// Answer is the typed value submitted to the judge. Exactly one field is
// meaningful, selected by Kind.
type Answer struct {
	Kind       AnswerKind
	Bool       bool
	Int        int64
	Float      float64
	Str        string
	Structured any
}

func BoolAnswer(v bool) Answer      { return Answer{Kind: AnswerBool, Bool: v} }
func IntAnswer(v int64) Answer      { return Answer{Kind: AnswerInt, Int: v} }
func FloatAnswer(v float64) Answer  { return Answer{Kind: AnswerFloat, Float: v} }
func StringAnswer(v string) Answer  { return Answer{Kind: AnswerString, Str: v} }
func StructuredAnswer(v any) Answer { return Answer{Kind: AnswerStructured, Structured: v} }

// Value returns the answer as the plain value the JSON body carries.
func (a Answer) Value() any {
	switch a.Kind {
	case AnswerBool:
		return a.Bool
	case AnswerInt:
		return a.Int
	case AnswerFloat:
		return a.Float
	case AnswerStructured:
		return a.Structured
	default:
		return a.Str
	}
}

func (a Answer) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Value())
}

// String renders the answer for logs and stored step results.
func (a Answer) String() string {
	switch a.Kind {
	case AnswerBool:
		return strconv.FormatBool(a.Bool)
	case AnswerInt:
		return strconv.FormatInt(a.Int, 10)
	case AnswerFloat:
		return strconv.FormatFloat(a.Float, 'f', -1, 64)
	case AnswerStructured:
		encoded, err := json.Marshal(a.Structured)
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		return a.Str
	}
}

var (
	integerRE = regexp.MustCompile(`^-?\d+$`)
	decimalRE = regexp.MustCompile(`^-?\d+\.?\d*$`)
)

// Normalize converts raw solver output into a typed Answer. It is total:
// anything that matches no earlier rule is returned verbatim as a string.
//
// The ordering is load-bearing: a JSON object carrying an "answer" key is
// unwrapped before generic JSON so a solver that echoed the whole payload
// does not get the payload submitted wholesale, and integers are recognized
// before floats.
func Normalize(raw string) Answer {
	text := stripCodeFence(strings.TrimSpace(raw))

	if strings.HasPrefix(text, "{") && strings.Contains(text, `"answer"`) {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			if value, ok := parsed["answer"]; ok {
				return fromJSONValue(value)
			}
		}
	}

	switch strings.ToLower(text) {
	case "true":
		return BoolAnswer(true)
	case "false":
		return BoolAnswer(false)
	}

	if integerRE.MatchString(text) {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return IntAnswer(n)
		}
	}
	if decimalRE.MatchString(text) {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return FloatAnswer(f)
		}
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return fromJSONValue(parsed)
	}

	return StringAnswer(text)
}

// fromJSONValue types a decoded JSON value. Whole numbers decode as float64
// in Go; they are restored to integers to avoid submitting "42" as "42.0".
func fromJSONValue(value any) Answer {
	switch typed := value.(type) {
	case bool:
		return BoolAnswer(typed)
	case float64:
		if typed == math.Trunc(typed) && !math.IsInf(typed, 0) {
			return IntAnswer(int64(typed))
		}
		return FloatAnswer(typed)
	case string:
		return StringAnswer(typed)
	default:
		return StructuredAnswer(typed)
	}
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
