package prompt

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Regular expressions for variable patterns.
var (
	// bracePattern matches ${name} and ${name:-default}. The default runs
	// to the first closing brace.
	bracePattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(:-([^}]*))?\}`)

	// dollarPattern matches $name followed by a non-word character or the
	// end of the string, so $port does not match inside $portNumber.
	dollarPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)(?:\b|$)`)

	// escapePattern matches $$, which renders a literal $.
	escapePattern = regexp.MustCompile(`\$\$`)
)

// escaped stands in for $$ while the patterns run.
const escaped = "\x00"

// MissingAction specifies how to handle variables with no value and no
// default.
type MissingAction int

const (
	// MissingError returns an *UndefinedVariableError. This is the default.
	MissingError MissingAction = iota

	// MissingKeep keeps the placeholder as written.
	MissingKeep

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty
)

// Expander expands variable references in prompt text.
//
// Create with NewExpander and configure with Option functions.
// Expander is safe for concurrent use after construction.
type Expander struct {
	missingAction MissingAction
	dollarStyle   bool
	defaults      map[string]any
}

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how missing variables are handled.
//
// Default: MissingError
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}

// WithDollarStyle enables or disables bare $var references. ${var} is
// always expanded.
//
// Default: false
func WithDollarStyle(enabled bool) Option {
	return func(e *Expander) {
		e.dollarStyle = enabled
	}
}

// WithDefaults sets values used for variables the input lacks. Inline
// ${var:-default} values take precedence over these.
func WithDefaults(vars map[string]any) Option {
	return func(e *Expander) {
		if e.defaults == nil {
			e.defaults = make(map[string]any, len(vars))
		}
		for k, v := range vars {
			e.defaults[k] = v
		}
	}
}

// NewExpander creates an Expander with the given options.
//
// Example:
//
//	exp := prompt.NewExpander(
//	    prompt.WithMissingAction(prompt.MissingKeep),
//	    prompt.WithDefaults(map[string]any{"tone": "neutral"}),
//	)
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missingAction: MissingError}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lookup resolves a variable: vars first, then the inline default, then
// the expander defaults.
func (e *Expander) lookup(name string, inline string, hasInline bool, vars map[string]any) (string, bool) {
	if v, ok := vars[name]; ok && v != nil {
		return fmt.Sprint(v), true
	}
	if hasInline {
		return inline, true
	}
	if v, ok := e.defaults[name]; ok {
		return fmt.Sprint(v), true
	}
	return "", false
}

// Expand expands the variable references in s.
//
// Example:
//
//	exp := prompt.NewExpander()
//	out, err := exp.Expand("Answer in ${lang:-English}: ${question}", map[string]any{
//	    "question": "what is a barrier?",
//	})
//	// out: "Answer in English: what is a barrier?"
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	miss := func(name, match string) string {
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			if !slices.Contains(missing, name) {
				missing = append(missing, name)
			}
		}
		return match
	}

	result := escapePattern.ReplaceAllString(s, escaped)
	result = bracePattern.ReplaceAllStringFunc(result, func(match string) string {
		m := bracePattern.FindStringSubmatch(match)
		if v, ok := e.lookup(m[1], m[3], m[2] != "", vars); ok {
			return v
		}
		return miss(m[1], match)
	})
	if e.dollarStyle {
		result = dollarPattern.ReplaceAllStringFunc(result, func(match string) string {
			name := match[1:]
			if v, ok := e.lookup(name, "", false, vars); ok {
				return v
			}
			return miss(name, match)
		})
	}
	result = strings.ReplaceAll(result, escaped, "$")

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// Variables returns the names referenced by s, in order of first use.
// Names with an inline default are included.
func (e *Expander) Variables(s string) []string {
	s = escapePattern.ReplaceAllString(s, escaped)
	var names []string
	add := func(name string) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	for _, m := range bracePattern.FindAllStringSubmatch(s, -1) {
		add(m[1])
	}
	if e.dollarStyle {
		for _, m := range dollarPattern.FindAllStringSubmatch(s, -1) {
			add(m[1])
		}
	}
	return names
}

// UndefinedVariableError is returned when MissingError is set and one or
// more variables have no value.
type UndefinedVariableError struct {
	// Names lists the undefined variables in order of first use.
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}
