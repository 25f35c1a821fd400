/*
Package prompt renders prompt templates as modules.

# Overview

A template references variables as ${name}. A reference may carry an
inline default, ${name:-default}, used when the variable is missing or
nil. $$ renders a literal dollar sign.

	ask := prompt.Template("ask", "Answer in ${lang:-English}.\n\n${question}")
	text, err := ask.Invoke(ctx, map[string]any{"question": "What is a barrier?"})

Template and Chat return module.Module values, so they compose with the
rest of the toolkit: pipe them into a model call or add them to a flow
with flowcore.AddNode after module.Erase.

# Variables

Variables come from the input map. Values bound under KeyVars with
Module.Bind fill in what the input lacks, and WithDefaults sets
per-template fallbacks:

	greet := prompt.Template("greet", "Hello ${name}",
	    prompt.WithDefaults(map[string]any{"name": "there"}))

# Missing Variables

By default a missing variable fails the call with an
*UndefinedVariableError, categorized as a fallback error so that
errors.WithFallbacks can try another template. WithMissingAction keeps
the placeholder or drops it instead:

	exp := prompt.NewExpander(prompt.WithMissingAction(prompt.MissingKeep))
	out, _ := exp.Expand("Hello ${missing}", nil)
	// out: "Hello ${missing}"

# Parsing Output

JSON decodes model output into a Go value, ignoring a code fence and any
prose around the JSON. Undecodable text fails with *errors.JSONParseError
and a missing required field with *errors.ValidationError:

	grade := prompt.JSON[Grade]("grade", "score")
	g, err := flowerrors.WithFallbacks(grade, lenient).Invoke(ctx, reply)

# Dollar Style

WithDollarStyle(true) also expands bare $name references. The pattern
requires a word boundary, so $port does not match inside $portNumber.

# Thread Safety

Expander is safe for concurrent use after construction.
*/
package prompt
