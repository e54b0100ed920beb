/*
Package dsl provides a fluent Go builder for Parley graph definitions.

It is an alternative to YAML or JSON documents for dynamic graph generation
and tests, and it keeps node payload keys in one place.

Example usage:

	b := dsl.New("welcome", 1).Company("acme")

	b.Start("start").Go("ask_email")

	b.Question("ask_email", "Hi {{name}}! What's your email?").
		SaveTo("email").
		Validate("email").
		Go("thanks")

	b.Message("thanks", "Thanks, we'll write to {{email}}.").Go("end")

	b.End("end", "")

	graph, err := b.Build() // validated with graphcheck
*/
package dsl
