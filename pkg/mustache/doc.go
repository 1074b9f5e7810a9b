/*
Package mustache is a Mustache template engine. Templates are compiled once
into an immutable, index-addressed node list and cached by their source text
and starting delimiters, then rendered against a stack of view values.

The full tag grammar is supported: escaped and unescaped interpolation,
sections and inverted sections, lambdas, partials, comments and in-template
delimiter changes, including the standalone-line whitespace rules.

	r := mustache.New()
	out, err := r.Render("Hello, {{subject}}!", map[string]any{"subject": "world"})
	if err != nil {
		// handle error
	}

Partials are supplied per call or through a Loader:

	out, err := r.RenderWithPartials("{{>header}}", view, map[string]string{
		"header": "<h1>{{title}}</h1>",
	})

A Renderer and its Cache are safe for concurrent use.
*/
package mustache
