/*
Package templating provides the template language used to render Sundew
sites: an expression evaluator over a property-path data model, a registry of
builtin functions with memoization for pure functions, bounded partial
expansion and the resolver that picks which template answers a page request.

Templates are plain text with {{ ... }} tags:

	<h1>{{ page.title | htmlEscape }}</h1>
	{{ if page.tags }}{{ join ", " page.tags }}{{ end }}
	{{ for i, p in site.pages }}{{ loop.number }}. {{ p.title }}{{ end }}
	{{ partial "card" page }}

Functions may be called as name(a, b) or with bare arguments (name a b), and
a pipe passes the left value as the last argument of the next function.
Functions that transform a value therefore take it last.

The engine never fails a render because of missing data: unresolved paths,
unknown functions and malformed tags render as empty strings (collected as
warnings in strict mode). Only invalid function arguments are returned, as
*ArgumentError, so callers can decide whether a page is worth emitting.

For a complete list of functions, see Registry.FunctionList or run
"sundew functions".
*/
package templating
