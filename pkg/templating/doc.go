/*
Package templating manages a named set of Mustache templates for serving.

Page templates (*.tmpl.mustache) and partials (*.part.mustache) are loaded
from a template directory and, optionally, from a SQLite-backed store. Every
template is parsed when loaded, so syntax errors surface on Refresh rather
than on the first request, and a failed Refresh keeps the previous set.
Pages are executed by name with the loaded partials available to {{>name}}
tags.

The engine is configurable with safety limits (recursion depth, template
size) and supports hot-reloading of templates from the filesystem through a
polling Watcher, enabling easy updates post-deployment.
*/
package templating
