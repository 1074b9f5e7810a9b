/*
Package store keeps Mustache template sources in a SQLite database.

Templates are stored by name together with their kind (page or partial).
Every write is checked by parsing the source first, so a stored template is
always renderable. A Store implements mustache.Loader and can be used
directly as a partial loader:

	r := mustache.New(mustache.WithPartialLoader(st))

The package only uses database/sql; the caller chooses and registers the
driver.
*/
package store
