// Package model describes the data model for versioned assets:
// metadata attached to a stored version, identifiers handed back by
// storage backends, references to pre-existing backend content, and
// the records kept by the canonical version repository.
package model
