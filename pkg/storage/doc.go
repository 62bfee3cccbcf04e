// Package storage defines the uniform contract implemented by every
// asset storage backend, whatever the underlying technology: a
// content-addressed disk tree, a branch-per-version git repository,
// or a changelist server.
//
// Implementations live in subpackages (disk, branch, changelist) and
// return the sentinel errors declared in storage/status, so that
// callers can react to conditions (not found, unsupported reference,
// backend failure) without knowing which technology raised them.
package storage
