// Package snapshot is the normalized, content-hashable model of a schema.
//
// A Snapshot maps object identity (kind + optional table scope + name, e.g.
// "table:order" or "field:order.total") to an Object holding its normalized
// DEFINE statement, the parsed clauses, and its dependencies.
//
// # Hashing
//
// Object hashes are SHA-256 over a domain prefix, a null byte, and the RFC
// 8785 canonical JSON of the object's identity and definition. The snapshot
// hash covers the sorted identity -> hash mapping, so insertion order never
// affects it.
//
// # Persistence
//
// Two artifacts are kept under version control next to the schema sources:
// the catalog snapshot (Snapshot.Encode) and the source file set (FileSet),
// both indented JSON sorted for stable diffs.
package snapshot
