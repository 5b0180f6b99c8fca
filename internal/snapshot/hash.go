package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows a future
// change of algorithm without colliding with old hashes.
const (
	DomainObject    = "surrealkit/object/v1"
	DomainSnapshot  = "surrealkit/snapshot/v1"
	DomainMigration = "surrealkit/migration/v1"
	DomainFile      = "surrealkit/file/v1"
)

// HashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashCanonical canonicalizes v and hashes it under domain.
func HashCanonical(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return HashWithDomain(domain, data), nil
}

// ObjectHash computes the content hash of one schema object. Clauses and
// references are derived from the definition so they are not hashed.
func ObjectHash(o *Object) string {
	// all fields are strings so canonical marshaling cannot fail
	h, err := HashCanonical(DomainObject, map[string]any{
		"kind":       string(o.Kind),
		"scope":      o.Scope,
		"name":       o.Name,
		"definition": o.Definition,
	})
	if err != nil {
		panic(err)
	}
	return h
}
