package cdc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Checksum returns a hex sha256 over the canonical JSON form of v.
// encoding/json writes map keys in sorted order, so the digest is a pure
// function of semantic content and independent of the source's enumeration
// order.
func Checksum(v any) (string, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(bs)
	return hex.EncodeToString(sum[:]), nil
}
