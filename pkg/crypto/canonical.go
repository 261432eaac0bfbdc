package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashesPayload returns the bytes a user signs when approving a set of
// hashes: the RFC 8785 canonical JSON array of the hash strings, in order.
func HashesPayload(hashes []string) ([]byte, error) {
	if hashes == nil {
		hashes = []string{}
	}
	raw, err := json.Marshal(hashes)
	if err != nil {
		return nil, fmt.Errorf("marshal hashes: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize hashes: %w", err)
	}
	return canonical, nil
}
