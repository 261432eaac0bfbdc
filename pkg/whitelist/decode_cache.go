package whitelist

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
)

// decodeCache memoizes rules.DecodeBytes. A nil cache decodes every time.
type decodeCache struct {
	entries *lru.Cache
}

func newDecodeCache(size int) (*decodeCache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &decodeCache{entries: entries}, nil
}

func (d *decodeCache) decode(raw []byte) (*rules.DecodedRulesContainer, error) {
	if d == nil {
		return rules.DecodeBytes(raw)
	}
	key := crypto.Sha256Hex(raw)
	if v, ok := d.entries.Get(key); ok {
		return v.(*rules.DecodedRulesContainer), nil
	}
	c, err := rules.DecodeBytes(raw)
	if err != nil {
		return nil, err
	}
	d.entries.Add(key, c)
	return c, nil
}

func (d *decodeCache) len() int {
	if d == nil {
		return 0
	}
	return d.entries.Len()
}
