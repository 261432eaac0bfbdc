package whitelist

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const addressSchema = `{
  "type": "object",
  "required": ["address"],
  "properties": {
    "address": {"type": "string", "minLength": 1},
    "blockchain": {"type": ["string", "null"]},
    "currency": {"type": ["string", "null"]},
    "network": {"type": ["string", "null"]},
    "memo": {"type": ["string", "null"]},
    "label": {"type": ["string", "null"]},
    "customerId": {"type": ["string", "null"]},
    "contractType": {"type": ["string", "null"]},
    "addressType": {"type": ["string", "null"]},
    "linkedInternalAddresses": {"type": ["array", "null"], "items": {"type": "object"}},
    "linkedWallets": {"type": ["array", "null"], "items": {"type": "object"}}
  }
}`

const assetSchema = `{
  "type": "object",
  "required": ["contractAddress"],
  "properties": {
    "contractAddress": {"type": "string"},
    "blockchain": {"type": ["string", "null"]},
    "currency": {"type": ["string", "null"]},
    "network": {"type": ["string", "null"]},
    "name": {"type": ["string", "null"]},
    "symbol": {"type": ["string", "null"]},
    "decimals": {"type": ["integer", "null"], "minimum": 0},
    "kind": {"type": ["string", "null"]},
    "tokenId": {"type": ["string", "null"]}
  }
}`

var compiledSchemas = sync.OnceValues(func() (map[Kind]*jsonschema.Schema, error) {
	out := make(map[Kind]*jsonschema.Schema, 2)
	for kind, src := range map[Kind]string{KindAddress: addressSchema, KindAsset: assetSchema} {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://protect.schemas.local/whitelist/%s.schema.json", kind)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("%s schema load failed: %w", kind, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("%s schema compile failed: %w", kind, err)
		}
		out[kind] = s
	}
	return out, nil
})

// validatePayload checks the shape of a payload string before it is mapped
// onto a domain type.
func validatePayload(kind Kind, payload string) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return err
	}
	return schemas[kind].Validate(doc)
}
