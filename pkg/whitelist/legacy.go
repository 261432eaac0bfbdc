package whitelist

import (
	"regexp"
	"strings"
)

var (
	contractTypeField = regexp.MustCompile(`,"contractType":"(?:[^"\\]|\\.)*"`)
	labelField        = regexp.MustCompile(`,"label":"(?:[^"\\]|\\.)*"`)
)

const linkedInternalAddressesKey = `"linkedInternalAddresses":[`

// legacyPayloads returns the payload as older schema versions serialized it,
// in the order their hashes are tried: without contractType, without the
// labels of linked internal addresses, and without both. Variants identical
// to the payload are skipped.
func legacyPayloads(payload string) []string {
	noContractType := contractTypeField.ReplaceAllString(payload, "")
	noLabels := stripLinkedAddressLabels(payload)
	noBoth := stripLinkedAddressLabels(noContractType)

	var out []string
	seen := map[string]struct{}{payload: {}}
	for _, v := range []string{noContractType, noLabels, noBoth} {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// stripLinkedAddressLabels removes "label" members only inside the
// linkedInternalAddresses array; the top-level label is kept.
func stripLinkedAddressLabels(payload string) string {
	start := strings.Index(payload, linkedInternalAddressesKey)
	if start < 0 {
		return payload
	}
	open := start + len(linkedInternalAddressesKey) - 1
	end := matchingBracket(payload, open)
	if end < 0 {
		return payload
	}
	inner := labelField.ReplaceAllString(payload[open:end+1], "")
	return payload[:open] + inner + payload[end+1:]
}

// matchingBracket returns the index of the bracket closing s[open], skipping
// string contents, or -1.
func matchingBracket(s string, open int) int {
	depth := 0
	inString := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
