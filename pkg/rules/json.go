package rules

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var errNotJSONObject = errors.New("not a JSON object")

// decodeJSON parses the legacy JSON form of the rules container.
func decodeJSON(b []byte) (*DecodedRulesContainer, error) {
	if !utf8.Valid(b) {
		return nil, errors.New("invalid UTF-8")
	}
	trimmed := strings.TrimSpace(string(b))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, errNotJSONObject
	}
	root, err := parseObject(json.RawMessage(trimmed))
	if err != nil {
		return nil, err
	}

	c := &DecodedRulesContainer{}

	users, err := root.objects("users")
	if err != nil {
		return nil, err
	}
	for i, uo := range users {
		u, err := decodeJSONUser(uo)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", i, err)
		}
		c.Users = append(c.Users, u)
	}

	groups, err := root.objects("groups")
	if err != nil {
		return nil, err
	}
	for i, gobj := range groups {
		var g RuleGroup
		if g.ID, err = gobj.string("id"); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		if g.Name, err = gobj.string("name"); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		if g.UserIDs, err = gobj.strings("userIds"); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		c.Groups = append(c.Groups, g)
	}

	families := []struct {
		name string
		dst  *[]RuleSet
	}{
		{"transactionRules", &c.TransactionRules},
		{"addressWhitelistingRules", &c.AddressWhitelistingRules},
		{"contractAddressWhitelistingRules", &c.ContractAddressWhitelistingRules},
	}
	for _, fam := range families {
		sets, err := root.objects(fam.name)
		if err != nil {
			return nil, err
		}
		for i, so := range sets {
			rs, err := decodeJSONRuleSet(so)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", fam.name, i, err)
			}
			*fam.dst = append(*fam.dst, rs)
		}
	}

	var n int64
	if n, err = root.int("minimumDistinctUserSignatures"); err != nil {
		return nil, err
	}
	c.MinimumDistinctUserSignatures = int(n)
	if n, err = root.int("minimumDistinctGroupSignatures"); err != nil {
		return nil, err
	}
	c.MinimumDistinctGroupSignatures = int(n)
	if n, err = root.int("hsmSlotId"); err != nil {
		return nil, err
	}
	c.HSMSlotID = int(n)
	if c.Timestamp, err = root.int("timestamp"); err != nil {
		return nil, err
	}
	if c.EnforcedRulesHash, err = root.string("enforcedRulesHash"); err != nil {
		return nil, err
	}

	c.normalize()
	return c, nil
}

func decodeJSONUser(o jsonObject) (RuleUser, error) {
	var u RuleUser
	var err error
	if u.ID, err = o.string("id"); err != nil {
		return u, err
	}
	if u.Name, err = o.string("name"); err != nil {
		return u, err
	}
	if u.Roles, err = o.strings("roles"); err != nil {
		return u, err
	}
	key, err := o.string("publicKey")
	if err != nil {
		return u, err
	}
	if key == "" {
		return u, nil
	}
	material := []byte(key)
	if !strings.Contains(key, "-----BEGIN") {
		// Bare base64 DER.
		der, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return u, fmt.Errorf("user %q public key: %w", u.ID, err)
		}
		material = der
	}
	return u, u.setPublicKey(material)
}

func decodeJSONRuleSet(o jsonObject) (RuleSet, error) {
	var rs RuleSet
	var err error
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"key", &rs.Key},
		{"currency", &rs.Currency},
		{"blockchain", &rs.Blockchain},
		{"network", &rs.Network},
	} {
		if *f.dst, err = o.string(f.name); err != nil {
			return rs, err
		}
	}
	if rs.ParallelThresholds, err = decodeJSONParallel(o); err != nil {
		return rs, err
	}

	lines, err := o.objects("lines")
	if err != nil {
		return rs, err
	}
	for i, lo := range lines {
		line, err := decodeJSONLine(lo)
		if err != nil {
			return rs, fmt.Errorf("line %d: %w", i, err)
		}
		rs.Lines = append(rs.Lines, line)
	}
	return rs, nil
}

func decodeJSONLine(o jsonObject) (RuleLine, error) {
	var line RuleLine
	src, err := o.object("source")
	if err != nil {
		return line, err
	}
	if src == nil {
		// Shorthand: the wallet path sits on the line itself.
		src = o
	}
	if line.Source, err = decodeJSONSource(src); err != nil {
		return line, err
	}
	line.ParallelThresholds, err = decodeJSONParallel(o)
	return line, err
}

func decodeJSONSource(o jsonObject) (RuleSource, error) {
	var src RuleSource
	path, err := o.string("internalWalletPath")
	if err != nil {
		return src, err
	}
	if path == "" {
		if path, err = o.string("walletPath"); err != nil {
			return src, err
		}
	}
	src.InternalWalletPath = path

	raw, ok := o.get("type")
	switch {
	case ok:
		var name string
		if json.Unmarshal(raw, &name) == nil {
			src.Type = parseSourceType(name)
		} else {
			n, err := o.int("type")
			if err != nil {
				return src, err
			}
			src.Type = RuleSourceType(n)
		}
	case path != "":
		src.Type = SourceInternalWallet
	}
	return src, nil
}

func parseSourceType(name string) RuleSourceType {
	switch strings.TrimPrefix(strings.ToUpper(name), "RULE_SOURCE_TYPE_") {
	case "INTERNAL_WALLET", "INTERNALWALLET", "RULESOURCEINTERNALWALLET":
		return SourceInternalWallet
	case "ANY", "RULESOURCEANY":
		return SourceAny
	default:
		return SourceUnknown
	}
}

// decodeJSONParallel reads "parallelThresholds". Each entry is either the
// nested form {"thresholds":[...]} or a flat {"groupId","minimumSignatures"}
// threshold, which becomes a single-element path.
func decodeJSONParallel(o jsonObject) (ParallelThresholds, error) {
	entries, err := o.objects("parallelThresholds")
	if err != nil {
		return nil, err
	}
	var out ParallelThresholds
	for i, e := range entries {
		var seq SequentialThresholds
		if e.has("thresholds") {
			items, err := e.objects("thresholds")
			if err != nil {
				return nil, fmt.Errorf("parallelThresholds[%d]: %w", i, err)
			}
			for j, it := range items {
				gt, err := decodeJSONGroupThreshold(it)
				if err != nil {
					return nil, fmt.Errorf("parallelThresholds[%d][%d]: %w", i, j, err)
				}
				seq.Thresholds = append(seq.Thresholds, gt)
			}
		} else if e.has("groupId") {
			gt, err := decodeJSONGroupThreshold(e)
			if err != nil {
				return nil, fmt.Errorf("parallelThresholds[%d]: %w", i, err)
			}
			seq.Thresholds = []GroupThreshold{gt}
		}
		out = append(out, seq)
	}
	return out, nil
}

func decodeJSONGroupThreshold(o jsonObject) (GroupThreshold, error) {
	var gt GroupThreshold
	var err error
	if gt.GroupID, err = o.string("groupId"); err != nil {
		return gt, err
	}
	n, err := o.int("minimumSignatures")
	if err != nil {
		return gt, err
	}
	if n < 0 {
		return gt, fmt.Errorf("negative minimumSignatures %d", n)
	}
	gt.MinimumSignatures = int(n)
	return gt, nil
}
