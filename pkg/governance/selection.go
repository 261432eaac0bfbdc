package governance

import "github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"

// FindAddressRules returns the address whitelisting rule set for a
// blockchain and network.
func FindAddressRules(c *rules.DecodedRulesContainer, blockchain, network string) (*rules.RuleSet, bool) {
	if c == nil {
		return nil, false
	}
	return findRuleSet(c.AddressWhitelistingRules, blockchain, network)
}

// FindContractRules returns the contract (asset) whitelisting rule set for a
// blockchain and network.
func FindContractRules(c *rules.DecodedRulesContainer, blockchain, network string) (*rules.RuleSet, bool) {
	if c == nil {
		return nil, false
	}
	return findRuleSet(c.ContractAddressWhitelistingRules, blockchain, network)
}

// findRuleSet prefers an exact blockchain and network match, then an entry for
// the blockchain with no network, then the wildcard entry with neither.
func findRuleSet(sets []rules.RuleSet, blockchain, network string) (*rules.RuleSet, bool) {
	match := func(chain, net string) (*rules.RuleSet, bool) {
		for i := range sets {
			if sets[i].Chain() == chain && sets[i].Network == net {
				return &sets[i], true
			}
		}
		return nil, false
	}
	if blockchain != "" {
		if rs, ok := match(blockchain, network); ok {
			return rs, true
		}
		if network != "" {
			if rs, ok := match(blockchain, ""); ok {
				return rs, true
			}
		}
	}
	return match("", "")
}

// SelectThresholds picks the thresholds that apply to an envelope. When the
// envelope links no internal address and exactly one wallet, a rule line
// for that wallet's path overrides the rule set's defaults.
func SelectThresholds(rs *rules.RuleSet, walletPaths []string, internalAddresses int) rules.ParallelThresholds {
	if rs == nil {
		return nil
	}
	if internalAddresses == 0 && len(walletPaths) == 1 {
		for i := range rs.Lines {
			if rs.Lines[i].MatchesWalletPath(walletPaths[0]) {
				return rs.Lines[i].ParallelThresholds
			}
		}
	}
	return rs.ParallelThresholds
}
