// Package rules decodes the governance rules container: the signed policy
// listing users, groups and the threshold trees that must approve each kind of
// operation.
//
// Groups and users live in flat lists; thresholds refer to them by ID and
// are resolved through lookups, never through pointers.
package rules

import (
	"crypto/ecdsa"
	"slices"
)

// Well-known user roles.
const (
	RoleSuperAdmin = "SUPERADMIN"
	RoleHSMSlot    = "HSMSLOT"
)

// RuleUser is a user declared in the container.
type RuleUser struct {
	ID           string           `json:"id"`
	Name         string           `json:"name,omitempty"`
	PublicKeyPEM string           `json:"publicKey,omitempty"`
	PublicKey    *ecdsa.PublicKey `json:"-"`
	Roles        []string         `json:"roles"`
}

// HasRole reports whether the user holds role.
func (u *RuleUser) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// RuleGroup is a named set of users.
type RuleGroup struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	UserIDs []string `json:"userIds"`
}

// HasMember reports whether userID belongs to the group.
func (g *RuleGroup) HasMember(userID string) bool {
	return slices.Contains(g.UserIDs, userID)
}

// GroupThreshold requires MinimumSignatures distinct members of GroupID.
type GroupThreshold struct {
	GroupID           string `json:"groupId"`
	MinimumSignatures int    `json:"minimumSignatures"`
}

// SequentialThresholds is one approval path: every threshold must be met.
type SequentialThresholds struct {
	Thresholds []GroupThreshold `json:"thresholds"`
}

// ParallelThresholds lists alternative paths: meeting any one is enough.
type ParallelThresholds []SequentialThresholds

// RuleSourceType says what a rule line applies to.
type RuleSourceType int

const (
	SourceUnknown RuleSourceType = iota
	SourceInternalWallet
	SourceAny
)

func (t RuleSourceType) String() string {
	switch t {
	case SourceInternalWallet:
		return "INTERNAL_WALLET"
	case SourceAny:
		return "ANY"
	default:
		return "UNKNOWN"
	}
}

// RuleSource identifies the origin a rule line overrides thresholds for.
type RuleSource struct {
	Type               RuleSourceType `json:"type"`
	InternalWalletPath string         `json:"internalWalletPath,omitempty"`
}

// RuleLine overrides the default thresholds of a RuleSet for one source.
type RuleLine struct {
	Source             RuleSource         `json:"source"`
	ParallelThresholds ParallelThresholds `json:"parallelThresholds"`
}

// MatchesWalletPath reports whether the line applies to a wallet path.
func (l *RuleLine) MatchesWalletPath(path string) bool {
	return l.Source.Type == SourceInternalWallet && path != "" && l.Source.InternalWalletPath == path
}

// RuleSet is one entry of a rule family (transaction, address whitelisting,
// contract whitelisting), keyed by currency/blockchain and network.
type RuleSet struct {
	Key                string             `json:"key,omitempty"`
	Currency           string             `json:"currency,omitempty"`
	Blockchain         string             `json:"blockchain,omitempty"`
	Network            string             `json:"network,omitempty"`
	ParallelThresholds ParallelThresholds `json:"parallelThresholds"`
	Lines              []RuleLine         `json:"lines,omitempty"`
}

// Chain returns the blockchain the set applies to; older containers only
// carry it as the currency.
func (r *RuleSet) Chain() string {
	if r.Blockchain != "" {
		return r.Blockchain
	}
	return r.Currency
}

// DecodedRulesContainer is the decoded governance policy. It is immutable
// once returned by Decode; callers must not modify it.
type DecodedRulesContainer struct {
	Users                            []RuleUser  `json:"users"`
	Groups                           []RuleGroup `json:"groups"`
	TransactionRules                 []RuleSet   `json:"transactionRules"`
	AddressWhitelistingRules         []RuleSet   `json:"addressWhitelistingRules"`
	ContractAddressWhitelistingRules []RuleSet   `json:"contractAddressWhitelistingRules"`
	MinimumDistinctUserSignatures    int         `json:"minimumDistinctUserSignatures"`
	MinimumDistinctGroupSignatures   int         `json:"minimumDistinctGroupSignatures"`
	EnforcedRulesHash                string      `json:"enforcedRulesHash,omitempty"`
	Timestamp                        int64       `json:"timestamp"`
	HSMSlotID                        int         `json:"hsmSlotId"`

	users  map[string]int
	groups map[string]int
}

// Empty returns a container with every list empty and every count zero.
func Empty() *DecodedRulesContainer {
	c := &DecodedRulesContainer{}
	c.normalize()
	return c
}

// User looks up a user by ID.
func (c *DecodedRulesContainer) User(id string) (*RuleUser, bool) {
	i, ok := c.users[id]
	if !ok {
		return nil, false
	}
	return &c.Users[i], true
}

// Group looks up a group by ID.
func (c *DecodedRulesContainer) Group(id string) (*RuleGroup, bool) {
	i, ok := c.groups[id]
	if !ok {
		return nil, false
	}
	return &c.Groups[i], true
}

// UsersWithRole returns the users holding role, in declaration order.
func (c *DecodedRulesContainer) UsersWithRole(role string) []*RuleUser {
	var out []*RuleUser
	for i := range c.Users {
		if c.Users[i].HasRole(role) {
			out = append(out, &c.Users[i])
		}
	}
	return out
}

// normalize replaces nil slices with empty ones and builds the ID indexes.
// The first declaration of a duplicated ID wins.
func (c *DecodedRulesContainer) normalize() {
	if c.Users == nil {
		c.Users = []RuleUser{}
	}
	if c.Groups == nil {
		c.Groups = []RuleGroup{}
	}
	if c.TransactionRules == nil {
		c.TransactionRules = []RuleSet{}
	}
	if c.AddressWhitelistingRules == nil {
		c.AddressWhitelistingRules = []RuleSet{}
	}
	if c.ContractAddressWhitelistingRules == nil {
		c.ContractAddressWhitelistingRules = []RuleSet{}
	}
	for i := range c.Users {
		if c.Users[i].Roles == nil {
			c.Users[i].Roles = []string{}
		}
	}
	for i := range c.Groups {
		if c.Groups[i].UserIDs == nil {
			c.Groups[i].UserIDs = []string{}
		}
	}

	c.users = make(map[string]int, len(c.Users))
	for i, u := range c.Users {
		if _, dup := c.users[u.ID]; !dup {
			c.users[u.ID] = i
		}
	}
	c.groups = make(map[string]int, len(c.Groups))
	for i, g := range c.Groups {
		if _, dup := c.groups[g.ID]; !dup {
			c.groups[g.ID] = i
		}
	}
}
