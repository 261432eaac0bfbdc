// Package governancetest builds signed rules containers and envelopes with
// real P-256 keys for tests.
package governancetest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
)

// Builder is a fluent helper for constructing a governance setup.
type Builder struct {
	superAdmins   int
	users         []pendingUser
	groups        []rules.RuleGroup
	addressRules  []rules.RuleSet
	contractRules []rules.RuleSet
	hsmSlotID     int
	minUsers      int
	jsonEncoding  bool
	err           error
}

type pendingUser struct {
	id    string
	roles []string
}

// New starts a setup with two SuperAdmins.
func New() *Builder {
	return &Builder{superAdmins: 2}
}

// WithSuperAdmins sets how many SuperAdmin keys are generated.
func (b *Builder) WithSuperAdmins(n int) *Builder {
	b.superAdmins = n
	return b
}

// WithUser declares a user; a key pair is generated on Build.
func (b *Builder) WithUser(id string, roles ...string) *Builder {
	b.users = append(b.users, pendingUser{id: id, roles: roles})
	return b
}

// WithUsers declares several users with the default role.
func (b *Builder) WithUsers(ids ...string) *Builder {
	for _, id := range ids {
		b.WithUser(id, "USER")
	}
	return b
}

// WithGroup declares a group of users.
func (b *Builder) WithGroup(id string, members ...string) *Builder {
	b.groups = append(b.groups, rules.RuleGroup{ID: id, Name: id, UserIDs: members})
	return b
}

// WithAddressRules adds an address whitelisting rule set.
func (b *Builder) WithAddressRules(blockchain, network string, paths ...rules.SequentialThresholds) *Builder {
	b.addressRules = append(b.addressRules, rules.RuleSet{
		Currency:           blockchain,
		Blockchain:         blockchain,
		Network:            network,
		ParallelThresholds: paths,
	})
	return b
}

// WithAddressRuleLine adds a wallet path override to the last address rule set.
func (b *Builder) WithAddressRuleLine(walletPath string, paths ...rules.SequentialThresholds) *Builder {
	if len(b.addressRules) == 0 {
		b.err = errors.New("governancetest: WithAddressRuleLine before WithAddressRules")
		return b
	}
	rs := &b.addressRules[len(b.addressRules)-1]
	rs.Lines = append(rs.Lines, rules.RuleLine{
		Source:             rules.RuleSource{Type: rules.SourceInternalWallet, InternalWalletPath: walletPath},
		ParallelThresholds: paths,
	})
	return b
}

// WithContractRules adds a contract (asset) whitelisting rule set.
func (b *Builder) WithContractRules(blockchain, network string, paths ...rules.SequentialThresholds) *Builder {
	b.contractRules = append(b.contractRules, rules.RuleSet{
		Blockchain:         blockchain,
		Network:            network,
		ParallelThresholds: paths,
	})
	return b
}

// WithHSMSlot sets the container's HSM slot id.
func (b *Builder) WithHSMSlot(id int) *Builder {
	b.hsmSlotID = id
	return b
}

// WithMinimumDistinctUserSignatures sets the container-wide counter.
func (b *Builder) WithMinimumDistinctUserSignatures(n int) *Builder {
	b.minUsers = n
	return b
}

// WithJSONEncoding encodes the container in the legacy JSON form instead of
// protobuf.
func (b *Builder) WithJSONEncoding() *Builder {
	b.jsonEncoding = true
	return b
}

// Build generates the keys, encodes the container and decodes it back.
func (b *Builder) Build() (*Governance, error) {
	if b.err != nil {
		return nil, b.err
	}

	g := &Governance{users: make(map[string]*crypto.P256Signer)}
	container := &rules.DecodedRulesContainer{
		Groups:                           b.groups,
		AddressWhitelistingRules:         b.addressRules,
		ContractAddressWhitelistingRules: b.contractRules,
		MinimumDistinctUserSignatures:    b.minUsers,
		HSMSlotID:                        b.hsmSlotID,
		Timestamp:                        1700000000,
	}

	for i := 0; i < b.superAdmins; i++ {
		id := fmt.Sprintf("superadmin-%d", i+1)
		s, err := crypto.NewP256Signer(id)
		if err != nil {
			return nil, fmt.Errorf("superadmin key: %w", err)
		}
		pemText, err := s.PublicKeyPEM()
		if err != nil {
			return nil, err
		}
		g.superAdmins = append(g.superAdmins, s)
		g.superAdminPEMs = append(g.superAdminPEMs, pemText)
		container.Users = append(container.Users, rules.RuleUser{
			ID:           id,
			PublicKeyPEM: pemText,
			Roles:        []string{rules.RoleSuperAdmin},
		})
	}

	for _, u := range b.users {
		s, err := crypto.NewP256Signer(u.id)
		if err != nil {
			return nil, fmt.Errorf("user %s key: %w", u.id, err)
		}
		g.users[u.id] = s
		pemText, err := s.PublicKeyPEM()
		if err != nil {
			return nil, err
		}
		container.Users = append(container.Users, rules.RuleUser{
			ID:           u.id,
			Name:         u.id,
			PublicKeyPEM: pemText,
			Roles:        u.roles,
		})
	}

	if b.jsonEncoding {
		raw, err := json.Marshal(container)
		if err != nil {
			return nil, fmt.Errorf("encode container: %w", err)
		}
		g.Raw = raw
	} else {
		raw, err := rules.Encode(container)
		if err != nil {
			return nil, err
		}
		g.Raw = raw
	}
	g.Encoded = base64.StdEncoding.EncodeToString(g.Raw)

	decoded, err := rules.DecodeBytes(g.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode built container: %w", err)
	}
	g.Container = decoded
	return g, nil
}

// Path builds one sequential approval path.
func Path(thresholds ...rules.GroupThreshold) rules.SequentialThresholds {
	return rules.SequentialThresholds{Thresholds: thresholds}
}

// Need requires n distinct approvals from group.
func Need(group string, n int) rules.GroupThreshold {
	return rules.GroupThreshold{GroupID: group, MinimumSignatures: n}
}
