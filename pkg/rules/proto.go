package rules

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
)

var (
	errNoKnownFields = errors.New("no known fields")
	errWireType      = errors.New("unexpected wire type")
)

// unmarshal parses b as the named message. Unknown fields are kept for
// forward compatibility, but a schema field sent with the wrong wire type is
// an error rather than an unknown field.
func unmarshal(name protoreflect.Name, b []byte) (pbMessage, error) {
	m := newMessage(name)
	if err := proto.Unmarshal(b, m.Interface()); err != nil {
		return pbMessage{}, err
	}
	if err := checkWireTypes(m.Message); err != nil {
		return pbMessage{}, err
	}
	return m, nil
}

func checkWireTypes(m protoreflect.Message) error {
	fields := m.Descriptor().Fields()
	for b := m.GetUnknown(); len(b) > 0; {
		num, typ, n := protowire.ConsumeField(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		if fields.ByNumber(num) != nil {
			return fmt.Errorf("field %d: %w %d", num, errWireType, typ)
		}
		b = b[n:]
	}

	var err error
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Message() == nil {
			return true
		}
		if fd.IsList() {
			l := v.List()
			for i := 0; i < l.Len() && err == nil; i++ {
				err = checkWireTypes(l.Get(i).Message())
			}
		} else {
			err = checkWireTypes(v.Message())
		}
		return err == nil
	})
	return err
}

// decodeProto parses a serialized RulesContainer. A message with no schema
// field set is rejected so arbitrary bytes do not pass as an empty policy.
func decodeProto(b []byte) (*DecodedRulesContainer, error) {
	m, err := unmarshal(msgContainer, b)
	if err != nil {
		return nil, err
	}
	populated := false
	m.Range(func(protoreflect.FieldDescriptor, protoreflect.Value) bool {
		populated = true
		return false
	})
	if !populated {
		return nil, errNoKnownFields
	}

	c := &DecodedRulesContainer{
		MinimumDistinctUserSignatures:  m.uint("minimum_distinct_user_signatures"),
		MinimumDistinctGroupSignatures: m.uint("minimum_distinct_group_signatures"),
		EnforcedRulesHash:              m.str("enforced_rules_hash"),
		Timestamp:                      m.int64("timestamp"),
		HSMSlotID:                      m.uint("hsm_slot_id"),
	}
	for i, um := range m.msgs("users") {
		u, err := decodeProtoUser(um)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", i, err)
		}
		c.Users = append(c.Users, u)
	}
	for _, gm := range m.msgs("groups") {
		c.Groups = append(c.Groups, RuleGroup{
			ID:      gm.str("id"),
			Name:    gm.str("name"),
			UserIDs: gm.strs("user_ids"),
		})
	}
	c.TransactionRules = decodeProtoRuleSets(m.msgs("transaction_rules"))
	c.AddressWhitelistingRules = decodeProtoRuleSets(m.msgs("address_whitelisting_rules"))
	c.ContractAddressWhitelistingRules = decodeProtoRuleSets(m.msgs("contract_address_whitelisting_rules"))
	c.normalize()
	return c, nil
}

func decodeProtoUser(m pbMessage) (RuleUser, error) {
	u := RuleUser{
		ID:    m.str("id"),
		Name:  m.str("name"),
		Roles: m.strs("roles"),
	}
	if err := u.setPublicKey(m.bytes("public_key")); err != nil {
		return u, err
	}
	return u, nil
}

func decodeProtoRuleSets(ms []pbMessage) []RuleSet {
	var out []RuleSet
	for _, m := range ms {
		rs := RuleSet{
			Key:                m.str("key"),
			Currency:           m.str("currency"),
			Blockchain:         m.str("blockchain"),
			Network:            m.str("network"),
			ParallelThresholds: decodeProtoParallel(m.msgs("parallel_thresholds")),
		}
		for _, lm := range m.msgs("lines") {
			src := lm.msg("source")
			rs.Lines = append(rs.Lines, RuleLine{
				Source: RuleSource{
					Type:               RuleSourceType(src.enum("type")),
					InternalWalletPath: src.str("internal_wallet_path"),
				},
				ParallelThresholds: decodeProtoParallel(lm.msgs("parallel_thresholds")),
			})
		}
		out = append(out, rs)
	}
	return out
}

func decodeProtoParallel(ms []pbMessage) ParallelThresholds {
	var out ParallelThresholds
	for _, sm := range ms {
		var seq SequentialThresholds
		for _, tm := range sm.msgs("thresholds") {
			seq.Thresholds = append(seq.Thresholds, GroupThreshold{
				GroupID:           tm.str("group_id"),
				MinimumSignatures: tm.uint("minimum_signatures"),
			})
		}
		out = append(out, seq)
	}
	return out
}

// setPublicKey parses PEM or DER key material; empty material leaves the
// user without a key (such a user can never contribute a valid signature).
func (u *RuleUser) setPublicKey(material []byte) error {
	if len(material) == 0 {
		return nil
	}
	pub, err := crypto.ParsePublicKey(material)
	if err != nil {
		return fmt.Errorf("user %q public key: %w", u.ID, err)
	}
	pemText, err := crypto.EncodePublicKeyPEM(pub)
	if err != nil {
		return fmt.Errorf("user %q public key: %w", u.ID, err)
	}
	u.PublicKey = pub
	u.PublicKeyPEM = pemText
	return nil
}

// Encode serializes c as a protobuf RulesContainer.
func Encode(c *DecodedRulesContainer) ([]byte, error) {
	m := newMessage(msgContainer)
	for _, u := range c.Users {
		um := m.add("users")
		um.setStr("id", u.ID)
		um.setStr("name", u.Name)
		um.setBytes("public_key", []byte(u.PublicKeyPEM))
		um.appendStrs("roles", u.Roles)
	}
	for _, g := range c.Groups {
		gm := m.add("groups")
		gm.setStr("id", g.ID)
		gm.setStr("name", g.Name)
		gm.appendStrs("user_ids", g.UserIDs)
	}
	m.setUint("minimum_distinct_user_signatures", c.MinimumDistinctUserSignatures)
	m.setUint("minimum_distinct_group_signatures", c.MinimumDistinctGroupSignatures)
	encodeRuleSets(m, "transaction_rules", c.TransactionRules)
	encodeRuleSets(m, "address_whitelisting_rules", c.AddressWhitelistingRules)
	encodeRuleSets(m, "contract_address_whitelisting_rules", c.ContractAddressWhitelistingRules)
	m.setStr("enforced_rules_hash", c.EnforcedRulesHash)
	m.setInt64("timestamp", c.Timestamp)
	m.setUint("hsm_slot_id", c.HSMSlotID)

	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(m.Interface())
	if err != nil {
		return nil, fmt.Errorf("encode rules container: %w", err)
	}
	return b, nil
}

func encodeRuleSets(m pbMessage, name protoreflect.Name, sets []RuleSet) {
	for _, rs := range sets {
		rm := m.add(name)
		rm.setStr("key", rs.Key)
		rm.setStr("currency", rs.Currency)
		rm.setStr("blockchain", rs.Blockchain)
		rm.setStr("network", rs.Network)
		encodeParallel(rm, "parallel_thresholds", rs.ParallelThresholds)
		for _, line := range rs.Lines {
			lm := rm.add("lines")
			src := lm.sub("source")
			src.setEnum("type", int(line.Source.Type))
			src.setStr("internal_wallet_path", line.Source.InternalWalletPath)
			encodeParallel(lm, "parallel_thresholds", line.ParallelThresholds)
		}
	}
}

func encodeParallel(m pbMessage, name protoreflect.Name, p ParallelThresholds) {
	for _, seq := range p {
		sm := m.add(name)
		for _, t := range seq.Thresholds {
			tm := sm.add("thresholds")
			tm.setStr("group_id", t.GroupID)
			tm.setUint("minimum_signatures", t.MinimumSignatures)
		}
	}
}

// EncodeUserSignatures serializes a UserSignatures batch. Signatures are
// base64 in memory and raw bytes on the wire.
func EncodeUserSignatures(sigs []UserSignature) ([]byte, error) {
	m := newMessage(msgUserSignatures)
	for _, s := range sigs {
		raw, err := decodeSignatureBytes(s.Signature)
		if err != nil {
			return nil, err
		}
		sm := m.add("signatures")
		sm.setStr("user_id", s.UserID)
		sm.setBytes("signature", raw)
		sm.setStr("comment", s.Comment)
		sm.appendStrs("hashes", s.Hashes)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(m.Interface())
	if err != nil {
		return nil, fmt.Errorf("encode user signatures: %w", err)
	}
	return b, nil
}
