package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// referenceSchema builds the RulesContainer schema as a descriptor so the
// official protobuf runtime can serialize messages independently of Encode.
func referenceSchema(t *testing.T) protoreflect.FileDescriptor {
	t.Helper()

	field := func(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, repeated bool, typeName string) *descriptorpb.FieldDescriptorProto {
		label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		if repeated {
			label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		}
		f := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(num),
			Label:  label.Enum(),
			Type:   typ.Enum(),
		}
		if typeName != "" {
			f.TypeName = proto.String(typeName)
		}
		return f
	}
	const (
		tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		tUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		tInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
		tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("reference/rules_container.proto"),
		Package: proto.String("protect.rules"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("RuleUser"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("id", 1, tString, false, ""),
					field("name", 2, tString, false, ""),
					field("public_key", 3, tBytes, false, ""),
					field("roles", 4, tString, true, ""),
				},
			},
			{
				Name: proto.String("RuleGroup"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("id", 1, tString, false, ""),
					field("name", 2, tString, false, ""),
					field("user_ids", 3, tString, true, ""),
				},
			},
			{
				Name: proto.String("GroupThreshold"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("group_id", 1, tString, false, ""),
					field("minimum_signatures", 2, tUint32, false, ""),
				},
			},
			{
				Name: proto.String("SequentialThresholds"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("thresholds", 1, tMessage, true, ".protect.rules.GroupThreshold"),
				},
			},
			{
				Name: proto.String("RuleSet"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("key", 1, tString, false, ""),
					field("currency", 2, tString, false, ""),
					field("blockchain", 3, tString, false, ""),
					field("network", 4, tString, false, ""),
					field("parallel_thresholds", 5, tMessage, true, ".protect.rules.SequentialThresholds"),
				},
			},
			{
				Name: proto.String("RulesContainer"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("users", 1, tMessage, true, ".protect.rules.RuleUser"),
					field("groups", 2, tMessage, true, ".protect.rules.RuleGroup"),
					field("minimum_distinct_user_signatures", 3, tUint32, false, ""),
					field("minimum_distinct_group_signatures", 4, tUint32, false, ""),
					field("address_whitelisting_rules", 6, tMessage, true, ".protect.rules.RuleSet"),
					field("enforced_rules_hash", 7, tString, false, ""),
					field("timestamp", 8, tInt64, false, ""),
					field("hsm_slot_id", 10, tUint32, false, ""),
				},
			},
		},
	}

	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	require.NoError(t, err)
	return fd
}

type dyn struct {
	*dynamicpb.Message
}

func newDyn(fd protoreflect.FileDescriptor, name protoreflect.Name) dyn {
	return dyn{dynamicpb.NewMessage(fd.Messages().ByName(name))}
}

func (d dyn) set(name protoreflect.Name, v protoreflect.Value) dyn {
	d.Set(d.Descriptor().Fields().ByName(name), v)
	return d
}

func (d dyn) add(name protoreflect.Name, v protoreflect.Value) dyn {
	d.Mutable(d.Descriptor().Fields().ByName(name)).List().Append(v)
	return d
}

func TestDecode_MatchesReferenceEncoder(t *testing.T) {
	fd := referenceSchema(t)
	aliceKey := newUserKey(t)

	alice := newDyn(fd, "RuleUser").
		set("id", protoreflect.ValueOfString("alice")).
		set("name", protoreflect.ValueOfString("Alice")).
		set("public_key", protoreflect.ValueOfBytes([]byte(aliceKey))).
		add("roles", protoreflect.ValueOfString("USER"))
	group := newDyn(fd, "RuleGroup").
		set("id", protoreflect.ValueOfString("g1")).
		add("user_ids", protoreflect.ValueOfString("alice"))
	threshold := newDyn(fd, "GroupThreshold").
		set("group_id", protoreflect.ValueOfString("g1")).
		set("minimum_signatures", protoreflect.ValueOfUint32(1))
	seq := newDyn(fd, "SequentialThresholds").
		add("thresholds", protoreflect.ValueOfMessage(threshold))
	ruleSet := newDyn(fd, "RuleSet").
		set("blockchain", protoreflect.ValueOfString("BTC")).
		set("network", protoreflect.ValueOfString("testnet")).
		add("parallel_thresholds", protoreflect.ValueOfMessage(seq))
	container := newDyn(fd, "RulesContainer").
		add("users", protoreflect.ValueOfMessage(alice)).
		add("groups", protoreflect.ValueOfMessage(group)).
		set("minimum_distinct_user_signatures", protoreflect.ValueOfUint32(1)).
		add("address_whitelisting_rules", protoreflect.ValueOfMessage(ruleSet)).
		set("enforced_rules_hash", protoreflect.ValueOfString("deadbeef")).
		set("timestamp", protoreflect.ValueOfInt64(1234)).
		set("hsm_slot_id", protoreflect.ValueOfUint32(3))

	referenceBytes, err := proto.Marshal(container)
	require.NoError(t, err)

	fromReference, err := DecodeBytes(referenceBytes)
	require.NoError(t, err)

	ours := &DecodedRulesContainer{
		Users:                         []RuleUser{{ID: "alice", Name: "Alice", PublicKeyPEM: aliceKey, Roles: []string{"USER"}}},
		Groups:                        []RuleGroup{{ID: "g1", UserIDs: []string{"alice"}}},
		MinimumDistinctUserSignatures: 1,
		AddressWhitelistingRules: []RuleSet{{
			Blockchain:         "BTC",
			Network:            "testnet",
			ParallelThresholds: ParallelThresholds{{Thresholds: []GroupThreshold{{GroupID: "g1", MinimumSignatures: 1}}}},
		}},
		EnforcedRulesHash: "deadbeef",
		Timestamp:         1234,
		HSMSlotID:         3,
	}
	fromOurs, err := DecodeBytes(mustEncode(t, ours))
	require.NoError(t, err)

	assert.Equal(t, fromOurs, fromReference)
}
