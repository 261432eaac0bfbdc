package rules

import (
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Message names in proto/rules_container.proto.
const (
	msgContainer      protoreflect.Name = "RulesContainer"
	msgUserSignatures protoreflect.Name = "UserSignatures"
)

func pbField(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, repeated bool, typeName string) *descriptorpb.FieldDescriptorProto {
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
		f.TypeName = proto.String(".protect.rules." + typeName)
	}
	return f
}

// schema is proto/rules_container.proto as a descriptor. It is static, so a
// failure to build it is a programming error.
var schema = sync.OnceValue(func() protoreflect.FileDescriptor {
	const (
		tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		tUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		tInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
		tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
		tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)
	msg := func(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	}
	value := func(name string, num int32) *descriptorpb.EnumValueDescriptorProto {
		return &descriptorpb.EnumValueDescriptorProto{Name: proto.String(name), Number: proto.Int32(num)}
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("protect/rules_container.proto"),
		Package: proto.String("protect.rules"),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("RuleSourceType"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				value("UNKNOWN", 0),
				value("INTERNAL_WALLET", 1),
				value("ANY", 2),
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			msg("RuleUser",
				pbField("id", 1, tString, false, ""),
				pbField("name", 2, tString, false, ""),
				pbField("public_key", 3, tBytes, false, ""),
				pbField("roles", 4, tString, true, ""),
			),
			msg("RuleGroup",
				pbField("id", 1, tString, false, ""),
				pbField("name", 2, tString, false, ""),
				pbField("user_ids", 3, tString, true, ""),
			),
			msg("GroupThreshold",
				pbField("group_id", 1, tString, false, ""),
				pbField("minimum_signatures", 2, tUint32, false, ""),
			),
			msg("SequentialThresholds",
				pbField("thresholds", 1, tMessage, true, "GroupThreshold"),
			),
			msg("RuleSource",
				pbField("type", 1, tEnum, false, "RuleSourceType"),
				pbField("internal_wallet_path", 2, tString, false, ""),
			),
			msg("RuleLine",
				pbField("source", 1, tMessage, false, "RuleSource"),
				pbField("parallel_thresholds", 2, tMessage, true, "SequentialThresholds"),
			),
			msg("RuleSet",
				pbField("key", 1, tString, false, ""),
				pbField("currency", 2, tString, false, ""),
				pbField("blockchain", 3, tString, false, ""),
				pbField("network", 4, tString, false, ""),
				pbField("parallel_thresholds", 5, tMessage, true, "SequentialThresholds"),
				pbField("lines", 6, tMessage, true, "RuleLine"),
			),
			msg(string(msgContainer),
				pbField("users", 1, tMessage, true, "RuleUser"),
				pbField("groups", 2, tMessage, true, "RuleGroup"),
				pbField("minimum_distinct_user_signatures", 3, tUint32, false, ""),
				pbField("minimum_distinct_group_signatures", 4, tUint32, false, ""),
				pbField("transaction_rules", 5, tMessage, true, "RuleSet"),
				pbField("address_whitelisting_rules", 6, tMessage, true, "RuleSet"),
				pbField("enforced_rules_hash", 7, tString, false, ""),
				pbField("timestamp", 8, tInt64, false, ""),
				pbField("contract_address_whitelisting_rules", 9, tMessage, true, "RuleSet"),
				pbField("hsm_slot_id", 10, tUint32, false, ""),
			),
			msg("UserSignature",
				pbField("user_id", 1, tString, false, ""),
				pbField("signature", 2, tBytes, false, ""),
				pbField("comment", 3, tString, false, ""),
				pbField("hashes", 4, tString, true, ""),
			),
			msg(string(msgUserSignatures),
				pbField("signatures", 1, tMessage, true, "UserSignature"),
			),
		},
	}
	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		panic("rules: invalid protobuf schema: " + err.Error())
	}
	return fd
})

// pbMessage is a dynamic message of the rules schema with field access by
// name. Setters skip zero values, as proto3 does.
type pbMessage struct {
	protoreflect.Message
}

func newMessage(name protoreflect.Name) pbMessage {
	return pbMessage{dynamicpb.NewMessage(schema().Messages().ByName(name))}
}

func (m pbMessage) field(name protoreflect.Name) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(name)
}

func (m pbMessage) str(name protoreflect.Name) string {
	return m.Get(m.field(name)).String()
}

func (m pbMessage) bytes(name protoreflect.Name) []byte {
	return m.Get(m.field(name)).Bytes()
}

func (m pbMessage) uint(name protoreflect.Name) int {
	return int(m.Get(m.field(name)).Uint())
}

func (m pbMessage) int64(name protoreflect.Name) int64 {
	return m.Get(m.field(name)).Int()
}

func (m pbMessage) enum(name protoreflect.Name) int {
	return int(m.Get(m.field(name)).Enum())
}

func (m pbMessage) strs(name protoreflect.Name) []string {
	l := m.Get(m.field(name)).List()
	if l.Len() == 0 {
		return nil
	}
	out := make([]string, l.Len())
	for i := range out {
		out[i] = l.Get(i).String()
	}
	return out
}

func (m pbMessage) msg(name protoreflect.Name) pbMessage {
	return pbMessage{m.Get(m.field(name)).Message()}
}

func (m pbMessage) msgs(name protoreflect.Name) []pbMessage {
	l := m.Get(m.field(name)).List()
	out := make([]pbMessage, l.Len())
	for i := range out {
		out[i] = pbMessage{l.Get(i).Message()}
	}
	return out
}

func (m pbMessage) setStr(name protoreflect.Name, v string) {
	if v != "" {
		m.Set(m.field(name), protoreflect.ValueOfString(v))
	}
}

func (m pbMessage) setBytes(name protoreflect.Name, v []byte) {
	if len(v) > 0 {
		m.Set(m.field(name), protoreflect.ValueOfBytes(v))
	}
}

func (m pbMessage) setUint(name protoreflect.Name, v int) {
	if v != 0 {
		m.Set(m.field(name), protoreflect.ValueOfUint32(uint32(v)))
	}
}

func (m pbMessage) setInt64(name protoreflect.Name, v int64) {
	if v != 0 {
		m.Set(m.field(name), protoreflect.ValueOfInt64(v))
	}
}

func (m pbMessage) setEnum(name protoreflect.Name, v int) {
	if v != 0 {
		m.Set(m.field(name), protoreflect.ValueOfEnum(protoreflect.EnumNumber(v)))
	}
}

func (m pbMessage) appendStrs(name protoreflect.Name, vs []string) {
	if len(vs) == 0 {
		return
	}
	l := m.Mutable(m.field(name)).List()
	for _, v := range vs {
		l.Append(protoreflect.ValueOfString(v))
	}
}

// add appends an empty element to a repeated message field and returns it.
func (m pbMessage) add(name protoreflect.Name) pbMessage {
	l := m.Mutable(m.field(name)).List()
	e := l.NewElement()
	l.Append(e)
	return pbMessage{e.Message()}
}

func (m pbMessage) sub(name protoreflect.Name) pbMessage {
	return pbMessage{m.Mutable(m.field(name)).Message()}
}
