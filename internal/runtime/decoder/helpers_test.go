package decoder

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// wireBuilder appends protobuf fields in wire order.
type wireBuilder []byte

func (b wireBuilder) str(num protowire.Number, s string) wireBuilder {
	out := protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(out, s)
}

func (b wireBuilder) bytes(num protowire.Number, v []byte) wireBuilder {
	out := protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(out, v)
}

func (b wireBuilder) varint(num protowire.Number, v uint64) wireBuilder {
	out := protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(out, v)
}

func (b wireBuilder) fixed64(num protowire.Number, v uint64) wireBuilder {
	out := protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(out, v)
}

func (b wireBuilder) fixed32(num protowire.Number, v uint32) wireBuilder {
	out := protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(out, v)
}

func (b wireBuilder) raw(v ...byte) wireBuilder {
	return append(b, v...)
}

func get(msg protoreflect.Message, name string) protoreflect.Value {
	return msg.Get(msg.Descriptor().Fields().ByName(protoreflect.Name(name)))
}

// testSchema describes a message with packable repeated scalars and a
// self-referencing child.
func testSchema(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()
	label := func(l descriptorpb.FieldDescriptorProto_Label) *descriptorpb.FieldDescriptorProto_Label { return l.Enum() }
	typ := func(v descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto_Type { return v.Enum() }
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("walktest/node.proto"),
		Package: proto.String("walktest"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Node"),
			Field: []*descriptorpb.FieldDescriptorProto{
				{Name: proto.String("child"), Number: proto.Int32(1), Type: typ(descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), Label: label(descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL), TypeName: proto.String(".walktest.Node")},
				{Name: proto.String("value"), Number: proto.Int32(2), Type: typ(descriptorpb.FieldDescriptorProto_TYPE_INT32), Label: label(descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL)},
				{Name: proto.String("counts"), Number: proto.Int32(3), Type: typ(descriptorpb.FieldDescriptorProto_TYPE_INT32), Label: label(descriptorpb.FieldDescriptorProto_LABEL_REPEATED)},
				{Name: proto.String("deltas"), Number: proto.Int32(4), Type: typ(descriptorpb.FieldDescriptorProto_TYPE_SINT64), Label: label(descriptorpb.FieldDescriptorProto_LABEL_REPEATED)},
				{Name: proto.String("weights"), Number: proto.Int32(5), Type: typ(descriptorpb.FieldDescriptorProto_TYPE_FLOAT), Label: label(descriptorpb.FieldDescriptorProto_LABEL_REPEATED)},
				{Name: proto.String("blob"), Number: proto.Int32(6), Type: typ(descriptorpb.FieldDescriptorProto_TYPE_BYTES), Label: label(descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL)},
				{Name: proto.String("ratio"), Number: proto.Int32(7), Type: typ(descriptorpb.FieldDescriptorProto_TYPE_DOUBLE), Label: label(descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL)},
				{Name: proto.String("children"), Number: proto.Int32(8), Type: typ(descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), Label: label(descriptorpb.FieldDescriptorProto_LABEL_REPEATED), TypeName: proto.String(".walktest.Node")},
			},
		}},
	}
	fd, err := protodesc.NewFile(file, new(protoregistry.Files))
	require.NoError(t, err)
	return fd.Messages().ByName("Node")
}
