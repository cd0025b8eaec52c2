// Package schema owns the protobuf message descriptors the decoder understands.
//
// The descriptors are assembled from FileDescriptorProto values at runtime so no
// generated code is required, and callers can swap them for a schema of their
// own through LoadFileDescriptorSet.
package schema

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
)

const (
	Package                       = "aiserver.v1"
	StreamCppResponseName         = Package + ".StreamCppResponse"
	RefreshTabContextResponseName = Package + ".RefreshTabContextResponse"
)

type (
	fieldType  = descriptorpb.FieldDescriptorProto_Type
	fieldLabel = descriptorpb.FieldDescriptorProto_Label
)

const (
	typeString = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBool   = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	typeInt32  = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeDouble = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	typeMsg    = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
)

var builtin = sync.OnceValues(buildFiles)

// Files returns the registry holding the built-in descriptors.
func Files() (*protoregistry.Files, error) {
	return builtin()
}

// StreamCppResponse returns the descriptor for the streamed completion message.
func StreamCppResponse() protoreflect.MessageDescriptor {
	return mustFind(StreamCppResponseName)
}

// RefreshTabContextResponse returns the descriptor for the unary context message.
func RefreshTabContextResponse() protoreflect.MessageDescriptor {
	return mustFind(RefreshTabContextResponseName)
}

// LoadFileDescriptorSet parses a serialized google.protobuf.FileDescriptorSet,
// as produced by `protoc --descriptor_set_out`, into a standalone registry.
func LoadFileDescriptorSet(raw []byte) (*protoregistry.Files, error) {
	set := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(raw, set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor set: %w", err)
	}
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, fmt.Errorf("failed to build descriptor set: %w", err)
	}
	return files, nil
}

// Find resolves a fully-qualified message name inside files.
func Find(files *protoregistry.Files, name string) (protoreflect.MessageDescriptor, error) {
	if files == nil {
		return nil, errspkg.ErrSchemaRequired
	}
	desc, err := files.FindDescriptorByName(protoreflect.FullName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to find message %q: %w", name, err)
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("descriptor %q is a %T, not a message", name, desc)
	}
	return md, nil
}

func mustFind(name string) protoreflect.MessageDescriptor {
	files, err := builtin()
	if err != nil {
		panic(err)
	}
	md, err := Find(files, name)
	if err != nil {
		panic(err)
	}
	return md
}

func buildFiles() (*protoregistry.Files, error) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("aiserver/v1/cpp.proto"),
		Package: proto.String(Package),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("StreamCppResponse",
				field("text", 1, typeString, optional, ""),
				field("suggestion_start_line", 2, typeInt32, optional, ""),
				field("suggestion_confidence", 3, typeInt32, optional, ""),
				field("done_stream", 4, typeBool, optional, ""),
				field("debug_model_output", 5, typeString, optional, ""),
				field("debug_model_input", 6, typeString, optional, ""),
				field("debug_stream_time", 7, typeString, optional, ""),
				field("debug_total_time", 8, typeString, optional, ""),
				field("debug_ttft_time", 9, typeString, optional, ""),
				field("debug_server_timing", 10, typeString, optional, ""),
				field("range_to_replace", 11, typeMsg, optional, "RangeToReplace"),
				field("cursor_prediction_target", 12, typeMsg, optional, "CursorPredictionTarget"),
				field("done_edit", 13, typeBool, optional, ""),
				field("model_info", 14, typeMsg, optional, "ModelInfo"),
				field("begin_edit", 15, typeBool, optional, ""),
				field("should_remove_leading_eol", 16, typeBool, optional, ""),
				field("binding_id", 17, typeString, optional, ""),
			),
			message("RangeToReplace",
				field("start_line_number", 1, typeInt32, optional, ""),
				field("start_column", 2, typeInt32, optional, ""),
				field("end_line_number_inclusive", 3, typeInt32, optional, ""),
				field("end_column", 4, typeInt32, optional, ""),
			),
			message("ModelInfo",
				field("is_fused_cursor_prediction_model", 1, typeBool, optional, ""),
				field("is_multidiff_model", 2, typeBool, optional, ""),
			),
			message("CursorPredictionTarget",
				field("relative_path", 1, typeString, optional, ""),
				field("line_number_one_indexed", 2, typeInt32, optional, ""),
				field("expected_content", 3, typeString, optional, ""),
				field("should_retrigger_cpp", 4, typeBool, optional, ""),
			),
			message("RefreshTabContextResponse",
				field("code_results", 1, typeMsg, repeated, "CodeResult"),
			),
			message("CodeResult",
				field("code_block", 1, typeMsg, optional, "CodeBlock"),
				field("score", 2, typeDouble, optional, ""),
			),
			message("CodeBlock",
				field("relative_workspace_path", 1, typeString, optional, ""),
				field("range", 2, typeMsg, optional, "Range"),
				field("contents", 3, typeString, optional, ""),
				field("signatures", 4, typeMsg, optional, "Signatures"),
				field("detailed_lines", 5, typeMsg, repeated, "DetailedLine"),
			),
			message("Range",
				field("start_position", 1, typeMsg, optional, "Position"),
				field("end_position", 2, typeMsg, optional, "Position"),
			),
			message("Position",
				field("line", 1, typeInt32, optional, ""),
				field("column", 2, typeInt32, optional, ""),
			),
			message("Signatures",
				field("ranges", 1, typeMsg, repeated, "SignatureRange"),
			),
			message("SignatureRange"),
			message("DetailedLine"),
		},
	}

	fd, err := protodesc.NewFile(file, new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("failed to build built-in schema: %w", err)
	}
	files := new(protoregistry.Files)
	if err := files.RegisterFile(fd); err != nil {
		return nil, fmt.Errorf("failed to register built-in schema: %w", err)
	}
	return files, nil
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name:  proto.String(name),
		Field: fields,
	}
}

func field(name string, number int32, typ fieldType, label fieldLabel, messageType string) *descriptorpb.FieldDescriptorProto {
	fd := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Type:   typ.Enum(),
		Label:  label.Enum(),
	}
	if messageType != "" {
		fd.TypeName = proto.String("." + Package + "." + messageType)
	}
	return fd
}
