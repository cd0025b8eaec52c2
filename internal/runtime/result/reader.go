package result

import "google.golang.org/protobuf/reflect/protoreflect"

// reader looks fields up by proto name so any schema using the same names
// reduces the same way.
type reader struct {
	msg protoreflect.Message
}

func (r reader) lookup(name string) (protoreflect.FieldDescriptor, bool) {
	fd := r.msg.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil || fd.IsList() || fd.IsMap() || !r.msg.Has(fd) {
		return nil, false
	}
	return fd, true
}

func (r reader) stringField(name string) (string, bool) {
	fd, ok := r.lookup(name)
	if !ok || fd.Kind() != protoreflect.StringKind {
		return "", false
	}
	return r.msg.Get(fd).String(), true
}

func (r reader) stringOr(name string) string {
	v, _ := r.stringField(name)
	return v
}

func (r reader) boolField(name string) bool {
	fd, ok := r.lookup(name)
	if !ok || fd.Kind() != protoreflect.BoolKind {
		return false
	}
	return r.msg.Get(fd).Bool()
}

func (r reader) int32Field(name string) (int32, bool) {
	fd, ok := r.lookup(name)
	if !ok {
		return 0, false
	}
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return int32(r.msg.Get(fd).Int()), true
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return int32(r.msg.Get(fd).Uint()), true
	default:
		return 0, false
	}
}

func (r reader) int32Or(name string) int32 {
	v, _ := r.int32Field(name)
	return v
}

func (r reader) messageField(name string) (reader, bool) {
	fd, ok := r.lookup(name)
	if !ok || fd.Message() == nil {
		return reader{}, false
	}
	return reader{msg: r.msg.Get(fd).Message()}, true
}

func (r reader) debug() *Debug {
	d := Debug{
		ModelOutput:  r.stringOr("debug_model_output"),
		ModelInput:   r.stringOr("debug_model_input"),
		StreamTime:   r.stringOr("debug_stream_time"),
		TotalTime:    r.stringOr("debug_total_time"),
		TtftTime:     r.stringOr("debug_ttft_time"),
		ServerTiming: r.stringOr("debug_server_timing"),
	}
	if d == (Debug{}) {
		return nil
	}
	return &d
}
