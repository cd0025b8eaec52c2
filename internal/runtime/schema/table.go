package schema

import (
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Field is one row of a message's declarative decode table.
type Field struct {
	Number   protowire.Number
	Name     string
	JSONName string
	// WireType is the wire type of a single, unpacked element.
	WireType protowire.Type
	Kind     protoreflect.Kind
	List     bool
	// Packable marks repeated scalars that may also arrive packed as BYTES.
	Packable bool
	Map      bool
	Desc     protoreflect.FieldDescriptor
}

// Nested reports whether the field holds a sub-message walked with its own table.
func (f Field) Nested() bool {
	return f.Kind == protoreflect.MessageKind && !f.Map
}

// Table maps field numbers to decode rules for one message type.
type Table struct {
	Message protoreflect.MessageDescriptor
	fields  map[protowire.Number]Field
}

// Lookup returns the rule for num, if the message declares it.
func (t *Table) Lookup(num protowire.Number) (Field, bool) {
	f, ok := t.fields[num]
	return f, ok
}

// Len returns the number of declared fields.
func (t *Table) Len() int { return len(t.fields) }

var tables sync.Map // protoreflect.FullName -> *Table

// TableFor returns the cached decode table for md. Nested tables are built on
// first use, so recursive message types are fine.
func TableFor(md protoreflect.MessageDescriptor) *Table {
	if cached, ok := tables.Load(md.FullName()); ok {
		if t := cached.(*Table); t.Message == md {
			return t
		}
	}

	fds := md.Fields()
	t := &Table{Message: md, fields: make(map[protowire.Number]Field, fds.Len())}
	for i := 0; i < fds.Len(); i++ {
		fd := fds.Get(i)
		kind := fd.Kind()
		t.fields[fd.Number()] = Field{
			Number:   fd.Number(),
			Name:     string(fd.Name()),
			JSONName: fd.JSONName(),
			WireType: WireTypeFor(kind),
			Kind:     kind,
			List:     fd.IsList(),
			Packable: fd.IsList() && isScalarNumeric(kind),
			Map:      fd.IsMap(),
			Desc:     fd,
		}
	}
	tables.Store(md.FullName(), t)
	return t
}

// WireTypeFor returns the wire type protobuf uses to encode one value of kind.
func WireTypeFor(kind protoreflect.Kind) protowire.Type {
	switch kind {
	case protoreflect.BoolKind, protoreflect.EnumKind,
		protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Uint32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Uint64Kind:
		return protowire.VarintType
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind:
		return protowire.Fixed32Type
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind, protoreflect.DoubleKind:
		return protowire.Fixed64Type
	case protoreflect.GroupKind:
		return protowire.StartGroupType
	default:
		return protowire.BytesType
	}
}

func isScalarNumeric(kind protoreflect.Kind) bool {
	switch WireTypeFor(kind) {
	case protowire.VarintType, protowire.Fixed32Type, protowire.Fixed64Type:
		return true
	default:
		return false
	}
}
