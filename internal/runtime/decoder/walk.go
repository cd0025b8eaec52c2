package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	"github.com/drblury/connectflow/internal/runtime/schema"
	"github.com/drblury/connectflow/internal/runtime/wire"
)

// WalkError describes one malformed region met by the manual walk. The scope
// it was found in stopped decoding at Offset; enclosing scopes carried on.
type WalkError struct {
	// Offset is the absolute payload position of the tag, or packed element,
	// whose read failed.
	Offset int
	// Path is the dotted JSON path of the field, with [i] list indices. Empty
	// for the top-level message.
	Path     string
	Number   protowire.Number
	WireType protowire.Type
	Err      error
}

func (e *WalkError) Error() string {
	path := e.Path
	if path == "" {
		path = "<root>"
	}
	return fmt.Sprintf("walk %s (field %d, wire type %d) at offset %d: %v", path, e.Number, e.WireType, e.Offset, e.Err)
}

func (e *WalkError) Unwrap() error {
	return e.Err
}

type walker struct {
	maxDepth int
	decoded  int
	errs     []*WalkError
}

func (w *walker) walk(payload []byte, md protoreflect.MessageDescriptor) protoreflect.Message {
	msg := dynamicpb.NewMessage(md)
	w.message(wire.NewCursor(payload), msg, "", 0)
	return msg
}

// message decodes fields from c into msg until c is exhausted or a read
// fails. A failure ends this scope only; the caller has already consumed the
// bytes c covers.
func (w *walker) message(c *wire.Cursor, msg protoreflect.Message, path string, depth int) {
	table := schema.TableFor(msg.Descriptor())
	for !c.Done() {
		start := c.Pos()
		num, typ, err := c.ReadTag()
		if err != nil {
			w.fail(start, path, 0, 0, err)
			return
		}

		f, known := table.Lookup(num)
		if !known || f.Map {
			if err := c.Skip(typ); err != nil {
				w.fail(start, path, num, typ, err)
				return
			}
			continue
		}

		fieldPath := join(path, f.JSONName)
		if err := w.field(c, msg, f, typ, fieldPath, depth); err != nil {
			w.fail(start, fieldPath, num, typ, err)
			return
		}
	}
}

func (w *walker) field(c *wire.Cursor, msg protoreflect.Message, f schema.Field, typ protowire.Type, path string, depth int) error {
	switch {
	case f.Nested() && typ == protowire.BytesType:
		b, start, err := c.ReadBytes()
		if err != nil {
			return err
		}
		w.nested(b, start, msg, f, path, depth)
		return nil

	case f.Packable && typ == protowire.BytesType:
		b, start, err := c.ReadBytes()
		if err != nil {
			return err
		}
		w.packed(b, start, msg, f, path)
		return nil

	case typ == f.WireType && f.Kind != protoreflect.GroupKind && !f.Nested():
		v, err := readValue(c, f.Kind)
		if err != nil {
			return err
		}
		w.set(msg, f, v)
		return nil

	default:
		// Declared field with an unexpected wire type: step over it.
		return c.Skip(typ)
	}
}

func (w *walker) nested(b []byte, start int, msg protoreflect.Message, f schema.Field, path string, depth int) {
	if depth+1 > w.maxDepth {
		w.fail(start, path, f.Number, protowire.BytesType, errspkg.ErrNestingTooDeep)
		return
	}
	sub := wire.NewCursorAt(b, start)
	if f.List {
		list := msg.Mutable(f.Desc).List()
		elem := list.NewElement()
		w.message(sub, elem.Message(), path+"["+strconv.Itoa(list.Len())+"]", depth+1)
		list.Append(elem)
		w.decoded++
		return
	}
	w.message(sub, msg.Mutable(f.Desc).Message(), path, depth+1)
	w.decoded++
}

// packed unpacks a length-delimited run of scalars. A malformed element ends
// the run; elements before it are kept.
func (w *walker) packed(b []byte, start int, msg protoreflect.Message, f schema.Field, path string) {
	sub := wire.NewCursorAt(b, start)
	for !sub.Done() {
		at := sub.Pos()
		v, err := readValue(sub, f.Kind)
		if err != nil {
			w.fail(at, path, f.Number, protowire.BytesType, err)
			return
		}
		w.set(msg, f, v)
	}
}

func (w *walker) set(msg protoreflect.Message, f schema.Field, v protoreflect.Value) {
	if f.List {
		msg.Mutable(f.Desc).List().Append(v)
	} else {
		msg.Set(f.Desc, v)
	}
	w.decoded++
}

func (w *walker) fail(offset int, path string, num protowire.Number, typ protowire.Type, err error) {
	w.errs = append(w.errs, &WalkError{Offset: offset, Path: path, Number: num, WireType: typ, Err: err})
}

// readValue reads one scalar of kind using the wire type protobuf assigns it.
func readValue(c *wire.Cursor, kind protoreflect.Kind) (protoreflect.Value, error) {
	switch schema.WireTypeFor(kind) {
	case protowire.VarintType:
		v, err := c.ReadVarint()
		if err != nil {
			return protoreflect.Value{}, err
		}
		return varintValue(kind, v), nil
	case protowire.Fixed32Type:
		v, err := c.ReadFixed32()
		if err != nil {
			return protoreflect.Value{}, err
		}
		switch kind {
		case protoreflect.FloatKind:
			return protoreflect.ValueOfFloat32(math.Float32frombits(v)), nil
		case protoreflect.Sfixed32Kind:
			return protoreflect.ValueOfInt32(int32(v)), nil
		default:
			return protoreflect.ValueOfUint32(v), nil
		}
	case protowire.Fixed64Type:
		v, err := c.ReadFixed64()
		if err != nil {
			return protoreflect.Value{}, err
		}
		switch kind {
		case protoreflect.DoubleKind:
			return protoreflect.ValueOfFloat64(math.Float64frombits(v)), nil
		case protoreflect.Sfixed64Kind:
			return protoreflect.ValueOfInt64(int64(v)), nil
		default:
			return protoreflect.ValueOfUint64(v), nil
		}
	case protowire.BytesType:
		b, _, err := c.ReadBytes()
		if err != nil {
			return protoreflect.Value{}, err
		}
		if kind == protoreflect.StringKind {
			// Invalid UTF-8 is what usually sends a payload here; keep the
			// value renderable.
			return protoreflect.ValueOfString(strings.ToValidUTF8(string(b), "\uFFFD")), nil
		}
		return protoreflect.ValueOfBytes(append([]byte(nil), b...)), nil
	default:
		return protoreflect.Value{}, fmt.Errorf("%w for kind %v", errspkg.ErrInvalidWireType, kind)
	}
}

func varintValue(kind protoreflect.Kind, v uint64) protoreflect.Value {
	switch kind {
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(protowire.DecodeBool(v))
	case protoreflect.EnumKind:
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(int32(v)))
	case protoreflect.Int32Kind:
		return protoreflect.ValueOfInt32(int32(v))
	case protoreflect.Sint32Kind:
		return protoreflect.ValueOfInt32(int32(protowire.DecodeZigZag(v & math.MaxUint32)))
	case protoreflect.Uint32Kind:
		return protoreflect.ValueOfUint32(uint32(v))
	case protoreflect.Int64Kind:
		return protoreflect.ValueOfInt64(int64(v))
	case protoreflect.Sint64Kind:
		return protoreflect.ValueOfInt64(protowire.DecodeZigZag(v))
	default:
		return protoreflect.ValueOfUint64(v)
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
