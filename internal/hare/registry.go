package hare

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ───────────────────────────────────────────────────────────────────────────
// Column-type registry
// ───────────────────────────────────────────────────────────────────────────
//
// The registry is an external collaborator: given an ordinal, it yields
// the element width and a per-element (de)serializer into/out of a byte
// span at an offset. Column files never hardcode value layout; they hold
// an ordinal (persisted in the column header) and look it up against a
// Registry at open time. Grounded on
// internal/storage/pager/row_codec.go's tag-dispatch switch, generalized
// from a single per-row sum-type tag byte to a closed per-ordinal variant
// table (fixed width, or a per-value size for the string variant).

// ColumnType describes one element encoding, fixed- or variable-width.
type ColumnType struct {
	// Ordinal is the value persisted in a column header's ordinal field.
	Ordinal uint32
	// Name is a human-readable label, used only for diagnostics.
	Name string
	// Width is the serialized byte size of one element for a fixed-width
	// type (Size == nil). Ignored when Size is set.
	Width int
	// Size, when set, returns v's serialized footprint in bytes, letting a
	// variable column file store differently-sized values of this type in
	// the same column instead of padding every value out to Width. Left
	// nil for every fixed-width built-in type.
	Size func(v any) int
	// Encode writes v into dst, which is exactly SizeOf(v) bytes long.
	Encode func(dst []byte, v any) error
	// Decode reads an element out of src, which is exactly as long as it
	// was when Encode produced it.
	Decode func(src []byte) (any, error)
}

// SizeOf returns v's serialized footprint: Size(v) for a variable-width
// type, else the fixed Width.
func (ct *ColumnType) SizeOf(v any) int {
	if ct.Size != nil {
		return ct.Size(v)
	}
	return ct.Width
}

// Registry resolves column-type ordinals to their ColumnType.
type Registry struct {
	byOrdinal map[uint32]*ColumnType
}

// NewRegistry returns a registry pre-populated with the built-in numeric,
// boolean and string variants (ordinals 1..7); callers may Register additional
// ordinals (e.g. fixed-width vector kinds) before opening column files.
func NewRegistry() *Registry {
	r := &Registry{byOrdinal: make(map[uint32]*ColumnType)}
	for _, t := range builtinColumnTypes() {
		r.mustRegister(t)
	}
	return r
}

func (r *Registry) mustRegister(t *ColumnType) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Register adds a column type, failing if its ordinal is already bound.
func (r *Registry) Register(t *ColumnType) error {
	if _, exists := r.byOrdinal[t.Ordinal]; exists {
		return fmt.Errorf("hare: column-type ordinal %d already registered", t.Ordinal)
	}
	r.byOrdinal[t.Ordinal] = t
	return nil
}

// Lookup resolves ordinal, returning ErrDataCorruption if the file
// references a type this registry does not know — an unreadable ordinal
// found during open() is itself a corruption signal.
func (r *Registry) Lookup(ordinal uint32) (*ColumnType, error) {
	t, ok := r.byOrdinal[ordinal]
	if !ok {
		return nil, fmt.Errorf("%w: unknown column-type ordinal %d", ErrDataCorruption, ordinal)
	}
	return t, nil
}

const (
	OrdinalBool    uint32 = 1
	OrdinalInt32   uint32 = 2
	OrdinalInt64   uint32 = 3
	OrdinalFloat32 uint32 = 4
	OrdinalFloat64 uint32 = 5
	OrdinalByte    uint32 = 6
	OrdinalString  uint32 = 7
)

func builtinColumnTypes() []*ColumnType {
	return []*ColumnType{
		{
			Ordinal: OrdinalBool, Name: "bool", Width: 1,
			Encode: func(dst []byte, v any) error {
				b, ok := v.(bool)
				if !ok {
					return fmt.Errorf("hare: expected bool, got %T", v)
				}
				if b {
					dst[0] = 1
				} else {
					dst[0] = 0
				}
				return nil
			},
			Decode: func(src []byte) (any, error) { return src[0] != 0, nil },
		},
		{
			Ordinal: OrdinalInt32, Name: "int32", Width: 4,
			Encode: func(dst []byte, v any) error {
				i, err := asInt64(v)
				if err != nil {
					return err
				}
				binary.LittleEndian.PutUint32(dst, uint32(int32(i)))
				return nil
			},
			Decode: func(src []byte) (any, error) {
				return int32(binary.LittleEndian.Uint32(src)), nil
			},
		},
		{
			Ordinal: OrdinalInt64, Name: "int64", Width: 8,
			Encode: func(dst []byte, v any) error {
				i, err := asInt64(v)
				if err != nil {
					return err
				}
				binary.LittleEndian.PutUint64(dst, uint64(i))
				return nil
			},
			Decode: func(src []byte) (any, error) {
				return int64(binary.LittleEndian.Uint64(src)), nil
			},
		},
		{
			Ordinal: OrdinalFloat32, Name: "float32", Width: 4,
			Encode: func(dst []byte, v any) error {
				f, err := asFloat64(v)
				if err != nil {
					return err
				}
				binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(f)))
				return nil
			},
			Decode: func(src []byte) (any, error) {
				return math.Float32frombits(binary.LittleEndian.Uint32(src)), nil
			},
		},
		{
			Ordinal: OrdinalFloat64, Name: "float64", Width: 8,
			Encode: func(dst []byte, v any) error {
				f, err := asFloat64(v)
				if err != nil {
					return err
				}
				binary.LittleEndian.PutUint64(dst, math.Float64bits(f))
				return nil
			},
			Decode: func(src []byte) (any, error) {
				return math.Float64frombits(binary.LittleEndian.Uint64(src)), nil
			},
		},
		{
			Ordinal: OrdinalByte, Name: "byte", Width: 1,
			Encode: func(dst []byte, v any) error {
				b, err := asInt64(v)
				if err != nil {
					return err
				}
				dst[0] = byte(b)
				return nil
			},
			Decode: func(src []byte) (any, error) { return src[0], nil },
		},
		{
			Ordinal: OrdinalString, Name: "string", Width: 0,
			Size: func(v any) int {
				s, ok := v.(string)
				if !ok {
					return 0
				}
				return len(s)
			},
			Encode: func(dst []byte, v any) error {
				s, ok := v.(string)
				if !ok {
					return fmt.Errorf("hare: expected string, got %T", v)
				}
				if len(dst) != len(s) {
					return fmt.Errorf("hare: string encode length mismatch: slot %d, value %d", len(dst), len(s))
				}
				copy(dst, s)
				return nil
			},
			Decode: func(src []byte) (any, error) { return string(src), nil },
		},
	}
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case byte:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("hare: expected integer, got %T", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("hare: expected float, got %T", v)
	}
}

// VectorColumnType builds a fixed-width vector variant over an element
// type: logicalSize elements of elem.Width bytes each, encoded/decoded as
// a []any of length logicalSize. Used for the vector-capable column kinds
// a vector-capable database needs beyond plain scalars.
func VectorColumnType(ordinal uint32, name string, elem *ColumnType, logicalSize int) *ColumnType {
	width := elem.Width * logicalSize
	return &ColumnType{
		Ordinal: ordinal,
		Name:    name,
		Width:   width,
		Encode: func(dst []byte, v any) error {
			vec, ok := v.([]any)
			if !ok || len(vec) != logicalSize {
				return fmt.Errorf("hare: expected []any of length %d for %s, got %T", logicalSize, name, v)
			}
			for i, e := range vec {
				if err := elem.Encode(dst[i*elem.Width:(i+1)*elem.Width], e); err != nil {
					return err
				}
			}
			return nil
		},
		Decode: func(src []byte) (any, error) {
			out := make([]any, logicalSize)
			for i := 0; i < logicalSize; i++ {
				v, err := elem.Decode(src[i*elem.Width : (i+1)*elem.Width])
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		},
	}
}
