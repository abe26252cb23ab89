package restriction

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/recsync/internal/ir"
)

// node is the JSON shape of every restriction kind.
type node struct {
	Type         string          `json:"type"`
	Restrictions []node          `json:"restrictions,omitempty"`
	Restriction  *node           `json:"restriction,omitempty"`
	Field        string          `json:"field,omitempty"`
	Field2       string          `json:"field2,omitempty"`
	SubStore     string          `json:"substore,omitempty"`
	Op           string          `json:"op,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	Fuzzy        *int            `json:"fuzzy,omitempty"`
	Mask         *int64          `json:"mask,omitempty"`
	MaskType     *int            `json:"mask_type,omitempty"`
	Size         *int64          `json:"size,omitempty"`
}

// Envelope carries a possibly nil Restriction through encoding/json.
type Envelope struct {
	Restriction Restriction
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Restriction == nil {
		return []byte("null"), nil
	}
	n, err := toNode(e.Restriction)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		e.Restriction = nil
		return nil
	}
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode restriction: %w", err)
	}
	r, err := fromNode(n)
	if err != nil {
		return err
	}
	e.Restriction = r
	return nil
}

// Marshal encodes r as JSON.
func Marshal(r Restriction) ([]byte, error) {
	return Envelope{Restriction: r}.MarshalJSON()
}

// Unmarshal decodes a restriction written by Marshal.
func Unmarshal(data []byte) (Restriction, error) {
	var e Envelope
	if err := e.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return e.Restriction, nil
}

func ptr[T any](v T) *T { return &v }

func toNode(r Restriction) (node, error) {
	n := node{Type: r.Type().String()}
	switch v := r.(type) {
	case And:
		return withChildren(n, v.Restrictions)
	case Or:
		return withChildren(n, v.Restrictions)
	case Not:
		if v.Restriction == nil {
			return n, fmt.Errorf("encode not: missing child")
		}
		c, err := toNode(v.Restriction)
		if err != nil {
			return n, err
		}
		n.Restriction = &c
	case Property:
		raw, err := ir.MarshalIRValue(v.Value)
		if err != nil {
			return n, fmt.Errorf("encode property %q: %w", v.Field, err)
		}
		n.Field, n.Op, n.Value = v.Field, v.Op.String(), raw
	case CompareProps:
		n.Field, n.Op, n.Field2 = v.Field1, v.Op.String(), v.Field2
	case Content:
		raw, err := json.Marshal(v.Value)
		if err != nil {
			return n, err
		}
		n.Field, n.Fuzzy, n.Value = v.Field, ptr(int(v.Fuzzy)), raw
	case Bitmask:
		n.Field, n.MaskType, n.Mask = v.Field, ptr(int(v.Type)), ptr(v.Mask)
	case Size:
		n.Field, n.Op, n.Size = v.Field, v.Op.String(), ptr(v.Size)
	case Exist:
		n.Field = v.Field
	case SubRestriction:
		if v.Restriction == nil {
			return n, fmt.Errorf("encode subrestriction %q: missing child", v.SubStore)
		}
		c, err := toNode(v.Restriction)
		if err != nil {
			return n, err
		}
		n.SubStore, n.Restriction = v.SubStore, &c
	default:
		return n, fmt.Errorf("encode restriction: unsupported node %T", r)
	}
	return n, nil
}

func withChildren(n node, rs []Restriction) (node, error) {
	n.Restrictions = make([]node, 0, len(rs))
	for i, r := range rs {
		if r == nil {
			return n, fmt.Errorf("encode %s: child %d is nil", n.Type, i)
		}
		c, err := toNode(r)
		if err != nil {
			return n, err
		}
		n.Restrictions = append(n.Restrictions, c)
	}
	return n, nil
}

func fromNode(n node) (Restriction, error) {
	t, ok := parseType(n.Type)
	if !ok {
		return nil, fmt.Errorf("decode restriction: unknown type %q", n.Type)
	}
	op := func() (RelOp, error) {
		o, ok := parseRelOp(n.Op)
		if !ok {
			return 0, fmt.Errorf("decode %s: unknown operator %q", n.Type, n.Op)
		}
		return o, nil
	}
	child := func() (Restriction, error) {
		if n.Restriction == nil {
			return nil, fmt.Errorf("decode %s: missing restriction", n.Type)
		}
		return fromNode(*n.Restriction)
	}

	switch t {
	case TypeAnd, TypeOr:
		rs := make([]Restriction, 0, len(n.Restrictions))
		for _, c := range n.Restrictions {
			r, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			rs = append(rs, r)
		}
		if t == TypeAnd {
			return And{Restrictions: rs}, nil
		}
		return Or{Restrictions: rs}, nil
	case TypeNot:
		c, err := child()
		if err != nil {
			return nil, err
		}
		return Not{Restriction: c}, nil
	case TypeProperty:
		o, err := op()
		if err != nil {
			return nil, err
		}
		var v ir.IRValue = ir.IRNull{}
		if len(n.Value) > 0 {
			if v, err = ir.UnmarshalIRValue(n.Value); err != nil {
				return nil, fmt.Errorf("decode property %q: %w", n.Field, err)
			}
		}
		return Property{Field: n.Field, Op: o, Value: v}, nil
	case TypeCompareProps:
		o, err := op()
		if err != nil {
			return nil, err
		}
		return CompareProps{Field1: n.Field, Op: o, Field2: n.Field2}, nil
	case TypeContent:
		var s string
		if len(n.Value) > 0 {
			if err := json.Unmarshal(n.Value, &s); err != nil {
				return nil, fmt.Errorf("decode content %q: %w", n.Field, err)
			}
		}
		c := Content{Field: n.Field, Value: s}
		if n.Fuzzy != nil {
			c.Fuzzy = FuzzyLevel(*n.Fuzzy)
		}
		return c, nil
	case TypeBitmask:
		b := Bitmask{Field: n.Field}
		if n.MaskType != nil {
			b.Type = BitmaskType(*n.MaskType)
		}
		if n.Mask != nil {
			b.Mask = *n.Mask
		}
		return b, nil
	case TypeSize:
		o, err := op()
		if err != nil {
			return nil, err
		}
		s := Size{Field: n.Field, Op: o}
		if n.Size != nil {
			s.Size = *n.Size
		}
		return s, nil
	case TypeExist:
		return Exist{Field: n.Field}, nil
	case TypeSubRestriction:
		c, err := child()
		if err != nil {
			return nil, err
		}
		return SubRestriction{SubStore: n.SubStore, Restriction: c}, nil
	}
	return nil, fmt.Errorf("decode restriction: unhandled type %q", n.Type)
}
