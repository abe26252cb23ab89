package restriction

import (
	"fmt"

	"github.com/roach88/recsync/internal/ir"
)

// Restriction is a filter node. Only types in this package implement it.
type Restriction interface {
	Type() Type
	restrictionNode()
}

// Type names a restriction node kind. The numeric values are the MAPI
// RES_* constants.
type Type int

const (
	TypeAnd            Type = 0
	TypeOr             Type = 1
	TypeNot            Type = 2
	TypeContent        Type = 3
	TypeProperty       Type = 4
	TypeCompareProps   Type = 5
	TypeBitmask        Type = 6
	TypeSize           Type = 7
	TypeExist          Type = 8
	TypeSubRestriction Type = 9
)

var typeNames = map[Type]string{
	TypeAnd:            "and",
	TypeOr:             "or",
	TypeNot:            "not",
	TypeContent:        "content",
	TypeProperty:       "property",
	TypeCompareProps:   "compareprops",
	TypeBitmask:        "bitmask",
	TypeSize:           "size",
	TypeExist:          "exist",
	TypeSubRestriction: "subrestriction",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func parseType(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// RelOp is a relational operator. The numeric values are the MAPI
// RELOP_* constants.
type RelOp int

const (
	LT RelOp = 0
	LE RelOp = 1
	GT RelOp = 2
	GE RelOp = 3
	EQ RelOp = 4
	NE RelOp = 5
	// RE matches a string field against a regular expression.
	RE RelOp = 6
)

var relOpNames = map[RelOp]string{LT: "lt", LE: "le", GT: "gt", GE: "ge", EQ: "eq", NE: "ne", RE: "re"}

func (op RelOp) String() string {
	if s, ok := relOpNames[op]; ok {
		return s
	}
	return fmt.Sprintf("RelOp(%d)", int(op))
}

func parseRelOp(s string) (RelOp, bool) {
	for op, name := range relOpNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// FuzzyLevel controls Content matching: the low 16 bits select full
// string, substring or prefix; the high bits are modifier flags.
type FuzzyLevel int

const (
	FullString FuzzyLevel = 0x00000
	Substring  FuzzyLevel = 0x00001
	Prefix     FuzzyLevel = 0x00002

	IgnoreCase     FuzzyLevel = 0x10000
	IgnoreNonSpace FuzzyLevel = 0x20000
	Loose          FuzzyLevel = 0x40000
)

// Mode returns the match mode without modifier flags.
func (f FuzzyLevel) Mode() FuzzyLevel { return f & 0xffff }

// Has reports whether the modifier flag is set.
func (f FuzzyLevel) Has(flag FuzzyLevel) bool { return f&flag != 0 }

// BitmaskType selects how a Bitmask compares.
type BitmaskType int

const (
	// MaskEqualsZero matches when field & mask == 0.
	MaskEqualsZero BitmaskType = 0
	// MaskNotZero matches when field & mask != 0.
	MaskNotZero BitmaskType = 1
)

// And matches when every child matches. An empty And matches everything.
type And struct {
	Restrictions []Restriction
}

// Or matches when any child matches. An empty Or matches nothing.
type Or struct {
	Restrictions []Restriction
}

// Not inverts its child.
type Not struct {
	Restriction Restriction
}

// Property compares a field with a constant.
type Property struct {
	Field string
	Op    RelOp
	Value ir.IRValue
}

// CompareProps compares two fields of the same record.
type CompareProps struct {
	Field1 string
	Op     RelOp
	Field2 string
}

// Content matches a string field against text.
type Content struct {
	Field string
	Fuzzy FuzzyLevel
	Value string
}

// Bitmask tests bits of an integer field.
type Bitmask struct {
	Field string
	Type  BitmaskType
	Mask  int64
}

// Size compares the encoded size of a field value in bytes.
type Size struct {
	Field string
	Op    RelOp
	Size  int64
}

// Exist matches when the field holds a non-null value.
type Exist struct {
	Field string
}

// SubRestriction matches when any child in the named sub-store matches.
type SubRestriction struct {
	SubStore    string
	Restriction Restriction
}

func (And) Type() Type            { return TypeAnd }
func (Or) Type() Type             { return TypeOr }
func (Not) Type() Type            { return TypeNot }
func (Property) Type() Type       { return TypeProperty }
func (CompareProps) Type() Type   { return TypeCompareProps }
func (Content) Type() Type        { return TypeContent }
func (Bitmask) Type() Type        { return TypeBitmask }
func (Size) Type() Type           { return TypeSize }
func (Exist) Type() Type          { return TypeExist }
func (SubRestriction) Type() Type { return TypeSubRestriction }

func (And) restrictionNode()            {}
func (Or) restrictionNode()             {}
func (Not) restrictionNode()            {}
func (Property) restrictionNode()       {}
func (CompareProps) restrictionNode()   {}
func (Content) restrictionNode()        {}
func (Bitmask) restrictionNode()        {}
func (Size) restrictionNode()           {}
func (Exist) restrictionNode()          {}
func (SubRestriction) restrictionNode() {}

// AllOf returns And over rs.
func AllOf(rs ...Restriction) And { return And{Restrictions: rs} }

// AnyOf returns Or over rs.
func AnyOf(rs ...Restriction) Or { return Or{Restrictions: rs} }

// Equals returns Property field == v.
func Equals(field string, v ir.IRValue) Property {
	return Property{Field: field, Op: EQ, Value: v}
}

// Contains returns a case-insensitive substring Content match.
func Contains(field, text string) Content {
	return Content{Field: field, Fuzzy: Substring | IgnoreCase, Value: text}
}

// Fields returns every field name the restriction reads, in tree order.
// Fields inside a SubRestriction are prefixed with "substore.".
func Fields(r Restriction) []string {
	var out []string
	walkFields(r, "", &out)
	return out
}

func walkFields(r Restriction, prefix string, out *[]string) {
	switch n := r.(type) {
	case And:
		for _, c := range n.Restrictions {
			walkFields(c, prefix, out)
		}
	case Or:
		for _, c := range n.Restrictions {
			walkFields(c, prefix, out)
		}
	case Not:
		walkFields(n.Restriction, prefix, out)
	case Property:
		*out = append(*out, prefix+n.Field)
	case CompareProps:
		*out = append(*out, prefix+n.Field1, prefix+n.Field2)
	case Content:
		*out = append(*out, prefix+n.Field)
	case Bitmask:
		*out = append(*out, prefix+n.Field)
	case Size:
		*out = append(*out, prefix+n.Field)
	case Exist:
		*out = append(*out, prefix+n.Field)
	case SubRestriction:
		walkFields(n.Restriction, prefix+n.SubStore+".", out)
	}
}
