package restriction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/schema"
)

func noteDefinition(t *testing.T) (*schema.Definition, *schema.Registry) {
	t.Helper()
	reg := schema.MustBuiltin()
	def, err := reg.ByMessageClass("IPM.Note")
	require.NoError(t, err)
	return def, reg
}

func TestValidateAcceptsWellFormedTree(t *testing.T) {
	def, reg := noteDefinition(t)
	r := AllOf(
		Contains("subject", "lunch"),
		Not{Restriction: Equals("importance", ir.IRInt(0))},
		Property{Field: "creation_time", Op: GT, Value: ir.IRInt(1700000000)},
		Bitmask{Field: "message_flags", Type: MaskNotZero, Mask: 1},
		Exist{Field: "body"},
		SubRestriction{SubStore: "recipients", Restriction: Equals("recipient_type", ir.IRInt(1))},
	)
	assert.NoError(t, Validate(r, def, reg))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	def, reg := noteDefinition(t)
	r := AnyOf(
		Equals("no_such_field", ir.IRInt(1)),
		Property{Field: "subject", Op: RE, Value: ir.IRString("(")},
		Content{Field: "importance", Value: "x"},
		Bitmask{Field: "subject", Mask: 1},
		Property{Field: "importance", Op: EQ, Value: ir.IRString("high")},
		SubRestriction{SubStore: "members", Restriction: Exist{Field: "entryid"}},
		SubRestriction{SubStore: "recipients", Restriction: Exist{Field: "bogus"}},
		nil,
	)
	err := Validate(r, def, reg)
	require.Error(t, err)
	assert.True(t, IsError(err))

	msg := err.Error()
	for _, want := range []string{
		`or[0].property: unknown field "no_such_field"`,
		"or[1].property: bad regular expression",
		`or[2].content: field "importance" is int, not a string`,
		`or[3].bitmask: field "subject" is string, not an integer`,
		"or[4].property: value does not fit field",
		`or[5].subrestriction: IPM.Note has no sub-store "members"`,
		`or[6].subrestriction.recipients.exist: unknown field "bogus"`,
		"or[7]: nil restriction",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateStructureOnly(t *testing.T) {
	assert.NoError(t, Validate(Equals("anything", ir.IRInt(1)), nil, nil))
	assert.Error(t, Validate(Property{Field: "x", Op: RelOp(42), Value: ir.IRInt(1)}, nil, nil))
	assert.Error(t, Validate(Property{Field: "x", Op: LT, Value: ir.IRBool(true)}, nil, nil))
	assert.Error(t, Validate(Property{Field: "x", Op: EQ}, nil, nil))
	assert.Error(t, Validate(Content{Field: "x", Fuzzy: 7}, nil, nil))
	assert.Error(t, Validate(Size{Field: "x", Op: RE}, nil, nil))
	assert.Error(t, Validate(Size{Field: "x", Op: EQ, Size: -1}, nil, nil))
	assert.Error(t, Validate(CompareProps{Field1: "a", Op: EQ}, nil, nil))
	assert.Error(t, Validate(&And{}, nil, nil), "pointer nodes are not part of the tree")
}
