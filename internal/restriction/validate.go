package restriction

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/schema"
)

// Error describes one invalid node.
type Error struct {
	// Path locates the node, e.g. "and[1].not".
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "restriction: " + e.Message
	}
	return fmt.Sprintf("restriction %s: %s", e.Path, e.Message)
}

// IsError reports whether err contains a restriction Error.
func IsError(err error) bool {
	var re *Error
	return errors.As(err, &re)
}

// Validate checks the tree's structure. When def is non-nil, field names
// and field types are checked against it, and sub-store names against
// its capability map; reg resolves the child types of sub-stores.
func Validate(r Restriction, def *schema.Definition, reg *schema.Registry) error {
	v := &validator{reg: reg}
	var sch *schema.Schema
	if def != nil {
		s, err := def.Seal()
		if err != nil {
			return err
		}
		sch = s
	}
	v.check(r, "", def, sch)
	return errors.Join(v.errs...)
}

type validator struct {
	reg  *schema.Registry
	errs []error
}

func (v *validator) fail(path, format string, args ...any) {
	v.errs = append(v.errs, &Error{Path: path, Message: fmt.Sprintf(format, args...)})
}

func join(path, elem string) string {
	if path == "" {
		return elem
	}
	return path + "." + elem
}

func (v *validator) field(path, name string, sch *schema.Schema) (schema.Field, bool) {
	if name == "" {
		v.fail(path, "missing field name")
		return schema.Field{}, false
	}
	if sch == nil {
		return schema.Field{Name: name, Type: schema.TypeAuto}, true
	}
	f, ok := sch.Field(name)
	if !ok {
		v.fail(path, "unknown field %q", name)
	}
	return f, ok
}

func (v *validator) check(r Restriction, path string, def *schema.Definition, sch *schema.Schema) {
	if r == nil {
		v.fail(path, "nil restriction")
		return
	}
	here := join(path, r.Type().String())

	switch n := r.(type) {
	case And:
		for i, c := range n.Restrictions {
			v.check(c, fmt.Sprintf("%s[%d]", here, i), def, sch)
		}
	case Or:
		for i, c := range n.Restrictions {
			v.check(c, fmt.Sprintf("%s[%d]", here, i), def, sch)
		}
	case Not:
		v.check(n.Restriction, here, def, sch)
	case Property:
		f, ok := v.field(here, n.Field, sch)
		if !validRelOp(n.Op) {
			v.fail(here, "invalid operator %v", n.Op)
			return
		}
		if n.Value == nil {
			v.fail(here, "missing value")
			return
		}
		switch n.Op {
		case RE:
			s, isString := n.Value.(ir.IRString)
			if !isString {
				v.fail(here, "regular expression must be a string")
				return
			}
			if _, err := regexp.Compile(string(s)); err != nil {
				v.fail(here, "bad regular expression: %v", err)
			}
		case LT, LE, GT, GE:
			if !ordered(n.Value) {
				v.fail(here, "operator %v needs a string, integer or date value", n.Op)
			}
		}
		if ok && sch != nil && !ir.IsNull(n.Value) {
			if _, err := sch.Convert(f.Name, n.Value); err != nil {
				v.fail(here, "value does not fit field: %v", err)
			}
		}
	case CompareProps:
		v.field(here, n.Field1, sch)
		v.field(here, n.Field2, sch)
		if !validRelOp(n.Op) || n.Op == RE {
			v.fail(here, "invalid operator %v", n.Op)
		}
	case Content:
		f, ok := v.field(here, n.Field, sch)
		if mode := n.Fuzzy.Mode(); mode != FullString && mode != Substring && mode != Prefix {
			v.fail(here, "invalid fuzzy level %#x", int(n.Fuzzy))
		}
		if ok && f.Type != schema.TypeAuto && f.Type != schema.TypeString {
			v.fail(here, "field %q is %s, not a string", f.Name, f.Type)
		}
	case Bitmask:
		f, ok := v.field(here, n.Field, sch)
		if n.Type != MaskEqualsZero && n.Type != MaskNotZero {
			v.fail(here, "invalid bitmask type %d", n.Type)
		}
		if ok && f.Type != schema.TypeAuto && f.Type != schema.TypeInt {
			v.fail(here, "field %q is %s, not an integer", f.Name, f.Type)
		}
	case Size:
		v.field(here, n.Field, sch)
		if !validRelOp(n.Op) || n.Op == RE {
			v.fail(here, "invalid operator %v", n.Op)
		}
		if n.Size < 0 {
			v.fail(here, "negative size")
		}
	case Exist:
		v.field(here, n.Field, sch)
	case SubRestriction:
		if n.SubStore == "" {
			v.fail(here, "missing sub-store name")
			return
		}
		if def == nil {
			v.check(n.Restriction, join(here, n.SubStore), nil, nil)
			return
		}
		spec, ok := def.SubStore(n.SubStore)
		if !ok {
			v.fail(here, "%s has no sub-store %q", def.Name(), n.SubStore)
			return
		}
		if v.reg == nil {
			v.check(n.Restriction, join(here, n.SubStore), nil, nil)
			return
		}
		child, err := v.reg.ByCustomTypeName(spec.ChildType)
		if err != nil {
			v.fail(here, "sub-store %q: %v", n.SubStore, err)
			return
		}
		childSch, err := child.Seal()
		if err != nil {
			v.fail(here, "sub-store %q: %v", n.SubStore, err)
			return
		}
		v.check(n.Restriction, join(here, n.SubStore), child, childSch)
	default:
		v.fail(path, "unsupported node %T", r)
	}
}

func validRelOp(op RelOp) bool {
	_, ok := relOpNames[op]
	return ok
}

func ordered(v ir.IRValue) bool {
	switch v.(type) {
	case ir.IRString, ir.IRInt, ir.IRTime:
		return true
	}
	return false
}
