package restriction

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/recsync/internal/ir"
)

// Subject is what Match evaluates against.
type Subject interface {
	Get(field string) ir.IRValue
	Children(subStore string) []Subject
}

// Object adapts plain field data as a Subject.
type Object struct {
	Data      ir.IRObject
	SubStores map[string][]ir.IRObject
}

// Get implements Subject.
func (o Object) Get(field string) ir.IRValue { return o.Data.Get(field) }

// Children implements Subject.
func (o Object) Children(name string) []Subject {
	items := o.SubStores[name]
	out := make([]Subject, len(items))
	for i, item := range items {
		out[i] = Object{Data: item}
	}
	return out
}

// Match evaluates r against s. A nil restriction matches everything.
// Conditions on a field holding no value do not match.
func Match(r Restriction, s Subject) bool {
	if r == nil {
		return true
	}
	switch n := r.(type) {
	case And:
		for _, c := range n.Restrictions {
			if !Match(c, s) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range n.Restrictions {
			if Match(c, s) {
				return true
			}
		}
		return false
	case Not:
		return !Match(n.Restriction, s)
	case Property:
		return matchProperty(s.Get(n.Field), n.Op, n.Value)
	case CompareProps:
		return matchProperty(s.Get(n.Field1), n.Op, s.Get(n.Field2))
	case Content:
		return matchContent(s.Get(n.Field), n.Fuzzy, n.Value)
	case Bitmask:
		v, ok := s.Get(n.Field).(ir.IRInt)
		if !ok {
			return false
		}
		masked := int64(v) & n.Mask
		if n.Type == MaskNotZero {
			return masked != 0
		}
		return masked == 0
	case Size:
		v := s.Get(n.Field)
		if ir.IsNull(v) {
			return false
		}
		c := int64(valueSize(v)) - n.Size
		return relate(sign(c), n.Op)
	case Exist:
		return !ir.IsNull(s.Get(n.Field))
	case SubRestriction:
		for _, child := range s.Children(n.SubStore) {
			if Match(n.Restriction, child) {
				return true
			}
		}
		return false
	}
	return false
}

func matchProperty(have ir.IRValue, op RelOp, want ir.IRValue) bool {
	if ir.IsNull(have) {
		return false
	}
	if op == RE {
		s, ok1 := have.(ir.IRString)
		pat, ok2 := want.(ir.IRString)
		if !ok1 || !ok2 {
			return false
		}
		re, err := regexp.Compile(string(pat))
		return err == nil && re.MatchString(string(s))
	}
	if arr, ok := have.(ir.IRArray); ok {
		for _, elem := range arr {
			if matchProperty(elem, op, want) {
				return true
			}
		}
		return false
	}
	c, ok := compare(have, want)
	if !ok {
		return op == NE && !ir.IsNull(want)
	}
	return relate(c, op)
}

func relate(c int, op RelOp) bool {
	switch op {
	case LT:
		return c < 0
	case LE:
		return c <= 0
	case GT:
		return c > 0
	case GE:
		return c >= 0
	case EQ:
		return c == 0
	case NE:
		return c != 0
	}
	return false
}

func sign(n int64) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// compare orders two scalar values. Integers and dates compare as epoch
// seconds; booleans only compare for equality.
func compare(a, b ir.IRValue) (int, bool) {
	switch x := a.(type) {
	case ir.IRString:
		if y, ok := b.(ir.IRString); ok {
			return strings.Compare(string(x), string(y)), true
		}
	case ir.IRInt:
		switch y := b.(type) {
		case ir.IRInt:
			return sign(int64(x) - int64(y)), true
		case ir.IRTime:
			return sign(int64(x) - y.Unix()), true
		}
	case ir.IRTime:
		switch y := b.(type) {
		case ir.IRTime:
			return sign(x.Unix() - y.Unix()), true
		case ir.IRInt:
			return sign(x.Unix() - int64(y)), true
		}
	case ir.IRBool:
		if y, ok := b.(ir.IRBool); ok {
			if x == y {
				return 0, true
			}
			return 1, true
		}
	}
	if ir.Equal(a, b) {
		return 0, true
	}
	return 0, false
}

func matchContent(have ir.IRValue, fuzzy FuzzyLevel, text string) bool {
	switch v := have.(type) {
	case ir.IRString:
		return contentMatches(string(v), fuzzy, text)
	case ir.IRArray:
		for _, elem := range v {
			if s, ok := elem.(ir.IRString); ok && contentMatches(string(s), fuzzy, text) {
				return true
			}
		}
	}
	return false
}

func contentMatches(s string, fuzzy FuzzyLevel, text string) bool {
	s, text = Normalize(s, fuzzy), Normalize(text, fuzzy)
	switch fuzzy.Mode() {
	case Substring:
		return strings.Contains(s, text)
	case Prefix:
		return strings.HasPrefix(s, text)
	default:
		return s == text
	}
}

// Normalize applies the modifier flags of fuzzy to s: IgnoreCase folds
// case, IgnoreNonSpace strips combining marks, Loose does both.
func Normalize(s string, fuzzy FuzzyLevel) string {
	s = norm.NFC.String(s)
	if fuzzy.Has(IgnoreNonSpace) || fuzzy.Has(Loose) {
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		if out, _, err := transform.String(t, s); err == nil {
			s = out
		}
	}
	if fuzzy.Has(IgnoreCase) || fuzzy.Has(Loose) {
		s = cases.Fold().String(s)
	}
	return s
}

func valueSize(v ir.IRValue) int {
	if s, ok := v.(ir.IRString); ok {
		return len(s)
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return 0
	}
	return len(b)
}
