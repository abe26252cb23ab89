package backend

import (
	"fmt"
	"strings"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/restriction"
	"github.com/roach88/recsync/internal/wire"
)

// sqlFilter compiles restrictions into SQLite WHERE fragments over
// items.props. Every value is bound as a parameter. Each fragment
// evaluates to 0 or 1, never NULL, so Not composes the way
// restriction.Match does.
//
// Nodes whose SQL evaluation would differ from restriction.Match
// (content matching with its normalization, regular expressions, sizes,
// field comparisons and sub-restrictions) fail with errNotCompilable and
// the caller filters in Go instead.
type sqlFilter struct {
	column string
}

func newSQLFilter() *sqlFilter {
	return &sqlFilter{column: "items.props"}
}

// Compile returns the WHERE fragment and its parameters. A nil
// restriction compiles to "1 = 1".
func (f *sqlFilter) Compile(r restriction.Restriction) (string, []any, error) {
	if r == nil {
		return "1 = 1", nil, nil
	}
	switch n := r.(type) {
	case restriction.And:
		return f.compileList(n.Restrictions, " AND ", "1 = 1")
	case restriction.Or:
		return f.compileList(n.Restrictions, " OR ", "1 = 0")
	case restriction.Not:
		sql, params, err := f.Compile(n.Restriction)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil
	case restriction.Property:
		return f.compileProperty(n)
	case restriction.Exist:
		path, err := jsonPath(n.Field)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("COALESCE(json_type(%s, ?), 'null') <> 'null'", f.column), []any{path}, nil
	case restriction.Bitmask:
		path, err := jsonPath(n.Field)
		if err != nil {
			return "", nil, err
		}
		cmp := "<> 0"
		if n.Type == restriction.MaskEqualsZero {
			cmp = "= 0"
		}
		sql := fmt.Sprintf("COALESCE(json_type(%[1]s, ?) = 'integer' AND (json_extract(%[1]s, ?) & ?) %[2]s, 0)", f.column, cmp)
		return sql, []any{path, path, n.Mask}, nil
	}
	return "", nil, fmt.Errorf("%s: %w", r.Type(), errNotCompilable)
}

func (f *sqlFilter) compileList(rs []restriction.Restriction, sep, empty string) (string, []any, error) {
	if len(rs) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(rs))
	var params []any
	for _, c := range rs {
		sql, ps, err := f.Compile(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}
	return strings.Join(parts, sep), params, nil
}

var sqlRelOps = map[restriction.RelOp]string{
	restriction.LT: "<",
	restriction.LE: "<=",
	restriction.GT: ">",
	restriction.GE: ">=",
	restriction.EQ: "=",
	restriction.NE: "<>",
}

// compileProperty matches any scalar or array element of the field. The
// json_each type guard keeps values of another kind from comparing,
// which restriction.Match treats as a mismatch (or a match, for NE).
func (f *sqlFilter) compileProperty(p restriction.Property) (string, []any, error) {
	op, ok := sqlRelOps[p.Op]
	if !ok {
		return "", nil, fmt.Errorf("property %s: %w", p.Op, errNotCompilable)
	}
	path, err := jsonPath(p.Field)
	if err != nil {
		return "", nil, err
	}

	var (
		types string
		param any
	)
	switch v := p.Value.(type) {
	case ir.IRString:
		types, param = "'text'", string(v)
	case ir.IRInt:
		types, param = "'integer'", int64(v)
	case ir.IRTime:
		types, param = "'integer'", v.Unix()
	case ir.IRBool:
		if p.Op != restriction.EQ && p.Op != restriction.NE {
			return "", nil, fmt.Errorf("ordered bool comparison: %w", errNotCompilable)
		}
		types, param = "'true', 'false'", 0
		if v {
			param = 1
		}
	default:
		return "", nil, fmt.Errorf("property value %T: %w", p.Value, errNotCompilable)
	}

	cond := fmt.Sprintf("j.type IN (%s) AND j.value %s ?", types, op)
	if p.Op == restriction.NE {
		cond = fmt.Sprintf("j.type <> 'null' AND (j.type NOT IN (%s) OR j.value <> ?)", types)
	}
	sql := fmt.Sprintf(
		"COALESCE(json_type(%[1]s, ?), 'object') <> 'object' AND EXISTS (SELECT 1 FROM json_each(%[1]s, ?) AS j WHERE %[2]s)",
		f.column, cond)
	return sql, []any{path, path, param}, nil
}

// OrderBy returns the ORDER BY clause for sort keys. Ties always break
// on insertion order, then entry id.
func (f *sqlFilter) OrderBy(keys []wire.SortKey) (string, []any, error) {
	parts := make([]string, 0, len(keys)+2)
	var params []any
	for _, k := range keys {
		path, err := jsonPath(k.Field)
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("json_extract(%s, ?) %s", f.column, dir))
		params = append(params, path)
	}
	parts = append(parts, "items.seq ASC", "items.entryid COLLATE BINARY ASC")
	return " ORDER BY " + strings.Join(parts, ", "), params, nil
}

func jsonPath(field string) (string, error) {
	if field == "" || strings.ContainsAny(field, `"\`) {
		return "", fmt.Errorf("field name %q: %w", field, errNotCompilable)
	}
	return `$."` + field + `"`, nil
}
