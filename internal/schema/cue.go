package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/recsync/internal/ir"
)

//go:embed schema.cue
var schemaSource []byte

//go:embed builtin.cue
var builtinSource []byte

// Builtin returns a registry holding the built-in record types.
func Builtin() (*Registry, error) {
	r := NewRegistry()
	if err := CompileSource(r, "builtin.cue", builtinSource); err != nil {
		return nil, fmt.Errorf("compile builtin definitions: %w", err)
	}
	return r, nil
}

// MustBuiltin is like Builtin but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBuiltin() *Registry {
	r, err := Builtin()
	if err != nil {
		panic(err)
	}
	return r
}

// CompileFile compiles the CUE definitions in path into r.
func CompileFile(r *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read definitions: %w", err)
	}
	return CompileSource(r, filepath.Base(path), data)
}

// CompileSource compiles CUE definitions into r. Definitions already in
// r are extended: fields are added or replaced, never removed.
//
// The source declares three top-level maps:
//
//	message_class: "IPM.Note": {id_field: "entryid", fields: {...}, substores: {...}}
//	object_type: folder: {code: 3, fields: {...}}
//	custom_type: recipient: {code: 1, fields: {...}}
func CompileSource(r *Registry, filename string, src []byte) error {
	ctx := cuecontext.New()
	constraints := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := constraints.Err(); err != nil {
		return formatCUEError(err)
	}
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	v = constraints.Unify(v)
	if err := v.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err)
	}

	// custom types first so sub-store child references can be checked
	if err := eachEntry(v, "custom_type", func(name string, dv cue.Value) error {
		code, err := intField(dv, "code")
		if err != nil {
			return err
		}
		d, err := r.DefineCustomType(code, name)
		if err != nil {
			return err
		}
		return compileDefinition(d, dv)
	}); err != nil {
		return err
	}

	if err := eachEntry(v, "object_type", func(name string, dv cue.Value) error {
		code, err := intField(dv, "code")
		if err != nil {
			return err
		}
		return compileDefinition(r.DefineObjectType(code, name), dv)
	}); err != nil {
		return err
	}

	if err := eachEntry(v, "message_class", func(name string, dv cue.Value) error {
		return compileDefinition(r.DefineMessageClass(name), dv)
	}); err != nil {
		return err
	}

	for _, d := range r.Declared() {
		for _, sub := range d.SubStoreNames() {
			spec, _ := d.SubStore(sub)
			if _, ok := r.CustomTypeCode(spec.ChildType); !ok {
				return &DefinitionError{
					Field:   d.Name() + ".substores." + sub,
					Message: fmt.Sprintf("unknown child type %q", spec.ChildType),
				}
			}
		}
	}
	return nil
}

func eachEntry(v cue.Value, path string, fn func(string, cue.Value) error) error {
	section := v.LookupPath(cue.ParsePath(path))
	if !section.Exists() {
		return nil
	}
	iter, err := section.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Selector().Unquoted(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func compileDefinition(d *Definition, v cue.Value) error {
	if idv, ok := lookupConcrete(v, "id_field"); ok {
		id, err := idv.String()
		if err != nil {
			return formatCUEError(err)
		}
		if err := d.SetIDField(id); err != nil {
			return err
		}
	}

	fields := v.LookupPath(cue.ParsePath("fields"))
	iter, err := fields.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		f, err := compileField(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return err
		}
		if err := d.AddField(f); err != nil {
			return err
		}
	}

	subs := v.LookupPath(cue.ParsePath("substores"))
	siter, err := subs.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for siter.Next() {
		child, err := stringField(siter.Value(), "child")
		if err != nil {
			return err
		}
		if err := d.SetSubStore(SubStoreSpec{Name: siter.Selector().Unquoted(), ChildType: child}); err != nil {
			return err
		}
	}
	return nil
}

func compileField(name string, v cue.Value) (Field, error) {
	f := Field{Name: name}

	typ, err := stringField(v, "type")
	if err != nil {
		return f, err
	}
	f.Type = FieldType(typ)

	if f.AllowBlank, err = boolField(v, "allow_blank"); err != nil {
		return f, err
	}
	if f.ForceProtocol, err = boolField(v, "force_protocol"); err != nil {
		return f, err
	}

	if dv, ok := lookupConcrete(v, "default"); ok {
		def, err := cueToIR(dv)
		if err != nil {
			return f, err
		}
		if !ir.IsNull(def) {
			if def, err = convert(f.Type, def); err != nil {
				return f, &DefinitionError{Field: name, Message: err.Error(), Pos: dv.Pos()}
			}
		}
		f.Default = def
	}
	return f, nil
}

func lookupConcrete(v cue.Value, path string) (cue.Value, bool) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return fv, false
	}
	fv, _ = fv.Default()
	return fv, fv.IsConcrete()
}

func stringField(v cue.Value, path string) (string, error) {
	fv, ok := lookupConcrete(v, path)
	if !ok {
		return "", &DefinitionError{Field: path, Message: "required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func boolField(v cue.Value, path string) (bool, error) {
	fv, ok := lookupConcrete(v, path)
	if !ok {
		return false, &DefinitionError{Field: path, Message: "required", Pos: v.Pos()}
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func intField(v cue.Value, path string) (int, error) {
	fv, ok := lookupConcrete(v, path)
	if !ok {
		return 0, &DefinitionError{Field: path, Message: "required", Pos: v.Pos()}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

// cueToIR converts a concrete CUE value into an IRValue. Floats are
// rejected.
func cueToIR(v cue.Value) (ir.IRValue, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var arr ir.IRArray
		for iter.Next() {
			e, err := cueToIR(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, e)
		}
		if arr == nil {
			arr = ir.IRArray{}
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			e, err := cueToIR(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Selector().Unquoted()] = e
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &DefinitionError{Field: "default", Message: "floats are forbidden - use int instead", Pos: v.Pos()}
	default:
		return nil, &DefinitionError{Field: "default", Message: fmt.Sprintf("unsupported kind %v", v.IncompleteKind()), Pos: v.Pos()}
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &DefinitionError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
