package schema

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/recsync/internal/ir"
)

// Registry holds record definitions keyed by message class, object type
// and custom type.
type Registry struct {
	mu sync.Mutex

	classes     map[string]*Definition
	objectTypes map[int]*Definition
	customTypes map[int]*Definition
	customNames map[string]int

	resolved map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classes:     make(map[string]*Definition),
		objectTypes: make(map[int]*Definition),
		customTypes: make(map[int]*Definition),
		customNames: make(map[string]int),
		resolved:    make(map[string]*Definition),
	}
}

func classKey(class string) string { return strings.ToUpper(class) }

// DefineMessageClass returns the declared definition for class, creating
// it when needed. Message classes compare case-insensitively.
func (r *Registry) DefineMessageClass(class string) *Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := classKey(class)
	if d, ok := r.classes[key]; ok {
		return d
	}
	d := newDefinition(KindMessageClass, class, 0, class)
	r.classes[key] = d
	return d
}

// DefineObjectType returns the declared definition for a MAPI object type.
func (r *Registry) DefineObjectType(code int, name string) *Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.objectTypes[code]; ok {
		return d
	}
	d := newDefinition(KindObjectType, "", code, name)
	r.objectTypes[code] = d
	return d
}

// DefineCustomType returns the declared definition for a custom type.
// Registering a name under a second code is an error.
func (r *Registry) DefineCustomType(code int, name string) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.customNames[name]; ok && existing != code {
		return nil, &DefinitionError{Field: name, Message: fmt.Sprintf("custom type already registered with code %d", existing)}
	}
	if d, ok := r.customTypes[code]; ok {
		if d.name != name {
			return nil, &DefinitionError{Field: name, Message: fmt.Sprintf("code %d already used by %q", code, d.name)}
		}
		return d, nil
	}
	d := newDefinition(KindCustomType, "", code, name)
	r.customTypes[code] = d
	r.customNames[name] = code
	return d, nil
}

// ByMessageClass resolves the definition for class. Unknown sub-classes
// inherit from their nearest declared ancestor: IPM.Note.Custom falls back
// to IPM.Note, then IPM. The result and every declaration on the chain
// are sealed.
func (r *Registry) ByMessageClass(class string) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := classKey(class)
	if d, ok := r.resolved["mc:"+key]; ok {
		return d, nil
	}

	parts := strings.Split(key, ".")
	var chain []*Definition
	for i := range parts {
		if d, ok := r.classes[strings.Join(parts[:i+1], ".")]; ok {
			chain = append(chain, d)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("message class %q: %w", class, ErrNotFound)
	}

	eff := newDefinition(KindMessageClass, class, 0, class)
	for _, d := range chain {
		eff.overlay(d)
	}
	if _, err := eff.Seal(); err != nil {
		return nil, err
	}
	for _, d := range chain {
		if _, err := d.Seal(); err != nil {
			return nil, err
		}
	}
	r.resolved["mc:"+key] = eff
	slog.Debug("resolved record definition", "message_class", class, "fields", eff.Schema().Len())
	return eff, nil
}

// ByObjectType resolves the definition for a MAPI object type.
func (r *Registry) ByObjectType(code int) (*Definition, error) {
	r.mu.Lock()
	d, ok := r.objectTypes[code]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("object type %d: %w", code, ErrNotFound)
	}
	if _, err := d.Seal(); err != nil {
		return nil, err
	}
	return d, nil
}

// ByCustomType resolves the definition for a custom type code.
func (r *Registry) ByCustomType(code int) (*Definition, error) {
	r.mu.Lock()
	d, ok := r.customTypes[code]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("custom type %d: %w", code, ErrNotFound)
	}
	if _, err := d.Seal(); err != nil {
		return nil, err
	}
	return d, nil
}

// ByCustomTypeName resolves a custom type by its name.
func (r *Registry) ByCustomTypeName(name string) (*Definition, error) {
	code, ok := r.CustomTypeCode(name)
	if !ok {
		return nil, fmt.Errorf("custom type %q: %w", name, ErrNotFound)
	}
	return r.ByCustomType(code)
}

// CustomTypeCode returns the code registered for name.
func (r *Registry) CustomTypeCode(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.customNames[name]
	return code, ok
}

// ByRecordData picks a definition from raw record data: message_class
// first, then object_type.
func (r *Registry) ByRecordData(data ir.IRObject) (*Definition, error) {
	if class := data.String("message_class"); class != "" {
		return r.ByMessageClass(class)
	}
	if ot, ok := data["object_type"].(ir.IRInt); ok {
		return r.ByObjectType(int(ot))
	}
	return nil, fmt.Errorf("record data has neither message_class nor object_type: %w", ErrNotFound)
}

// Declared returns every declared definition ordered by kind, then name.
func (r *Registry) Declared() []*Definition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Definition, 0, len(r.classes)+len(r.objectTypes)+len(r.customTypes))
	for _, d := range r.classes {
		out = append(out, d)
	}
	for _, d := range r.objectTypes {
		out = append(out, d)
	}
	for _, d := range r.customTypes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].kind != out[j].kind {
			return out[i].kind < out[j].kind
		}
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].code < out[j].code
	})
	return out
}
