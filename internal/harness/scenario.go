package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run over coordinated stores.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Definitions are extra CUE files compiled on top of the built-in
	// record types. Relative paths resolve against the scenario file.
	Definitions []string `yaml:"definitions,omitempty"`

	// DedupWindow overrides the coordinator's duplicate write window.
	DedupWindow *int `yaml:"dedup_window,omitempty"`

	Stores     []StoreDef  `yaml:"stores"`
	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// StoreDef declares a store.
type StoreDef struct {
	Name       string `yaml:"name"`
	ServerOnly bool   `yaml:"server_only,omitempty"`
	// Standalone stores are not registered with the coordinator.
	Standalone bool `yaml:"standalone,omitempty"`
}

// Step is one operation. Exactly one of the operation fields is set; it
// names the store (create, save, load, reload, destroy) or the record
// alias (everything else) the operation applies to.
type Step struct {
	Create   string `yaml:"create,omitempty"`
	Set      string `yaml:"set,omitempty"`
	AddChild string `yaml:"add_child,omitempty"`
	Save     string `yaml:"save,omitempty"`
	Load     string `yaml:"load,omitempty"`
	Reload   string `yaml:"reload,omitempty"`
	Open     string `yaml:"open,omitempty"`
	Remove   string `yaml:"remove,omitempty"`
	Copy     string `yaml:"copy,omitempty"`
	Move     string `yaml:"move,omitempty"`
	Destroy  string `yaml:"destroy,omitempty"`

	// As is the alias of a created record.
	As string `yaml:"as,omitempty"`
	// Class is the message class of a created record.
	Class string `yaml:"class,omitempty"`
	// Store selects the store holding the record for record operations.
	// Empty means the store the record was created in.
	Store    string         `yaml:"store,omitempty"`
	Props    map[string]any `yaml:"props,omitempty"`
	SubStore string         `yaml:"substore,omitempty"`
	Folders  []string       `yaml:"folders,omitempty"`
	// Restriction is a list restriction in its JSON shape.
	Restriction map[string]any `yaml:"restriction,omitempty"`
	// Folder is the destination of copy and move.
	Folder string `yaml:"folder,omitempty"`

	// ExpectError makes the step pass only if it fails with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Op returns the operation name and its target.
func (s Step) Op() (string, string) {
	for _, op := range s.ops() {
		if op.target != "" {
			return op.name, op.target
		}
	}
	return "", ""
}

type stepOp struct{ name, target string }

func (s Step) ops() []stepOp {
	return []stepOp{
		{"create", s.Create},
		{"set", s.Set},
		{"add_child", s.AddChild},
		{"save", s.Save},
		{"load", s.Load},
		{"reload", s.Reload},
		{"open", s.Open},
		{"remove", s.Remove},
		{"copy", s.Copy},
		{"move", s.Move},
		{"destroy", s.Destroy},
	}
}

// Assertion checks the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is a trace key "store.kind[.action]" (trace_contains,
	// trace_count, trace_absent).
	Event string `yaml:"event,omitempty"`
	// Events are trace keys in expected order (trace_order).
	Events []string `yaml:"events,omitempty"`
	// Records narrows trace_contains to events naming all of them.
	Records []string `yaml:"records,omitempty"`
	Count   int      `yaml:"count,omitempty"`

	// Store and Record select a record (record_state, store_count,
	// server_state).
	Store  string `yaml:"store,omitempty"`
	Record string `yaml:"record,omitempty"`
	// Expect holds field values; a subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
	// Version is the expected record version (record_state,
	// server_state). Zero skips the check.
	Version int64 `yaml:"version,omitempty"`
	// Modified lists the fields expected to be modified (record_state).
	Modified []string `yaml:"modified,omitempty"`
	// Children maps sub-store names to expected child counts.
	Children map[string]int `yaml:"children,omitempty"`
	// Missing asserts the record is not in the store (record_state) or
	// not on the server (server_state).
	Missing bool `yaml:"missing,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceAbsent   = "trace_absent"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertRecordState   = "record_state"
	AssertServerState   = "server_state"
	AssertStoreCount    = "store_count"
)

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for i, def := range sc.Definitions {
		if !filepath.IsAbs(def) {
			sc.Definitions[i] = filepath.Join(base, def)
		}
	}
	for _, def := range sc.Definitions {
		if _, err := os.Stat(def); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: definition file not found: %s", def)
		}
	}
	return sc, nil
}

// ParseScenario decodes and validates scenario YAML. Definition paths
// are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Stores) == 0 {
		return fmt.Errorf("stores list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.DedupWindow != nil && *s.DedupWindow < 0 {
		return fmt.Errorf("dedup_window must be non-negative")
	}

	stores := make(map[string]bool, len(s.Stores))
	for i, st := range s.Stores {
		if st.Name == "" {
			return fmt.Errorf("stores[%d]: name is required", i)
		}
		if stores[st.Name] {
			return fmt.Errorf("stores[%d]: duplicate store %q", i, st.Name)
		}
		stores[st.Name] = true
	}

	aliases := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, stores, aliases); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, stores, aliases); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, stores, aliases map[string]bool) error {
	n := 0
	for _, op := range step.ops() {
		if op.target != "" {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required, got %d", i, n)
	}
	op, target := step.Op()
	if step.Store != "" && !stores[step.Store] {
		return fmt.Errorf("steps[%d]: unknown store %q", i, step.Store)
	}

	switch op {
	case "create":
		if !stores[target] {
			return fmt.Errorf("steps[%d]: unknown store %q", i, target)
		}
		if step.As == "" {
			return fmt.Errorf("steps[%d]: create requires as", i)
		}
		if aliases[step.As] {
			return fmt.Errorf("steps[%d]: alias %q already used", i, step.As)
		}
		if step.Class == "" {
			return fmt.Errorf("steps[%d]: create requires class", i)
		}
		aliases[step.As] = true
	case "save", "load", "reload", "destroy":
		if !stores[target] {
			return fmt.Errorf("steps[%d]: unknown store %q", i, target)
		}
	default:
		if !aliases[target] {
			return fmt.Errorf("steps[%d]: unknown record %q", i, target)
		}
	}

	switch op {
	case "set":
		if len(step.Props) == 0 {
			return fmt.Errorf("steps[%d]: set requires props", i)
		}
	case "add_child":
		if step.SubStore == "" {
			return fmt.Errorf("steps[%d]: add_child requires substore", i)
		}
	case "copy", "move":
		if step.Folder == "" {
			return fmt.Errorf("steps[%d]: %s requires folder", i, op)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, stores, aliases map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Store != "" && !stores[a.Store] {
		return fmt.Errorf("assertions[%d]: unknown store %q", index, a.Store)
	}
	if a.Record != "" && !aliases[a.Record] {
		return fmt.Errorf("assertions[%d]: unknown record %q", index, a.Record)
	}

	switch a.Type {
	case AssertTraceContains, AssertTraceAbsent:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for %s", index, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertRecordState:
		if a.Store == "" || a.Record == "" {
			return fmt.Errorf("assertions[%d]: store and record are required for record_state", index)
		}
	case AssertServerState:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for server_state", index)
		}
	case AssertStoreCount:
		if a.Store == "" {
			return fmt.Errorf("assertions[%d]: store is required for store_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
