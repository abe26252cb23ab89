package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recsync/internal/schema"
)

// DefinitionInfo describes one declared record type.
type DefinitionInfo struct {
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Code      int      `json:"code,omitempty"`
	IDField   string   `json:"id_field,omitempty"`
	Fields    []string `json:"fields"`
	SubStores []string `json:"substores,omitempty"`
}

// NewDefinitionsCommand creates the definitions command.
func NewDefinitionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "definitions [file.cue...]",
		Short: "Compile and list record definitions",
		Long: `Compile CUE definition files on top of the built-in definitions and
the files named in the config, then list every declared type with its
resolved fields.

Examples:
  recsync definitions
  recsync definitions ./defs/contacts.cue --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := append(append([]string{}, rootOpts.Config.Definitions...), args...)
			reg, err := loadRegistry(paths...)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to compile definitions", err)
			}
			infos, err := describeDefinitions(reg)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to resolve definitions", err)
			}
			return rootOpts.formatter(cmd).Success(infos, definitionsText(infos))
		},
	}
}

func describeDefinitions(reg *schema.Registry) ([]DefinitionInfo, error) {
	declared := reg.Declared()
	out := make([]DefinitionInfo, 0, len(declared))
	for _, d := range declared {
		resolved := d
		if d.Kind() == schema.KindMessageClass {
			// Message classes inherit from their dotted prefixes.
			r, err := reg.ByMessageClass(d.MessageClass())
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", d.MessageClass(), err)
			}
			resolved = r
		}
		info := DefinitionInfo{
			Kind:      d.Kind().String(),
			Name:      d.Name(),
			IDField:   resolved.IDField(),
			Fields:    resolved.Schema().Names(),
			SubStores: resolved.SubStoreNames(),
		}
		if d.Kind() != schema.KindMessageClass {
			info.Code = d.Code()
		}
		out = append(out, info)
	}
	return out, nil
}

func definitionsText(infos []DefinitionInfo) string {
	var b strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&b, "%-13s %-28s %3d fields", info.Kind, info.Name, len(info.Fields))
		if len(info.SubStores) > 0 {
			fmt.Fprintf(&b, "  substores: %s", strings.Join(info.SubStores, ", "))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d definitions\n", len(infos))
	return b.String()
}
