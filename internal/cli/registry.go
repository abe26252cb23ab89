package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/recsync/internal/schema"
)

// loadRegistry compiles paths on top of the built-in definitions.
func loadRegistry(paths ...string) (*schema.Registry, error) {
	reg, err := schema.Builtin()
	if err != nil {
		return nil, fmt.Errorf("load built-in definitions: %w", err)
	}
	for _, p := range paths {
		if err := schema.CompileFile(reg, p); err != nil {
			return nil, fmt.Errorf("compile %s: %w", p, err)
		}
		slog.Debug("definitions compiled", "file", p)
	}
	return reg, nil
}
