package kernel

import (
	"context"
	"fmt"
	"sort"

	"herald/pkg/herald"
)

// commandCatalog serves the kernel command table as the herald.ServiceCommandCatalog service.
type commandCatalog struct {
	kernel *Kernel
}

// ListCommands returns every registered command sorted by name.
func (c *commandCatalog) ListCommands(ctx context.Context) ([]herald.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}

	c.kernel.mu.RLock()
	commands := make([]herald.RegisteredCommand, 0, len(c.kernel.commands))
	for _, registration := range c.kernel.commands {
		commands = append(commands, herald.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    registration.spec,
		})
	}
	c.kernel.mu.RUnlock()

	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Command.Name < commands[j].Command.Name
	})

	return commands, nil
}

var _ herald.CommandCatalog = (*commandCatalog)(nil)
