package presence

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Btmgmt toggles discoverable mode through the btmgmt tool. The process is killed when
// ctx ends.
type Btmgmt struct {
	Adapter string
	// Command overrides the executable, "btmgmt" when empty.
	Command string
}

// Args returns the command line for one change.
func (b Btmgmt) Args(on bool) []string {
	state := "no"
	if on {
		state = "yes"
	}
	return []string{"-i", b.Adapter, "discoverable", state}
}

func (b Btmgmt) SetDiscoverable(ctx context.Context, on bool) error {
	name := b.Command
	if name == "" {
		name = "btmgmt"
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, b.Args(on)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s discoverable: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s discoverable: %w: %s", name, err, strings.TrimSpace(out.String()))
	}
	return nil
}
