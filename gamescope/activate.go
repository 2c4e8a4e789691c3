// Package gamescope talks to the gamescope compositor: activating a reshade
// effect through the apply script and reading the X root window properties
// gamescope publishes.
package gamescope

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Force controls the optional force argument passed to the apply script
type Force int

const (
	ForceOmit Force = iota // No force argument
	ForceOn                // "true": reload even if the effect is unchanged
	ForceOff               // "false"
)

// Activation asks gamescope to switch to a shader
type Activation struct {
	Shader string // Shader file name, or "None" to clear the effect
	Force  Force
}

// Args returns the apply script arguments for shaderDir
func (a Activation) Args(shaderDir string) []string {
	args := []string{a.Shader, shaderDir}
	switch a.Force {
	case ForceOn:
		args = append(args, "true")
	case ForceOff:
		args = append(args, "false")
	}
	return args
}

// ScriptActivator activates shaders by running the apply script
type ScriptActivator struct {
	script    string
	shaderDir string
	log       hclog.Logger
}

// NewScriptActivator creates an activator running script against shaderDir
func NewScriptActivator(script, shaderDir string, logger hclog.Logger) *ScriptActivator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ScriptActivator{script: script, shaderDir: shaderDir, log: logger}
}

// Activate runs the apply script and waits for it.
// The exit status and output are logged only; an error is returned when
// the script could not be run at all.
func (s *ScriptActivator) Activate(ctx context.Context, a Activation) error {
	args := a.Args(s.shaderDir)
	cmd := exec.CommandContext(ctx, s.script, args...)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		s.log.Warn("apply script failed", "shader", a.Shader, "args", args,
			"exit", exitErr.ExitCode(), "output", output)
		return nil
	}
	if err != nil {
		s.log.Error("apply script could not run", "script", s.script, "error", err)
		return fmt.Errorf("failed to run %s: %w", s.script, err)
	}

	s.log.Info("shader applied", "shader", a.Shader, "args", args, "output", output)
	return nil
}
