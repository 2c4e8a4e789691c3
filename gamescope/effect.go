package gamescope

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// NoEffect is reported when no reshade effect is active or it can't be read
const NoEffect = "None"

// EffectQuery reports which reshade effect gamescope currently has loaded
type EffectQuery struct {
	display string
	log     hclog.Logger

	dial  func(display string) (PropertyReader, error)
	xprop func(ctx context.Context, display, prop string) (string, error)
}

// NewEffectQuery creates a query against display
func NewEffectQuery(display string, logger hclog.Logger) *EffectQuery {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &EffectQuery{
		display: display,
		log:     logger,
		dial:    dialPropertyReader,
		xprop:   runXprop,
	}
}

// Current returns the active effect name, or NoEffect.
// The property is read over the X protocol; if that fails xprop is tried.
func (q *EffectQuery) Current(ctx context.Context) string {
	effect, err := q.fromX11()
	if err == nil {
		return effect
	}
	if errors.Is(err, ErrNoProperty) {
		return NoEffect
	}
	q.log.Debug("X11 effect query failed, trying xprop", "error", err)

	out, err := q.xprop(ctx, q.display, PropReshadeEffect)
	if err != nil {
		q.log.Warn("failed to get current effect", "error", err)
		return NoEffect
	}
	if effect, ok := ParseXprop(out); ok {
		return effect
	}
	return NoEffect
}

func (q *EffectQuery) fromX11() (string, error) {
	r, err := q.dial(q.display)
	if err != nil {
		return "", err
	}
	defer r.Close()

	effect, err := r.String(PropReshadeEffect)
	if err != nil {
		return "", err
	}
	if effect == "" {
		return NoEffect, nil
	}
	return effect, nil
}

// ParseXprop extracts the value from xprop output of the form
// `NAME(STRING) = "value"`. It reports false when no value is present.
func ParseXprop(out string) (string, bool) {
	_, value, ok := strings.Cut(out, "=")
	if !ok {
		return "", false
	}
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return "", false
	}
	return value, true
}

func runXprop(ctx context.Context, display, prop string) (string, error) {
	cmd := exec.CommandContext(ctx, "xprop", "-root", prop)
	cmd.Env = append(os.Environ(), "DISPLAY="+display)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
