// Package cli provides the command-line client for the reshadeck daemon.
// Each command maps to one control request; results are printed as text on
// a terminal and as JSON otherwise.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/user-none/reshadeck/server"
	"github.com/user-none/reshadeck/session"
	"github.com/user-none/reshadeck/storage"
)

// ErrUsage is returned for unknown commands or bad arguments
var ErrUsage = errors.New("usage error")

// Usage lists the client commands
const Usage = `commands:
  state                 show the current application and shader state
  shaders               list installed shaders
  enable | disable      turn shading on or off for the current application
  shader NAME           select a shader (applied right away when enabled)
  contrast VALUE        set CAS contrast (0-2), used on the next apply
  sharpness VALUE       set CAS sharpness (0-2), used on the next apply
  apply [-no-force]     apply the selected shader
  toggle NAME           activate NAME regardless of the enabled flag
  app ID [NAME]         switch to the profile of application ID
  effect                show the effect gamescope has loaded
  uniforms              read the CAS uniform values from the shader file
  profiles              list the stored profile of every application
  install ARCHIVE       install the shaders in a zip, 7z, tar.gz or rar pack`

// Runner executes client commands against a daemon
type Runner struct {
	client *Client
	out    io.Writer
	pretty bool
}

// NewRunner creates a runner writing results to out.
// pretty selects human-readable output instead of JSON.
func NewRunner(client *Client, out io.Writer, pretty bool) *Runner {
	return &Runner{client: client, out: out, pretty: pretty}
}

// Run executes the command in args
func (r *Runner) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", ErrUsage)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "state":
		return r.state(ctx, http.MethodGet, "/state", nil)
	case "shaders":
		return r.shaders(ctx)
	case "enable", "disable":
		return r.state(ctx, http.MethodPut, "/enabled", map[string]bool{"enabled": cmd == "enable"})
	case "shader", "toggle":
		if len(rest) != 1 {
			return fmt.Errorf("%w: %s NAME", ErrUsage, cmd)
		}
		if cmd == "shader" {
			return r.state(ctx, http.MethodPut, "/shader", map[string]string{"name": rest[0]})
		}
		return r.state(ctx, http.MethodPost, "/toggle", map[string]string{"name": rest[0]})
	case "contrast", "sharpness":
		if len(rest) != 1 {
			return fmt.Errorf("%w: %s VALUE", ErrUsage, cmd)
		}
		v, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return fmt.Errorf("%w: invalid %s %q", ErrUsage, cmd, rest[0])
		}
		return r.state(ctx, http.MethodPut, "/"+cmd, map[string]float64{"value": v})
	case "apply":
		fs := flag.NewFlagSet("apply", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		noForce := fs.Bool("no-force", false, "do not force a reload of an unchanged effect")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		return r.state(ctx, http.MethodPost, "/apply", map[string]bool{"force": !*noForce})
	case "app":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("%w: app ID [NAME]", ErrUsage)
		}
		body := map[string]string{"id": rest[0]}
		if len(rest) == 2 {
			body["name"] = rest[1]
		}
		return r.state(ctx, http.MethodPut, "/app", body)
	case "effect":
		return r.effect(ctx)
	case "uniforms":
		return r.uniforms(ctx)
	case "profiles":
		return r.profiles(ctx)
	case "install":
		if len(rest) != 1 {
			return fmt.Errorf("%w: install ARCHIVE", ErrUsage)
		}
		return r.install(ctx, rest[0])
	}
	return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
}

func (r *Runner) state(ctx context.Context, method, path string, body interface{}) error {
	if method == http.MethodGet {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	var st session.State
	if err := r.client.Do(ctx, method, path, body, &st); err != nil {
		return err
	}
	if !r.pretty {
		return r.writeJSON(st)
	}

	fmt.Fprintf(r.out, "App:       %s (%s)\n", st.App.Name, st.App.ID)
	fmt.Fprintf(r.out, "Enabled:   %v\n", st.Enabled)
	fmt.Fprintf(r.out, "Shader:    %s\n", st.Current)
	fmt.Fprintf(r.out, "Contrast:  %.2f\n", st.Contrast)
	fmt.Fprintf(r.out, "Sharpness: %.2f\n", st.Sharpness)
	return nil
}

func (r *Runner) shaders(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var names []string
	if err := r.client.Do(ctx, http.MethodGet, "/shaders", nil, &names); err != nil {
		return err
	}
	if !r.pretty {
		return r.writeJSON(names)
	}
	for _, name := range names {
		fmt.Fprintln(r.out, name)
	}
	return nil
}

func (r *Runner) effect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var resp server.EffectResponse
	if err := r.client.Do(ctx, http.MethodGet, "/effect", nil, &resp); err != nil {
		return err
	}
	if !r.pretty {
		return r.writeJSON(resp)
	}
	fmt.Fprintln(r.out, resp.Effect)
	return nil
}

func (r *Runner) uniforms(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var resp server.UniformsResponse
	if err := r.client.Do(ctx, http.MethodGet, "/uniforms", nil, &resp); err != nil {
		return err
	}
	if !r.pretty {
		return r.writeJSON(resp)
	}

	names := make([]string, 0, len(resp.Uniforms))
	for name := range resp.Uniforms {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(r.out, "%s\n", resp.File)
	for _, name := range names {
		v := resp.Uniforms[name]
		if v == nil {
			fmt.Fprintf(r.out, "  %s: unreadable\n", name)
			continue
		}
		fmt.Fprintf(r.out, "  %s: %s\n", name, strconv.FormatFloat(*v, 'f', -1, 64))
	}
	return nil
}

func (r *Runner) profiles(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var profiles map[string]storage.Profile
	if err := r.client.Do(ctx, http.MethodGet, "/profiles", nil, &profiles); err != nil {
		return err
	}
	if !r.pretty {
		return r.writeJSON(profiles)
	}

	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := profiles[id]
		state := "off"
		if p.Enabled {
			state = "on"
		}
		fmt.Fprintf(r.out, "%-12s %-3s %-20s contrast=%.2f sharpness=%.2f  %s\n",
			id, state, p.Current, p.Contrast, p.Sharpness, p.AppName)
	}
	return nil
}

func (r *Runner) install(ctx context.Context, archive string) error {
	// The daemon may run from another working directory
	path, err := filepath.Abs(archive)
	if err != nil {
		return err
	}

	var resp server.InstallResponse
	if err := r.client.Do(ctx, http.MethodPost, "/install", map[string]string{"path": path}, &resp); err != nil {
		return err
	}
	if !r.pretty {
		return r.writeJSON(resp)
	}
	for _, name := range resp.Installed {
		fmt.Fprintf(r.out, "installed %s\n", name)
	}
	return nil
}

func (r *Runner) writeJSON(v interface{}) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
