// Package session holds the live shader state for the foreground
// application and drives every transition: enabling, selecting a shader,
// tuning the CAS uniforms, applying, and switching application context.
package session

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/user-none/reshadeck/gamescope"
	"github.com/user-none/reshadeck/shader"
	"github.com/user-none/reshadeck/storage"
)

// ProfileStore persists profiles per application id
type ProfileStore interface {
	Load(appID string) (storage.Profile, error)
	Save(appID string, p storage.Profile) error
}

// UniformPatcher rewrites a uniform's value in a shader source
type UniformPatcher interface {
	Patch(path, uniform string, value float64) error
}

// PackInstaller extracts a shader pack archive into a directory
type PackInstaller interface {
	Install(path, dst string) ([]string, error)
}

// ErrNoInstaller is returned by InstallPack when no installer is configured
var ErrNoInstaller = errors.New("pack install not available")

// Activator makes gamescope load a shader
type Activator interface {
	Activate(ctx context.Context, a gamescope.Activation) error
}

// Config wires a Session to its collaborators
type Config struct {
	Store     ProfileStore
	Patcher   UniformPatcher
	Activator Activator
	Packs     PackInstaller      // Optional
	ShaderDir string             // Live shader directory holding the tunable shader
	Tunable   shader.TunableInfo // Shader whose uniforms are patched
	Logger    hclog.Logger
}

// State is a snapshot of the session
type State struct {
	App       storage.AppContext `json:"app"`
	Enabled   bool               `json:"enabled"`
	Current   string             `json:"current"`
	Contrast  float64            `json:"contrast"`
	Sharpness float64            `json:"sharpness"`
	Tunable   string             `json:"tunable"`
}

// Session owns the shader state of the current application.
// Transitions are serialized; each runs to completion, including any
// external apply, before the next starts. Errors from collaborators are
// logged and never returned.
type Session struct {
	mu sync.Mutex

	store     ProfileStore
	patcher   UniformPatcher
	activator Activator
	packs     PackInstaller
	shaderDir string
	tunable   shader.TunableInfo
	log       hclog.Logger

	app     storage.AppContext
	profile storage.Profile
}

// New creates a session for the default application context.
// Call Start to load its profile.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	tunable := cfg.Tunable
	if tunable.File == "" {
		tunable = shader.CAS
	}
	return &Session{
		store:     cfg.Store,
		patcher:   cfg.Patcher,
		activator: cfg.Activator,
		packs:     cfg.Packs,
		shaderDir: cfg.ShaderDir,
		tunable:   tunable,
		log:       logger,
		app:       storage.DefaultAppContext(),
		profile:   storage.DefaultProfile(),
	}
}

// Start loads the profile of the current application. If shading is enabled
// it waits delay, giving gamescope time to come up, then applies.
func (s *Session) Start(ctx context.Context, delay time.Duration) {
	s.mu.Lock()
	s.loadProfile()
	enabled := s.profile.Enabled
	s.mu.Unlock()

	if !enabled {
		return
	}

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
	s.Apply(ctx, true)
}

// State returns a snapshot of the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		App:       s.app,
		Enabled:   s.profile.Enabled,
		Current:   s.profile.Current,
		Contrast:  s.profile.Contrast,
		Sharpness: s.profile.Sharpness,
		Tunable:   s.tunable.File,
	}
}

// SetEnabled flips the enabled flag and persists it. It does not apply.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile.Enabled = enabled
	s.save()
}

// SetShader selects name and persists it. When enabled the shader is
// activated right away, patching the uniforms first for the tunable shader.
func (s *Session) SetShader(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile.Current = name
	s.save()
	if !s.profile.Enabled {
		return
	}
	if s.isTunable(name) {
		s.patchUniforms()
	}
	s.log.Info("setting and applying shader", "shader", name)
	s.activate(ctx, name, gamescope.ForceOmit)
}

// SetContrast updates the in-memory Contrast value. It takes effect on the
// next Apply.
func (s *Session) SetContrast(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Contrast = v
}

// SetSharpness updates the in-memory Sharpness value. It takes effect on the
// next Apply.
func (s *Session) SetSharpness(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Sharpness = v
}

// Apply activates the selected shader if shading is enabled. For the
// tunable shader the profile is persisted and both uniforms are patched
// first.
func (s *Session) Apply(ctx context.Context, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(ctx, force)
}

// ToggleTo activates name regardless of the enabled flag, patching the
// uniforms first for the tunable shader. Used to clear the effect ("None")
// or to re-activate the selection after enabling.
func (s *Session) ToggleTo(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggleTo(ctx, name)
}

// OnApplicationContextChanged switches to the profile of application id and
// reacts to the difference from the previous profile:
//
//   - disabled -> enabled: apply (forced)
//   - enabled -> disabled: clear the effect
//   - still enabled, and the shader changed or is the tunable one: apply
//     (not forced). The tunable shader is re-patched even when unchanged
//     because its uniform values are per application.
//   - otherwise nothing
func (s *Session) OnApplicationContextChanged(ctx context.Context, id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevEnabled := s.profile.Enabled
	prevCurrent := s.profile.Current

	s.app = storage.AppContext{ID: id, Name: name}
	s.loadProfile()

	// A caller that only knows the id keeps the name stored for it
	if s.app.Name == "" {
		s.app.Name = s.profile.AppName
	}
	if s.app.Name == "" {
		s.app.Name = id
	}
	s.log.Info("current app changed", "id", id, "name", s.app.Name)

	enabled := s.profile.Enabled
	switch {
	case enabled && !prevEnabled:
		s.apply(ctx, true)
	case prevEnabled && !enabled:
		s.toggleTo(ctx, storage.NoShader)
	case enabled && (s.profile.Current != prevCurrent || s.isTunable(s.profile.Current)):
		s.apply(ctx, false)
	}
}

// InstallPack extracts the archive at path into the live shader directory.
// It runs as a transition so it never interleaves with a uniform patch. If
// the pack replaced the selected tunable shader its uniforms are patched
// again with the profile values; nothing is activated.
func (s *Session) InstallPack(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.packs == nil {
		return nil, ErrNoInstaller
	}
	names, err := s.packs.Install(path, s.shaderDir)
	if err != nil {
		return nil, err
	}
	if s.profile.Enabled && s.isTunable(s.profile.Current) && slices.Contains(names, s.tunable.File) {
		s.patchUniforms()
	}
	return names, nil
}

// CatalogChanged warns when the selected shader is no longer installed
func (s *Session) CatalogChanged(names []string) {
	s.mu.Lock()
	current := s.profile.Current
	s.mu.Unlock()

	s.log.Debug("shader catalog changed", "count", len(names))
	if current != storage.NoShader && !slices.Contains(names, current) {
		s.log.Warn("selected shader is no longer installed", "shader", current)
	}
}

func (s *Session) apply(ctx context.Context, force bool) {
	if !s.profile.Enabled {
		return
	}
	name := s.profile.Current
	if s.isTunable(name) {
		s.save()
		s.patchUniforms()
	}
	s.log.Info("applying shader", "shader", name, "force", force)

	mode := gamescope.ForceOff
	if force {
		mode = gamescope.ForceOn
	}
	s.activate(ctx, name, mode)
}

func (s *Session) toggleTo(ctx context.Context, name string) {
	if s.isTunable(name) {
		s.patchUniforms()
	}
	s.log.Info("toggling shader", "shader", name)
	s.activate(ctx, name, gamescope.ForceOmit)
}

// patchUniforms writes the in-memory values into the tunable shader.
// Failures are logged by the patcher; activation still goes ahead.
func (s *Session) patchUniforms() {
	path := filepath.Join(s.shaderDir, s.tunable.File)
	values := map[string]float64{
		shader.UniformContrast:  s.profile.Contrast,
		shader.UniformSharpness: s.profile.Sharpness,
	}
	for _, u := range s.tunable.Uniforms {
		v, ok := values[u.Name]
		if !ok {
			continue
		}
		if err := s.patcher.Patch(path, u.Name, v); err != nil {
			s.log.Debug("uniform patch skipped", "uniform", u.Name, "error", err)
		}
	}
}

func (s *Session) activate(ctx context.Context, name string, force gamescope.Force) {
	if err := s.activator.Activate(ctx, gamescope.Activation{Shader: name, Force: force}); err != nil {
		s.log.Error("apply shader failed", "shader", name, "error", err)
	}
}

func (s *Session) loadProfile() {
	p, err := s.store.Load(s.app.ID)
	if err != nil {
		s.log.Error("failed to read config", "app", s.app.ID, "error", err)
	}
	s.profile = p
}

func (s *Session) save() {
	// The id is only a placeholder name; never let it replace a real one
	if s.app.Name != s.app.ID || s.profile.AppName == "" {
		s.profile.AppName = s.app.Name
	}
	if err := s.store.Save(s.app.ID, s.profile); err != nil {
		s.log.Error("failed to write config", "app", s.app.ID, "error", err)
	}
}

func (s *Session) isTunable(name string) bool {
	return name == s.tunable.File
}
