package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/user-none/reshadeck/gamescope"
	"github.com/user-none/reshadeck/shader"
	"github.com/user-none/reshadeck/storage"
)

type patchCall struct {
	path    string
	uniform string
	value   float64
}

type fakePatcher struct {
	calls []patchCall
	err   error
}

func (f *fakePatcher) Patch(path, uniform string, value float64) error {
	f.calls = append(f.calls, patchCall{path, uniform, value})
	return f.err
}

type fakeActivator struct {
	calls []gamescope.Activation
	err   error
}

func (f *fakeActivator) Activate(ctx context.Context, a gamescope.Activation) error {
	f.calls = append(f.calls, a)
	return f.err
}

type fixture struct {
	sess      *Session
	store     *storage.ProfileStore
	patcher   *fakePatcher
	activator *fakeActivator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewProfileStore(afero.NewMemMapFs(), "/cfg/config.json", nil)
	f := &fixture{
		store:     store,
		patcher:   &fakePatcher{},
		activator: &fakeActivator{},
	}
	f.sess = New(Config{
		Store:     store,
		Patcher:   f.patcher,
		Activator: f.activator,
		ShaderDir: "/live/Shaders",
		Tunable:   shader.CAS,
	})
	return f
}

func (f *fixture) seed(t *testing.T, appID string, p storage.Profile) {
	t.Helper()
	if err := f.store.Save(appID, p); err != nil {
		t.Fatalf("failed to seed profile %s: %v", appID, err)
	}
}

func (f *fixture) reset() {
	f.patcher.calls = nil
	f.activator.calls = nil
}

func TestContextChange_DisabledToEnabledTunable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "42", storage.Profile{AppName: "Game", Enabled: true, Current: "CAS.fx", Contrast: 0.4, Sharpness: 1.2})

	f.sess.OnApplicationContextChanged(context.Background(), "42", "Game")

	if len(f.activator.calls) != 1 {
		t.Fatalf("expected exactly one activation, got %d", len(f.activator.calls))
	}
	want := gamescope.Activation{Shader: "CAS.fx", Force: gamescope.ForceOn}
	if f.activator.calls[0] != want {
		t.Errorf("expected %+v, got %+v", want, f.activator.calls[0])
	}

	if len(f.patcher.calls) != 2 {
		t.Fatalf("expected two uniform patches, got %d", len(f.patcher.calls))
	}
	wantPatches := []patchCall{
		{"/live/Shaders/CAS.fx", shader.UniformContrast, 0.4},
		{"/live/Shaders/CAS.fx", shader.UniformSharpness, 1.2},
	}
	for i, w := range wantPatches {
		if f.patcher.calls[i] != w {
			t.Errorf("patch %d: expected %+v, got %+v", i, w, f.patcher.calls[i])
		}
	}

	st := f.sess.State()
	if st.App.ID != "42" || st.App.Name != "Game" {
		t.Errorf("unexpected app %+v", st.App)
	}
}

func TestContextChange_EnabledToDisabled(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "1", storage.Profile{Enabled: true, Current: "A.fx", Sharpness: 1})
	f.seed(t, "2", storage.Profile{Enabled: false, Current: "CAS.fx", Sharpness: 1})

	f.sess.OnApplicationContextChanged(context.Background(), "1", "One")
	f.reset()

	f.sess.OnApplicationContextChanged(context.Background(), "2", "Two")

	if len(f.activator.calls) != 1 {
		t.Fatalf("expected exactly one activation, got %d", len(f.activator.calls))
	}
	want := gamescope.Activation{Shader: storage.NoShader, Force: gamescope.ForceOmit}
	if f.activator.calls[0] != want {
		t.Errorf("expected %+v, got %+v", want, f.activator.calls[0])
	}
	if len(f.patcher.calls) != 0 {
		t.Errorf("expected no patches, got %d", len(f.patcher.calls))
	}
}

func TestContextChange_Reactions(t *testing.T) {
	tests := []struct {
		name        string
		prev        storage.Profile
		next        storage.Profile
		wantApply   *gamescope.Activation
		wantPatches int
	}{
		{
			name:      "shader changed",
			prev:      storage.Profile{Enabled: true, Current: "A.fx", Sharpness: 1},
			next:      storage.Profile{Enabled: true, Current: "B.fx", Sharpness: 1},
			wantApply: &gamescope.Activation{Shader: "B.fx", Force: gamescope.ForceOff},
		},
		{
			name:        "tunable unchanged is re-applied",
			prev:        storage.Profile{Enabled: true, Current: "CAS.fx", Contrast: 0.1, Sharpness: 1},
			next:        storage.Profile{Enabled: true, Current: "CAS.fx", Contrast: 0.9, Sharpness: 0.3},
			wantApply:   &gamescope.Activation{Shader: "CAS.fx", Force: gamescope.ForceOff},
			wantPatches: 2,
		},
		{
			name: "same non-tunable shader",
			prev: storage.Profile{Enabled: true, Current: "A.fx", Sharpness: 1},
			next: storage.Profile{Enabled: true, Current: "A.fx", Sharpness: 1},
		},
		{
			name: "still disabled",
			prev: storage.Profile{Enabled: false, Current: "A.fx", Sharpness: 1},
			next: storage.Profile{Enabled: false, Current: "CAS.fx", Sharpness: 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "prev", tc.prev)
			f.seed(t, "next", tc.next)
			f.sess.OnApplicationContextChanged(context.Background(), "prev", "")
			f.reset()

			f.sess.OnApplicationContextChanged(context.Background(), "next", "")

			if tc.wantApply == nil {
				if len(f.activator.calls) != 0 {
					t.Fatalf("expected no activation, got %+v", f.activator.calls)
				}
			} else {
				if len(f.activator.calls) != 1 {
					t.Fatalf("expected one activation, got %+v", f.activator.calls)
				}
				if f.activator.calls[0] != *tc.wantApply {
					t.Errorf("expected %+v, got %+v", *tc.wantApply, f.activator.calls[0])
				}
			}
			if len(f.patcher.calls) != tc.wantPatches {
				t.Errorf("expected %d patches, got %d", tc.wantPatches, len(f.patcher.calls))
			}
			if tc.wantPatches == 2 {
				if f.patcher.calls[0].value != tc.next.Contrast || f.patcher.calls[1].value != tc.next.Sharpness {
					t.Errorf("patched values %+v do not match the new profile", f.patcher.calls)
				}
			}
		})
	}
}

func TestContextChange_UnknownAppUsesDefaults(t *testing.T) {
	f := newFixture(t)

	f.sess.OnApplicationContextChanged(context.Background(), "777", "")

	st := f.sess.State()
	if st.App.Name != "777" {
		t.Errorf("expected name to fall back to id, got %q", st.App.Name)
	}
	if st.Enabled || st.Current != storage.NoShader || st.Contrast != 0 || st.Sharpness != 1 {
		t.Errorf("expected default state, got %+v", st)
	}
	if len(f.activator.calls) != 0 {
		t.Errorf("expected no activation, got %d", len(f.activator.calls))
	}
}

func TestSetEnabled_PersistsWithoutApply(t *testing.T) {
	f := newFixture(t)
	f.sess.OnApplicationContextChanged(context.Background(), "42", "Game")

	f.sess.SetEnabled(true)

	if len(f.activator.calls) != 0 {
		t.Errorf("expected no activation, got %d", len(f.activator.calls))
	}
	p, err := f.store.Load("42")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Enabled || p.AppName != "Game" {
		t.Errorf("expected enabled profile for Game, got %+v", p)
	}
}

func TestSetShader(t *testing.T) {
	f := newFixture(t)
	f.sess.OnApplicationContextChanged(context.Background(), "42", "Game")

	// Disabled: persisted only
	f.sess.SetShader(context.Background(), "Vibrance.fx")
	if len(f.activator.calls) != 0 {
		t.Errorf("expected no activation while disabled, got %d", len(f.activator.calls))
	}
	if p, _ := f.store.Load("42"); p.Current != "Vibrance.fx" {
		t.Errorf("expected Vibrance.fx persisted, got %q", p.Current)
	}

	f.sess.SetEnabled(true)
	f.sess.SetShader(context.Background(), "CAS.fx")
	if len(f.patcher.calls) != 2 {
		t.Errorf("expected two patches for the tunable shader, got %d", len(f.patcher.calls))
	}
	want := gamescope.Activation{Shader: "CAS.fx", Force: gamescope.ForceOmit}
	if len(f.activator.calls) != 1 || f.activator.calls[0] != want {
		t.Errorf("expected %+v, got %+v", want, f.activator.calls)
	}
}

func TestTuning_DeferredUntilApply(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "42", storage.Profile{Enabled: true, Current: "CAS.fx", Contrast: 0, Sharpness: 1})
	f.sess.OnApplicationContextChanged(context.Background(), "42", "Game")
	f.reset()

	f.sess.SetContrast(1.5)
	f.sess.SetSharpness(0.2)

	if len(f.patcher.calls) != 0 || len(f.activator.calls) != 0 {
		t.Fatal("tuning should not patch or apply")
	}
	if p, _ := f.store.Load("42"); p.Contrast != 0 || p.Sharpness != 1 {
		t.Errorf("tuning should not be persisted before apply, got %+v", p)
	}

	f.sess.Apply(context.Background(), true)

	if len(f.patcher.calls) != 2 {
		t.Fatalf("expected two patches, got %d", len(f.patcher.calls))
	}
	if f.patcher.calls[0].value != 1.5 || f.patcher.calls[1].value != 0.2 {
		t.Errorf("unexpected patch values %+v", f.patcher.calls)
	}
	if p, _ := f.store.Load("42"); p.Contrast != 1.5 || p.Sharpness != 0.2 {
		t.Errorf("expected tuning persisted on apply, got %+v", p)
	}
}

func TestApply_DisabledIsNoop(t *testing.T) {
	f := newFixture(t)

	f.sess.Apply(context.Background(), true)

	if len(f.activator.calls) != 0 || len(f.patcher.calls) != 0 {
		t.Error("expected no work while disabled")
	}
}

func TestApply_PatchFailureStillActivates(t *testing.T) {
	f := newFixture(t)
	f.patcher.err = shader.ErrShaderNotFound
	f.activator.err = errors.New("script missing")
	f.seed(t, "42", storage.Profile{Enabled: true, Current: "CAS.fx", Sharpness: 1})
	f.sess.OnApplicationContextChanged(context.Background(), "42", "")

	if len(f.patcher.calls) != 2 {
		t.Errorf("expected both patches attempted, got %d", len(f.patcher.calls))
	}
	if len(f.activator.calls) != 1 {
		t.Errorf("expected activation despite patch failure, got %d", len(f.activator.calls))
	}
	if st := f.sess.State(); !st.Enabled || st.Current != "CAS.fx" {
		t.Errorf("state should remain as set, got %+v", st)
	}
}

func TestToggleTo(t *testing.T) {
	f := newFixture(t)

	f.sess.ToggleTo(context.Background(), "CAS.fx")
	if len(f.patcher.calls) != 2 {
		t.Errorf("expected two patches, got %d", len(f.patcher.calls))
	}
	f.sess.ToggleTo(context.Background(), storage.NoShader)
	if len(f.patcher.calls) != 2 {
		t.Errorf("expected no extra patches for None, got %d", len(f.patcher.calls))
	}

	want := []gamescope.Activation{
		{Shader: "CAS.fx", Force: gamescope.ForceOmit},
		{Shader: storage.NoShader, Force: gamescope.ForceOmit},
	}
	if len(f.activator.calls) != len(want) {
		t.Fatalf("expected %d activations, got %d", len(want), len(f.activator.calls))
	}
	for i := range want {
		if f.activator.calls[i] != want[i] {
			t.Errorf("activation %d: expected %+v, got %+v", i, want[i], f.activator.calls[i])
		}
	}
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	f.seed(t, storage.UnknownApp, storage.Profile{Enabled: true, Current: "Vibrance.fx", Sharpness: 1})

	f.sess.Start(context.Background(), 0)

	want := gamescope.Activation{Shader: "Vibrance.fx", Force: gamescope.ForceOn}
	if len(f.activator.calls) != 1 || f.activator.calls[0] != want {
		t.Errorf("expected %+v, got %+v", want, f.activator.calls)
	}
}

func TestStart_CancelledDuringDelay(t *testing.T) {
	f := newFixture(t)
	f.seed(t, storage.UnknownApp, storage.Profile{Enabled: true, Current: "Vibrance.fx", Sharpness: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.sess.Start(ctx, time.Hour)

	if len(f.activator.calls) != 0 {
		t.Errorf("expected no activation after cancel, got %d", len(f.activator.calls))
	}
	if !f.sess.State().Enabled {
		t.Error("expected profile loaded before the delay")
	}
}

func TestCatalogChanged(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t)
	f.sess.log = hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Warn})
	f.sess.SetShader(context.Background(), "Vibrance.fx")

	f.sess.CatalogChanged([]string{"CAS.fx", "Vibrance.fx"})
	if buf.Len() != 0 {
		t.Errorf("expected no warning while installed, got %q", buf.String())
	}

	f.sess.CatalogChanged([]string{"CAS.fx"})
	if !strings.Contains(buf.String(), "no longer installed") {
		t.Errorf("expected warning for removed shader, got %q", buf.String())
	}
	if len(f.activator.calls) != 0 {
		t.Errorf("catalog changes should not activate, got %d", len(f.activator.calls))
	}
}

func TestContextChange_EmptyNameKeepsStoredName(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "620", storage.Profile{AppName: "Portal 2", Enabled: true, Current: "CAS.fx", Contrast: 0.5, Sharpness: 1})

	f.sess.OnApplicationContextChanged(context.Background(), "620", "")

	if st := f.sess.State(); st.App.Name != "Portal 2" {
		t.Errorf("expected stored name Portal 2, got %q", st.App.Name)
	}

	// Tunable apply and explicit edits both save the profile
	f.sess.Apply(context.Background(), true)
	f.sess.SetEnabled(true)

	p, err := f.store.Load("620")
	if err != nil {
		t.Fatal(err)
	}
	if p.AppName != "Portal 2" {
		t.Errorf("stored appname overwritten: %q", p.AppName)
	}
}

func TestContextChange_EmptyNameFallsBackToID(t *testing.T) {
	f := newFixture(t)

	f.sess.OnApplicationContextChanged(context.Background(), "99", "")
	f.sess.SetEnabled(true)

	if st := f.sess.State(); st.App.Name != "99" {
		t.Errorf("expected id as name, got %q", st.App.Name)
	}
	p, err := f.store.Load("99")
	if err != nil {
		t.Fatal(err)
	}
	if p.AppName != "99" {
		t.Errorf("expected appname 99, got %q", p.AppName)
	}

	// A real name reported later replaces the placeholder
	f.sess.OnApplicationContextChanged(context.Background(), "99", "Game 99")
	f.sess.SetEnabled(false)
	if p, _ := f.store.Load("99"); p.AppName != "Game 99" {
		t.Errorf("expected appname Game 99, got %q", p.AppName)
	}
}

type fakeInstaller struct {
	sess     *Session
	names    []string
	err      error
	lockFree bool
}

func (f *fakeInstaller) Install(path, dst string) ([]string, error) {
	// The session lock must be held for the whole install
	if f.sess.mu.TryLock() {
		f.lockFree = true
		f.sess.mu.Unlock()
	}
	return f.names, f.err
}

func TestInstallPack(t *testing.T) {
	f := newFixture(t)
	inst := &fakeInstaller{names: []string{"CAS.fx", "Sepia.fx"}}
	f.sess.packs = inst
	inst.sess = f.sess

	f.seed(t, storage.UnknownApp, storage.Profile{Enabled: true, Current: "CAS.fx", Contrast: 0.4, Sharpness: 1.2})
	f.sess.Start(context.Background(), 0)
	f.reset()

	names, err := f.sess.InstallPack("/packs/pack.zip")
	if err != nil {
		t.Fatalf("InstallPack failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("unexpected names %v", names)
	}
	if inst.lockFree {
		t.Error("install ran without the session lock")
	}
	if len(f.patcher.calls) != 2 {
		t.Errorf("expected tunable shader re-patched, got %+v", f.patcher.calls)
	}
	if len(f.activator.calls) != 0 {
		t.Errorf("install should not activate, got %+v", f.activator.calls)
	}

	// Packs without the tunable shader leave it alone
	f.reset()
	inst.names = []string{"Sepia.fx"}
	if _, err := f.sess.InstallPack("/packs/other.zip"); err != nil {
		t.Fatal(err)
	}
	if len(f.patcher.calls) != 0 {
		t.Errorf("expected no patches, got %+v", f.patcher.calls)
	}

	inst.err = errors.New("bad archive")
	if _, err := f.sess.InstallPack("/packs/bad.zip"); err == nil {
		t.Error("expected install error")
	}
}

func TestInstallPack_NoInstaller(t *testing.T) {
	f := newFixture(t)
	if _, err := f.sess.InstallPack("/packs/pack.zip"); !errors.Is(err, ErrNoInstaller) {
		t.Errorf("expected ErrNoInstaller, got %v", err)
	}
}
