package shader

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func writeFiles(t *testing.T, fs afero.Fs, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := afero.WriteFile(fs, filepath.Join(dir, name), []byte("// "+name), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"CAS_1234abcd.fx", true},
		{"CAS_0000ZZZZ.fx", true},
		{"CAS.fx", false},
		{"CAS_123abcd.fx", false},
		{"CAS_1234abc_.fx", false},
		{"CAS_1234abcd.fxh", false},
		{"Vibrance_1234abcd.fx", false},
	}
	for _, tc := range tests {
		if got := IsTransient(tc.name); got != tc.want {
			t.Errorf("IsTransient(%q): expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestCatalog_List(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, "/shaders", "Vibrance.fx", "CAS_1234abcd.fx", "CAS.fx", "ReShade.fxh", "notes.txt")
	if err := fs.MkdirAll("/shaders/Textures.fx", 0755); err != nil {
		t.Fatal(err)
	}

	names, err := NewCatalog(fs, "/shaders", nil).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"CAS.fx", "Vibrance.fx"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestCatalog_ListMissingDir(t *testing.T) {
	names, err := NewCatalog(afero.NewMemMapFs(), "/nope", nil).List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected empty list, got %v", names)
	}
}

func TestCatalog_Watch(t *testing.T) {
	dir := t.TempDir()
	catalog := NewCatalog(afero.NewOsFs(), dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- catalog.Watch(ctx, func(names []string) {
			changes <- names
		})
	}()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "Vibrance.fx"), []byte("//"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "CAS_1234abcd.fx"), []byte("//"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case names := <-changes:
		if !reflect.DeepEqual(names, []string{"Vibrance.fx"}) {
			t.Errorf("expected [Vibrance.fx], got %v", names)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for catalog change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}

func TestSeed(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, "/plugin/shaders", "CAS.fx", "Vibrance.fx", "set_shader.sh")

	n, err := Seed(context.Background(), fs, "/plugin/shaders", "/live/Shaders", nil)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 shaders copied, got %d", n)
	}

	names, err := NewCatalog(fs, "/live/Shaders", nil).List()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"CAS.fx", "Vibrance.fx"}) {
		t.Errorf("unexpected live shaders %v", names)
	}

	info, err := fs.Stat("/live/Shaders/CAS.fx")
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("expected mode 0644, got %v", info.Mode().Perm())
	}

	data, err := afero.ReadFile(fs, "/live/Shaders/Vibrance.fx")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "// Vibrance.fx" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestTunable(t *testing.T) {
	if Tunable("").File != "CAS.fx" {
		t.Error("expected default tunable file CAS.fx")
	}
	tun := Tunable("CAS_custom.fx")
	if tun.File != "CAS_custom.fx" {
		t.Errorf("expected CAS_custom.fx, got %s", tun.File)
	}
	u, ok := tun.Uniform(UniformSharpness)
	if !ok {
		t.Fatal("expected Sharpness uniform")
	}
	if !u.InRange(2) || u.InRange(2.1) || u.InRange(-0.1) {
		t.Error("unexpected Sharpness range")
	}
	if _, ok := tun.Uniform("Brightness"); ok {
		t.Error("unexpected Brightness uniform")
	}
}
