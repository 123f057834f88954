package layout

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("orders")
	if len(a) != IDLength {
		t.Fatalf("expected %d chars, got %d (%s)", IDLength, len(a), a)
	}
	if a != Fingerprint("orders") {
		t.Error("fingerprint is not deterministic")
	}
	if a == Fingerprint("orders2") {
		t.Error("different identifiers produced the same fingerprint")
	}
	if !IsHistoryDirName(a) {
		t.Errorf("fingerprint %s not recognized as history dir name", a)
	}
}

func TestNewDefaults(t *testing.T) {
	d, err := New("/data/m", "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Prefix() != DefaultPrefix || d.Suffix() != DefaultSuffix {
		t.Errorf("got prefix %q suffix %q", d.Prefix(), d.Suffix())
	}
	if d.Root() != "/data/m" {
		t.Errorf("got root %s", d.Root())
	}
}

func TestValidateSuffix(t *testing.T) {
	tests := []struct {
		suffix string
		ok     bool
	}{
		{".bak", true},
		{".x", true},
		{".", false},
		{"bak", false},
		{"./x", false},
		{`.a\b`, false},
	}
	for _, tt := range tests {
		err := ValidateSuffix(tt.suffix)
		if tt.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tt.suffix, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidSuffix) {
			t.Errorf("%q: expected ErrInvalidSuffix, got %v", tt.suffix, err)
		}
	}
}

func TestValidatePrefix(t *testing.T) {
	if err := ValidatePrefix("snap_"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePrefix("a/b"); !errors.Is(err, ErrInvalidPrefix) {
		t.Errorf("expected ErrInvalidPrefix, got %v", err)
	}
	if _, err := New("/r", "..", ".bak"); !errors.Is(err, ErrInvalidPrefix) {
		t.Errorf("expected ErrInvalidPrefix from New, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	d, err := New("/data", "mir-", ".bak")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := Fingerprint("orders")

	if got, want := d.MirrorPath(id), "/data/mir-"+id+".bak"; got != want {
		t.Errorf("MirrorPath: got %s, want %s", got, want)
	}
	if got, want := d.TempPath(id), "/data/mir-"+id+".bak.tmp"; got != want {
		t.Errorf("TempPath: got %s, want %s", got, want)
	}
	if got, want := d.HistoryDir(id), "/data/"+id; got != want {
		t.Errorf("HistoryDir: got %s, want %s", got, want)
	}
	if got := d.LockPath(); got != "/data/.lock" {
		t.Errorf("LockPath: got %s", got)
	}

	h1 := d.NewHistoryPath(id)
	h2 := d.NewHistoryPath(id)
	if h1 == h2 {
		t.Error("history paths should be unique")
	}
	if filepath.Dir(h1) != d.HistoryDir(id) {
		t.Errorf("history path %s not inside %s", h1, d.HistoryDir(id))
	}
	if !d.IsMirrorName(filepath.Base(h1)) {
		t.Errorf("history name %s should follow the mirror naming convention", filepath.Base(h1))
	}
}

func TestParseMirrorName(t *testing.T) {
	d, _ := New("/data", "", "")
	id := Fingerprint("orders")

	got, ok := d.ParseMirrorName("mir-" + id + ".bak")
	if !ok || got != id {
		t.Errorf("got %q, %v", got, ok)
	}
	for _, name := range []string{
		"mir-" + id + ".bak.tmp",
		"mir-.bak",
		"mir-nothex.bak",
		"other-" + id + ".bak",
		strings.ToUpper("mir-" + id + ".bak"),
	} {
		if _, ok := d.ParseMirrorName(name); ok {
			t.Errorf("%s should not parse", name)
		}
	}
}

func TestParseTempName(t *testing.T) {
	d, _ := New("/data", "", "")
	id := Fingerprint("orders")

	if got, ok := d.ParseTempName(filepath.Base(d.TempPath(id))); !ok || got != id {
		t.Errorf("temp name: got %q, %v", got, ok)
	}
	if _, ok := d.ParseTempName(filepath.Base(d.MirrorPath(id))); ok {
		t.Error("mirror name parsed as temp name")
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "mirrors")
	d, err := New(root, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}

	// Calling again should be idempotent.
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}

func TestDefaultRoot(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg")
	root, err := DefaultRoot()
	if err != nil {
		t.Fatalf("DefaultRoot: %v", err)
	}
	if root != "/xdg/mirrord" {
		t.Errorf("got %s", root)
	}
}
