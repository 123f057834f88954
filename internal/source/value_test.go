package source

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mirrord/internal/mirror"
)

type settings struct {
	Name  string            `json:"name" msgpack:"name"`
	Port  int               `json:"port" msgpack:"port"`
	Attrs map[string]string `json:"attrs,omitempty" msgpack:"attrs,omitempty"`
}

func TestValueCounter(t *testing.T) {
	v := NewValue("cfg", nil, settings{Name: "a"})
	if v.ChangeCounter() != 0 {
		t.Fatalf("initial counter: %d", v.ChangeCounter())
	}
	v.Set(settings{Name: "b"})
	v.Update(func(s *settings) { s.Port = 80 })

	if v.ChangeCounter() != 2 {
		t.Errorf("counter: got %d, want 2", v.ChangeCounter())
	}
	if got := v.Get(); got.Name != "b" || got.Port != 80 {
		t.Errorf("Get: %+v", got)
	}
	if v.Identifier() != "cfg" || v.Codec() != JSON {
		t.Errorf("identity: %q %s", v.Identifier(), v.Codec().Name())
	}
}

func TestSnapshotIsFrozen(t *testing.T) {
	v := NewValue("cfg", JSON, map[string]string{"k": "before"})
	snap := v.Snapshot()
	v.Update(func(m *map[string]string) { (*m)["k"] = "after" })

	var buf bytes.Buffer
	if err := snap.WriteMirror(&buf); err != nil {
		t.Fatalf("WriteMirror: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("before")) || bytes.Contains(buf.Bytes(), []byte("after")) {
		t.Errorf("snapshot not frozen: %s", buf.String())
	}
}

func TestSnapshotEncodeFailure(t *testing.T) {
	v := NewValue("bad", JSON, func() {})
	err := v.Snapshot().WriteMirror(&bytes.Buffer{})
	if err == nil {
		t.Fatal("expected encode error for a func value")
	}
}

func TestCodecs(t *testing.T) {
	want := settings{Name: "svc", Port: 8080, Attrs: map[string]string{"b": "2", "a": "1"}}
	for _, codec := range []Codec{JSON, Msgpack} {
		t.Run(codec.Name(), func(t *testing.T) {
			v := NewValue("svc", codec, want)

			var first, second bytes.Buffer
			if err := v.WriteMirror(&first); err != nil {
				t.Fatalf("WriteMirror: %v", err)
			}
			if err := v.WriteMirror(&second); err != nil {
				t.Fatalf("WriteMirror: %v", err)
			}
			if !bytes.Equal(first.Bytes(), second.Bytes()) {
				t.Error("encoding is not deterministic")
			}

			path := filepath.Join(t.TempDir(), "m")
			if err := os.WriteFile(path, first.Bytes(), 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := Load[settings](path, codec)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Name != want.Name || got.Port != want.Port || got.Attrs["a"] != "1" || got.Attrs["b"] != "2" {
				t.Errorf("round trip: got %+v", got)
			}
		})
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name string
		want Codec
		err  error
	}{
		{"", JSON, nil},
		{"json", JSON, nil},
		{"msgpack", Msgpack, nil},
		{"yaml", nil, ErrUnknownCodec},
	}
	for _, tt := range tests {
		got, err := CodecByName(tt.name)
		if !errors.Is(err, tt.err) || got != tt.want {
			t.Errorf("%q: got %v, %v", tt.name, got, err)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load[settings](filepath.Join(t.TempDir(), "missing"), JSON); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load[settings](path, nil); err == nil {
		t.Error("expected decode error")
	}
}

func TestHistoryFound(t *testing.T) {
	v := NewValue("cfg", nil, 0)
	var got []mirror.HistoryFile
	v.OnHistory(func(files []mirror.HistoryFile) { got = files })

	files := []mirror.HistoryFile{{Path: "/x/new"}, {Path: "/x/old"}}
	v.HistoryFound(files)
	files[0].Path = "mutated"

	if h := v.History(); len(h) != 2 || h[0].Path != "/x/new" {
		t.Errorf("History: %+v", h)
	}
	if len(got) != 2 {
		t.Errorf("callback: %+v", got)
	}
}

// TestMirrorAndRestore runs a Value through a Manager across two sessions
// and restores the first session's state from history.
func TestMirrorAndRestore(t *testing.T) {
	root := t.TempDir()

	m, err := mirror.New(mirror.Config{Root: root, PollPeriod: time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	v := NewValue("settings", Msgpack, settings{Name: "svc"})
	if _, err := m.AddSource(v); err != nil {
		t.Fatalf("add: %v", err)
	}
	v.Update(func(s *settings) { s.Port = 9000 })
	m.Kick()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = m.WaitFor(ctx, func() bool {
		r, _ := m.Record("settings")
		return r.LastSaved == 1 && !r.Saving
	})
	if err != nil {
		t.Fatal("timed out waiting for save")
	}
	current, ok := m.CurrentMirror("settings")
	if !ok {
		t.Fatal("no current mirror")
	}
	restored, err := Load[settings](current, Msgpack)
	if err != nil || restored.Port != 9000 {
		t.Fatalf("restore current: %+v, %v", restored, err)
	}
	m.Terminate()
	m.Wait()

	m2, err := mirror.New(mirror.Config{Root: root, PollPeriod: time.Second})
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	defer func() {
		m2.Terminate()
		m2.Wait()
	}()
	v2 := NewValue("settings", Msgpack, settings{})
	if _, err := m2.AddSource(v2); err != nil {
		t.Fatalf("add: %v", err)
	}
	history := v2.History()
	if len(history) != 1 {
		t.Fatalf("history: %+v", history)
	}
	prev, err := Load[settings](history[0].Path, Msgpack)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if prev.Name != "svc" || prev.Port != 9000 {
		t.Errorf("history content: %+v", prev)
	}
}
