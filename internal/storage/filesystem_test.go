package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "scene_01/copy_1.mp4", want: "scene_01/copy_1.mp4"},
		{key: "/abs/file.mp4", want: "abs/file.mp4"},
		{key: `win\style\file.mp4`, want: "win/style/file.mp4"},
		{key: "./a/../b.mp4", want: "b.mp4"},
		{key: "../escape.mp4", wantErr: true},
		{key: "..", wantErr: true},
		{key: "  ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := sanitizeKey(tc.key)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) expected error, got %q", tc.key, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("sanitizeKey(%q) error: %v", tc.key, err)
		}
		if got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestWriteStreamRenamesOnSuccess(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	path, n, err := store.WriteStream(context.Background(), "videos/a.mp4", func(w io.Writer) (int64, error) {
		return io.Copy(w, strings.NewReader("payload"))
	})
	if err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	if n != int64(len("payload")) {
		t.Fatalf("n = %d, want %d", n, len("payload"))
	}
	if filepath.Base(path) != "a.mp4" {
		t.Fatalf("path = %q", path)
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Fatalf("part file should be gone, stat err = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "payload" {
		t.Fatalf("read back = %q, %v", data, err)
	}
}

func TestWriteStreamRejectsEmptyBody(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, _, err = store.WriteStream(context.Background(), "empty.mp4", func(w io.Writer) (int64, error) {
		return 0, nil
	})
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("err = %v, want ErrEmptyFile", err)
	}
	full, _ := store.Path("empty.mp4")
	if _, statErr := os.Stat(full); !os.IsNotExist(statErr) {
		t.Fatalf("empty artifact must not be kept, stat err = %v", statErr)
	}
	if _, statErr := os.Stat(full + ".part"); !os.IsNotExist(statErr) {
		t.Fatalf("part file must be removed, stat err = %v", statErr)
	}
}
