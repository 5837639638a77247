package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the root command against a bolt store in dir.
func run(t *testing.T, dir string, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--data-dir", dir, "--engine", "bolt"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSetGetRemove(t *testing.T) {
	dir := t.TempDir()

	if _, err := run(t, dir, "", "set", "app", `{"state":{"n":1},"version":1}`); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, dir, "", "get", "app")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != `{"state":{"n":1},"version":1}` {
		t.Fatalf("get = %s", got)
	}

	if _, err := run(t, dir, "", "rm", "app"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, dir, "", "get", "app"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("get after rm: got %v, want ErrItemNotFound", err)
	}
}

func TestSetFromStdin(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, dir, `["a", true, null]`, "set", "list"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, dir, "", "get", "list")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != `["a",true,null]` {
		t.Fatalf("get = %s", got)
	}
}

func TestSetRejectsInvalidJSON(t *testing.T) {
	if _, err := run(t, t.TempDir(), "", "set", "k", "{not json"); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestPrettyFormat(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, dir, "", "set", "k", `{"a":1}`); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, dir, "", "--format", "pretty", "get", "k")
	if err != nil {
		t.Fatal(err)
	}
	if out != "{\n  \"a\": 1\n}\n" {
		t.Fatalf("pretty output = %q", out)
	}
}

func TestInvalidFormat(t *testing.T) {
	if _, err := run(t, t.TempDir(), "", "--format", "yaml", "keys"); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestKeysAndStores(t *testing.T) {
	dir := t.TempDir()
	for _, k := range []string{"b", "a", "c"} {
		if _, err := run(t, dir, "", "set", k, "1"); err != nil {
			t.Fatal(err)
		}
	}
	out, err := run(t, dir, "", "keys")
	if err != nil {
		t.Fatal(err)
	}
	if out != "a\nb\nc\n" {
		t.Fatalf("keys = %q", out)
	}

	out, err = run(t, dir, "", "stores")
	if err != nil {
		t.Fatal(err)
	}
	if out != "default (version 1)\n  keyval\n" {
		t.Fatalf("stores = %q", out)
	}
}

func TestDatabaseAndStoreFlags(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, dir, "", "-d", "app", "-s", "state", "set", "k", `"v"`); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "app.db")); err != nil {
		t.Fatalf("database file: %v", err)
	}
	if _, err := run(t, dir, "", "get", "k"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("default database should not see the record: %v", err)
	}
	out, err := run(t, dir, "", "-d", "app", "-s", "state", "get", "k")
	if err != nil || strings.TrimSpace(out) != `"v"` {
		t.Fatalf("get = %q, %v", out, err)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(t.TempDir(), "config.toml")
	conf := "[database]\nname = \"fromfile\"\nstore = \"s\"\n"
	if err := os.WriteFile(path, []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, dir, "", "--config", path, "set", "k", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fromfile.db")); err != nil {
		t.Fatalf("database file: %v", err)
	}
}

func TestUnknownEngine(t *testing.T) {
	if _, err := run(t, t.TempDir(), "", "--engine", "sqlite", "keys"); err == nil {
		t.Fatal("expected an error for an unknown engine")
	}
}

func TestMemoryEngine(t *testing.T) {
	out, err := run(t, t.TempDir(), "", "--engine", "memory", "get", "k")
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("get on a fresh memory engine = %q, %v", out, err)
	}
}

func TestPrettyOnlyForTerminals(t *testing.T) {
	opts := &RootOptions{Format: FormatAuto}
	if opts.pretty(&bytes.Buffer{}) {
		t.Fatal("a buffer is not a terminal")
	}
	opts.Format = FormatPretty
	if !opts.pretty(&bytes.Buffer{}) {
		t.Fatal("pretty format should always indent")
	}
}

func TestWriteValueMixedKeys(t *testing.T) {
	var buf bytes.Buffer
	v := map[string]any{"counts": map[any]any{1: "one", true: []any{map[any]any{2.5: nil}}}}
	if err := writeValue(&buf, v, false); err != nil {
		t.Fatal(err)
	}
	want := `{"counts":{"1":"one","true":[{"2.5":null}]}}` + "\n"
	if buf.String() != want {
		t.Fatalf("writeValue = %q, want %q", buf.String(), want)
	}
}
