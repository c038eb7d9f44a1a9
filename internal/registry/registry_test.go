package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skoll/overseer/internal/workspace"
	"go.uber.org/zap"
)

func validDefinition(name string) *Definition {
	return &Definition{
		Name:         name,
		Description:  "writes and reviews code",
		Role:         "developer",
		Capabilities: []string{"code_analysis"},
		Tools:        []string{"editor"},
		Permissions: map[string]bool{
			PermissionFileSystem: true,
			PermissionTerminal:   true,
			PermissionNetwork:    false,
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())

	cases := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"empty name", func(d *Definition) { d.Name = "" }},
		{"empty description", func(d *Definition) { d.Description = "  " }},
		{"empty role", func(d *Definition) { d.Role = "" }},
		{"missing permission key", func(d *Definition) { delete(d.Permissions, PermissionTerminal) }},
		{"unknown permission key", func(d *Definition) { d.Permissions["root_access"] = true }},
		{"nil permissions", func(d *Definition) { d.Permissions = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDefinition("Agent")
			tc.mutate(d)
			if err := r.Register(d); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := r.Register(validDefinition("Agent")); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestRegisterUpsertByLowercaseName(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }

	first := validDefinition("CodeBot")
	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}

	r.now = func() time.Time { return time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC) }
	second := validDefinition("codebot")
	second.Role = "reviewer"
	if err := r.Register(second); err != nil {
		t.Fatal(err)
	}

	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1 after upsert", r.Len())
	}
	got, ok := r.Get("CODEBOT")
	if !ok {
		t.Fatal("lookup by different case failed")
	}
	if got.Role != "reviewer" {
		t.Fatalf("role = %q, want replacement to win", got.Role)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("upsert must preserve CreatedAt")
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatal("upsert must bump UpdatedAt")
	}
}

func TestRegisterPersistsAndLoadRestores(t *testing.T) {
	dir := t.TempDir()
	ws := workspace.New(filepath.Join(dir, ".overseer"), zap.NewNop())
	if err := ws.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(ws, zap.NewNop())
	if err := r.Register(validDefinition("CodeBot")); err != nil {
		t.Fatal(err)
	}

	path := ws.AgentPath("codebot")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("definition document not written: %v", err)
	}
	if !strings.HasSuffix(path, ".agent.definition.json") {
		t.Fatalf("unexpected definition path %q", path)
	}

	fresh := NewRegistry(ws, zap.NewNop())
	n, err := fresh.Load()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("loaded %d definitions, want 1", n)
	}
	if _, ok := fresh.Get("CodeBot"); !ok {
		t.Fatal("loaded registry missing CodeBot")
	}
}

func TestLoadSkipsCorruptAndInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	ws := workspace.New(filepath.Join(dir, ".overseer"), zap.NewNop())
	if err := ws.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(ws, zap.NewNop())
	if err := r.Register(validDefinition("GoodBot")); err != nil {
		t.Fatal(err)
	}
	// Corrupt JSON document.
	if err := os.WriteFile(ws.AgentPath("broken"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Parseable but invalid definition.
	if err := ws.WriteDoc(ws.AgentPath("incomplete"), &Definition{Name: "Incomplete"}); err != nil {
		t.Fatal(err)
	}
	// Unrelated file in the same directory.
	if err := os.WriteFile(filepath.Join(ws.AgentsDir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	fresh := NewRegistry(ws, zap.NewNop())
	n, err := fresh.Load()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("loaded %d definitions, want only the valid one", n)
	}
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	ws := workspace.New(filepath.Join(t.TempDir(), "absent"), zap.NewNop())
	r := NewRegistry(ws, zap.NewNop())
	n, err := r.Load()
	if err != nil {
		t.Fatalf("missing dir must not error: %v", err)
	}
	if n != 0 {
		t.Fatalf("loaded %d, want 0", n)
	}
}

func TestListSortedByName(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(validDefinition(name)); err != nil {
			t.Fatal(err)
		}
	}
	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, d := range list {
		if d.Name != want[i] {
			t.Fatalf("list[%d] = %q, want %q", i, d.Name, want[i])
		}
	}
}

func TestDefaultDefinitionsAreValid(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	for _, d := range DefaultDefinitions() {
		if err := r.Register(d); err != nil {
			t.Fatalf("default definition %q rejected: %v", d.Name, err)
		}
	}
	if r.Len() != len(DefaultDefinitions()) {
		t.Fatalf("len = %d, want %d", r.Len(), len(DefaultDefinitions()))
	}
}
