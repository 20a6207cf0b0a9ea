package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testCatalog = `boards:
  - id: team-a
    name: Team A
    timezone: Europe/Berlin
    columns:
      - id: todo
        name: To Do
      - id: doing
        name: Doing
        wip_limit: 3
      - id: done
        name: Done
        terminal: true
`

func setupAdminEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	catalog := filepath.Join(dir, "boards.yaml")
	if err := os.WriteFile(catalog, []byte(testCatalog), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOWBOARD_STORAGE_DRIVER", "sqlite")
	t.Setenv("FLOWBOARD_SQLITE_PATH", filepath.Join(dir, "flowboard.db"))
	t.Setenv("FLOWBOARD_CATALOG_PATH", catalog)
	return dir
}

func TestAdminWorkflow(t *testing.T) {
	dir := setupAdminEnv(t)
	cfgFlag := []string{"--config", filepath.Join(dir, "missing.yaml")}

	steps := [][]string{
		append([]string{"sync-catalog"}, cfgFlag...),
		append([]string{"boards"}, cfgFlag...),
		append([]string{"recompute", "--board", "team-a", "--date", "2024-03-01"}, cfgFlag...),
		append([]string{"snapshots", "--board", "team-a"}, cfgFlag...),
		append([]string{"migrate-status"}, cfgFlag...),
	}
	for _, args := range steps {
		if err := runAdmin(args); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	deps, err := loadAdminDeps(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer deps.cleanup()
	snaps, err := deps.store.ListSnapshots(context.Background(), "team-a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].Date != "2024-03-01" {
		t.Fatalf("expected one recomputed snapshot, got %+v", snaps)
	}
}

func TestAdminErrors(t *testing.T) {
	setupAdminEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"snapshots without board", []string{"snapshots"}},
		{"recompute without board", []string{"recompute", "--date", "2024-03-01"}},
		{"recompute bad date", []string{"recompute", "--board", "team-a", "--date", "yesterday"}},
		{"recompute unknown board", []string{"recompute", "--board", "nope", "--date", "2024-03-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := runAdmin(tt.args); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestAdminHelp(t *testing.T) {
	if err := runAdmin(nil); err != nil {
		t.Fatal(err)
	}
}
