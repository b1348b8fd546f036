package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

func TestLoadEnvIgnoresMissingDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := loadEnv(""); err != nil {
		t.Fatalf("缺省 .env 不存在时应忽略: %v", err)
	}
}

func TestLoadEnvExplicitMissingFails(t *testing.T) {
	if err := loadEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for explicit missing env file")
	}
}

func TestLoadEnvSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("MARKETALERTS_TEST_TOKEN=abc123\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("MARKETALERTS_TEST_TOKEN", "")
	os.Unsetenv("MARKETALERTS_TEST_TOKEN")

	if err := loadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("MARKETALERTS_TEST_TOKEN"); got != "abc123" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestLoadEnvUsesOverride(t *testing.T) {
	var called []string
	loadEnvFunc = func(filenames ...string) error {
		called = append(called, filenames...)
		return nil
	}
	t.Cleanup(func() { loadEnvFunc = godotenv.Load })

	if err := loadEnv(""); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if len(called) != 1 || called[0] != ".env" {
		t.Fatalf("unexpected calls %v", called)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "snapshot": false, "simulate-alert": false, "show": false, "export": false, "version": false}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("command %s not registered", name)
		}
	}
}
