package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	salmon "github.com/mku11/Salmon-AES-CTR-sub010"
	"github.com/mku11/Salmon-AES-CTR-sub010/sequence/ipc"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseGlobalFlags_Precedence(t *testing.T) {
	yml := writeFile(t, "salmon.yaml", `
threads: 6
integrity: false
chunkSize: 65536
nameIntegrity: true
provider: block
seqFile: /from/yaml.json
kdf:
  algorithm: scrypt
  iterations: 12
`)
	cfg := Config{}
	cfg.LoadDefaults()
	rest, err := parseGlobalFlags(&cfg, []string{"-config", yml, "-threads", "3", "ls", "dir"})
	if err != nil {
		t.Fatalf("parseGlobalFlags failed: %v", err)
	}
	if len(rest) != 2 || rest[0] != "ls" {
		t.Errorf("rest = %v", rest)
	}
	// an explicit flag beats the file, the file beats the defaults
	if cfg.Threads != 3 {
		t.Errorf("Threads = %d, want 3", cfg.Threads)
	}
	if cfg.Integrity || cfg.ChunkSize != 65536 || !cfg.NameIntegrity {
		t.Errorf("YAML values not applied: %+v", cfg)
	}
	if cfg.SeqFile != "/from/yaml.json" {
		t.Errorf("SeqFile = %q", cfg.SeqFile)
	}
	if cfg.KDF.Algorithm != salmon.KDFScrypt || cfg.KDF.Iterations != 12 {
		t.Errorf("KDF = %+v", cfg.KDF)
	}

	s, err := cfg.Settings()
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if s.ChunkSize != 0 {
		t.Errorf("integrity off but chunk size %d", s.ChunkSize)
	}
	if s.Provider != salmon.ProviderBlock || !s.NameIntegrity || s.Threads != 3 {
		t.Errorf("Settings = %+v", s)
	}
}

func TestParseGlobalFlags_Errors(t *testing.T) {
	cfg := Config{}
	cfg.LoadDefaults()
	if _, err := parseGlobalFlags(&cfg, []string{"-config", "/does/not/exist.yaml", "ls"}); err == nil {
		t.Error("missing config file accepted")
	}
	bad := writeFile(t, "bad.yaml", "threads: [1, 2\n")
	if _, err := parseGlobalFlags(&cfg, []string{"-config", bad, "ls"}); err == nil {
		t.Error("malformed YAML accepted")
	}
	if _, err := parseGlobalFlags(&cfg, []string{"-nope"}); err == nil {
		t.Error("unknown flag accepted")
	}
}

func TestConfig_SettingsRejectsInvalid(t *testing.T) {
	cfg := Config{}
	cfg.LoadDefaults()
	cfg.Provider = "quantum"
	if _, err := cfg.Settings(); err == nil {
		t.Error("unknown provider accepted")
	}

	cfg.LoadDefaults()
	cfg.ChunkSize = 100
	if _, err := cfg.Settings(); !salmon.IsValidationError(err) {
		t.Errorf("bad chunk size: got %v", err)
	}
}

func TestParseInterspersed(t *testing.T) {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	dest := fs.String("dest", "/", "")
	var exclude multiFlag
	fs.Var(&exclude, "exclude", "")

	args, err := parseInterspersed(fs, []string{"drive", "-exclude", "*.tmp", "a", "b", "-dest", "/docs", "-exclude", "build"})
	if err != nil {
		t.Fatalf("parseInterspersed failed: %v", err)
	}
	if fmt.Sprint(args) != "[drive a b]" {
		t.Errorf("positional = %v", args)
	}
	if *dest != "/docs" || exclude.String() != "*.tmp,build" {
		t.Errorf("dest %q exclude %q", *dest, exclude.String())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("plain"), exitOther},
		{newExitErr(exitUsage, errors.New("usage")), exitUsage},
		{fmt.Errorf("wrapped: %w", exitf(exitPasswordIncorrect, "bad password")), exitPasswordIncorrect},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestConfig_ServerUID(t *testing.T) {
	uid := 1234
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"reserved socket", Config{SeqSocket: ipc.DefaultSocketPath}, ipc.ReservedUID},
		{"private socket", Config{SeqSocket: "/tmp/mine.sock"}, os.Geteuid()},
		{"explicit", Config{SeqSocket: ipc.DefaultSocketPath, TrustedUID: &uid}, 1234},
	}
	for _, tt := range tests {
		if got := tt.cfg.serverUID(); got != tt.want {
			t.Errorf("%s: serverUID() = %d, want %d", tt.name, got, tt.want)
		}
	}

	yml := writeFile(t, "salmon.yaml", "seqSocket: /tmp/s.sock\ntrustedUid: 0\n")
	cfg := Config{}
	cfg.LoadDefaults()
	if _, err := parseGlobalFlags(&cfg, []string{"-config", yml, "ls"}); err != nil {
		t.Fatalf("parseGlobalFlags failed: %v", err)
	}
	if got := cfg.serverUID(); got != 0 {
		t.Errorf("yaml trustedUid: serverUID() = %d, want 0", got)
	}
}
