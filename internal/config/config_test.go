package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// testOptions mirrors the shape of the server Options struct.
type testOptions struct {
	Config string `help:"Config file path"`

	Port         int           `toml:"server.port" env:"PORT"`
	Shell        string        `toml:"execution.shell" env:"SHELL_PATH"`
	Throttle     time.Duration `toml:"execution.throttle_interval" env:"THROTTLE_INTERVAL"`
	PolicyCompat bool          `toml:"policy.compat" env:"POLICY_COMPAT"`
	PolicyGrace  time.Duration `toml:"policy.grace_window" env:"POLICY_GRACE_WINDOW"`
	SalvageTypes []string      `toml:"stream.salvage_types" env:"SALVAGE_TYPES"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 8090

[execution]
shell = "/bin/bash"
throttle_interval = "250ms"

[policy]
compat = true
grace_window = 2

[stream]
salvage_types = ["assistant", "result"]
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != 8090 {
		t.Errorf("Port = %d, want 8090", opts.Port)
	}
	if opts.Shell != "/bin/bash" {
		t.Errorf("Shell = %q, want /bin/bash", opts.Shell)
	}
	if opts.Throttle != 250*time.Millisecond {
		t.Errorf("Throttle = %v, want 250ms", opts.Throttle)
	}
	if !opts.PolicyCompat {
		t.Error("PolicyCompat = false, want true")
	}
	if opts.PolicyGrace != 2*time.Second {
		t.Errorf("PolicyGrace = %v, want 2s (bare numbers are seconds)", opts.PolicyGrace)
	}
	if want := []string{"assistant", "result"}; !reflect.DeepEqual(opts.SalvageTypes, want) {
		t.Errorf("SalvageTypes = %v, want %v", opts.SalvageTypes, want)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("AGENTEXEC_PORT", "9000")
	t.Setenv("AGENTEXEC_POLICY_GRACE_WINDOW", "1.5")
	t.Setenv("AGENTEXEC_THROTTLE_INTERVAL", "1s")
	t.Setenv("AGENTEXEC_SALVAGE_TYPES", "assistant, result")

	opts := &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != 9000 {
		t.Errorf("Port = %d, want 9000", opts.Port)
	}
	if opts.PolicyGrace != 1500*time.Millisecond {
		t.Errorf("PolicyGrace = %v, want 1.5s", opts.PolicyGrace)
	}
	if opts.Throttle != time.Second {
		t.Errorf("Throttle = %v, want 1s", opts.Throttle)
	}
	if want := []string{"assistant", "result"}; !reflect.DeepEqual(opts.SalvageTypes, want) {
		t.Errorf("SalvageTypes = %v, want %v", opts.SalvageTypes, want)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 8090

[execution]
shell = "/bin/bash"
`)
	t.Setenv("AGENTEXEC_SHELL_PATH", "/bin/zsh")
	t.Setenv("AGENTEXEC_PORT", "7000")

	cmd := &cobra.Command{Use: "test"}
	opts := &testOptions{Config: path}
	cmd.Flags().IntVar(&opts.Port, "port", 0, "")
	if err := cmd.Flags().Set("port", "6000"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != 6000 {
		t.Errorf("Port = %d, want CLI value 6000", opts.Port)
	}
	if opts.Shell != "/bin/zsh" {
		t.Errorf("Shell = %q, want env value /bin/zsh", opts.Shell)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml")}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	opts := &testOptions{Config: writeConfig(t, "[server\nport =")}
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("LoadConfig should fail for invalid TOML")
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"policy": map[string]any{"timeout": "3m"},
		"flat":   "x",
	}
	if got := getNestedValue(data, "policy.timeout"); got != "3m" {
		t.Errorf("policy.timeout = %v, want 3m", got)
	}
	if got := getNestedValue(data, "flat.missing"); got != nil {
		t.Errorf("flat.missing = %v, want nil", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5s", 5 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"3", 3 * time.Second},
		{" 0.5 ", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseDuration("soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	if got := fieldNameToFlag("PolicyGraceWindow"); got != "policy-grace-window" {
		t.Errorf("got %q", got)
	}
}

func TestReadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
registry = "debug"
streamcli = "error"
`)

	cfg, err := ReadLoggingConfig(path)
	if err != nil {
		t.Fatalf("ReadLoggingConfig failed: %v", err)
	}
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("unexpected globals %+v", cfg)
	}
	want := map[string]string{"registry": "debug", "streamcli": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}

	if def := LoadLoggingConfig(filepath.Join(t.TempDir(), "absent.toml")); def.Level != "info" {
		t.Errorf("expected default level info, got %q", def.Level)
	}
}

func TestLoadConfigNumberIntoStringField(t *testing.T) {
	type durationText struct {
		Config  string
		Timeout string `toml:"policy.timeout"`
	}
	path := writeConfig(t, `
[policy]
timeout = 90
`)
	opts := &durationText{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Timeout != "90" {
		t.Fatalf("Timeout = %q, want 90", opts.Timeout)
	}
	if d, err := ParseDuration(opts.Timeout); err != nil || d != 90*time.Second {
		t.Errorf("ParseDuration(%q) = %v, %v", opts.Timeout, d, err)
	}
}

func TestLoadConfigReportsBadValues(t *testing.T) {
	path := writeConfig(t, `
[policy]
compat = "yes"
`)
	t.Setenv("AGENTEXEC_PORT", "eighty")

	opts := &testOptions{Config: path, Port: 8090}
	err := LoadConfig(opts, nil)
	if err == nil {
		t.Fatal("expected an error for values of the wrong type")
	}
	for _, want := range []string{"policy.compat", "AGENTEXEC_PORT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err, want)
		}
	}
	if opts.Port != 8090 {
		t.Errorf("Port = %d, want the untouched 8090", opts.Port)
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(testOptions{}, nil); err == nil {
		t.Error("expected an error for a struct passed by value")
	}
}
