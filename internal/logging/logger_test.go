package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func resetState() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	logHistory = nil
	logCallback = nil
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"registry": "debug",
			"api":      "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"registry", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()

			gotDebug := handler.Enabled(context.Background(), slog.LevelDebug)
			gotInfo := handler.Enabled(context.Background(), slog.LevelInfo)
			gotWarn := handler.Enabled(context.Background(), slog.LevelWarn)

			if gotDebug != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, gotDebug, tt.wantDebug)
			}
			if gotInfo != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, gotInfo, tt.wantInfo)
			}
			if gotWarn != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, gotWarn, tt.wantWarn)
			}
		})
	}
}

func TestLoggerBeforeInitializePicksUpLevels(t *testing.T) {
	resetState()

	before := GetLogger("execution")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger created before Initialize should default to info")
	}

	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"execution": "debug"},
	})

	after := GetLogger("execution")
	if !after.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger should have debug enabled after Initialize")
	}
	// The LevelVar is shared, so the early handle follows too.
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("early logger should follow the module LevelVar")
	}
}

func TestApplyLevels(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info", Format: "text"})

	logger := GetLogger("pool")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled initially")
	}

	ApplyLevels(Config{Level: "info", Modules: map[string]string{"pool": "debug"}})
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after ApplyLevels")
	}
	if got := ModuleLevels()["pool"]; got != "debug" {
		t.Errorf("ModuleLevels()[pool] = %q, want debug", got)
	}

	ApplyLevels(Config{Level: "error"})
	if logger.Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled after global level moved to error")
	}
}

func TestHistoryCapturesEntries(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug", Format: "text"})

	var seen []LogEntry
	SetLogCallback(func(entry LogEntry) { seen = append(seen, entry) })
	defer SetLogCallback(nil)

	GetLogger("registry").Info("process registered", "process_id", "p-1", "pid", 42)

	entries := GetHistory().Entries()
	var found *LogEntry
	for i := range entries {
		if entries[i].Message == "process registered" {
			found = &entries[i]
		}
	}
	if found == nil {
		t.Fatalf("entry not found in history: %+v", entries)
	}
	if found.Module != "registry" {
		t.Errorf("module = %q, want registry", found.Module)
	}
	if found.Attributes["process_id"] != "p-1" {
		t.Errorf("process_id attr = %v", found.Attributes["process_id"])
	}
	if len(seen) == 0 {
		t.Error("callback was not invoked")
	}

	line := FormatLogLine(*found)
	if !strings.Contains(line, "[INFO] [registry] process registered") || !strings.Contains(line, "pid=42") {
		t.Errorf("FormatLogLine = %q", line)
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		h.Append(LogEntry{Message: msg})
	}

	entries := h.Entries()
	if len(entries) != 3 || h.Len() != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].Message != "b" || entries[2].Message != "d" {
		t.Errorf("order = %v", entries)
	}
	if entries[0].Seq != 2 || h.LastSeq() != 4 {
		t.Errorf("seq = %d, last = %d; want 2 and 4", entries[0].Seq, h.LastSeq())
	}
}

func TestHistorySince(t *testing.T) {
	h := NewHistory(10)
	for _, msg := range []string{"a", "b", "c"} {
		h.Append(LogEntry{Message: msg})
	}

	newer := h.Since(1)
	if len(newer) != 2 || newer[0].Message != "b" {
		t.Errorf("Since(1) = %v", newer)
	}
	if got := h.Since(h.LastSeq()); len(got) != 0 {
		t.Errorf("Since(last) = %v, want nothing", got)
	}
}

func TestHistoryHandlerGroupsAndModule(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug", Format: "text", Output: &bytes.Buffer{}})
	defer resetState()

	GetLogger("pool").WithGroup("term").With("id", "t-1").Info("grouped", "busy", true)

	entries := GetHistory().Entries()
	last := entries[len(entries)-1]
	if last.Module != "pool" {
		t.Errorf("module = %q, want pool", last.Module)
	}
	if last.Attributes["term.id"] != "t-1" || last.Attributes["term.busy"] != true {
		t.Errorf("attributes = %v", last.Attributes)
	}
}

func TestFanoutDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(fanout{debugHandler, infoHandler}).With("module", "test")
	logger.Debug("debug only message")

	if count := strings.Count(buf.String(), "debug only message"); count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, buf.String())
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			switch {
			case tt.isNil && got != nil:
				t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
			case !tt.isNil && got == nil:
				t.Errorf("parseLevel(%q) = nil, want %v", tt.input, tt.want)
			case !tt.isNil && *got != tt.want:
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, tt.want)
			}
		})
	}
}

func TestConfiguredOutput(t *testing.T) {
	resetState()
	defer resetState()

	var buf bytes.Buffer
	Initialize(Config{Level: "info", Format: "json", Output: &buf})

	GetLogger("cli").Info("to the configured writer", "n", 1)

	if !strings.Contains(buf.String(), `"msg":"to the configured writer"`) {
		t.Errorf("expected JSON entry in configured output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"module":"cli"`) {
		t.Errorf("expected module attribute, got %q", buf.String())
	}
}

func TestJournalFieldNames(t *testing.T) {
	fields := map[string]string{}
	journalField(fields, "", slog.Group("term", slog.String("id", "t-1"), slog.Int("pid", 42)))
	journalField(fields, "", slog.Bool("busy", true))

	want := map[string]string{"TERM_ID": "t-1", "TERM_PID": "42", "BUSY": "true"}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q", k, fields[k], v)
		}
	}

	h := NewJournalHandler(slog.LevelInfo).WithGroup("exec").WithAttrs([]slog.Attr{slog.String("id", "e-1")})
	if got := h.(*JournalHandler).fields["EXEC_ID"]; got != "e-1" {
		t.Errorf("EXEC_ID = %q, want e-1", got)
	}
}
