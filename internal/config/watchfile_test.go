package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeWatchFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triagewatch.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write watch file: %v", err)
	}
	return path
}

func TestParseWatchFile(t *testing.T) {
	path := writeWatchFile(t, `
components:
  - Alpha
  - Beta, Gamma
schedule:
  checkTime: "09:30"
  digestDay: friday
  digestTime: "16:00"
services:
  buildBreakURL: https://reports.example/api
  jazzURL: https://jazz.example/ccm
  savedQueryID: _abc123
  workItemLinkURL: https://jazz.example/web/projects/defect/
auth:
  loginURL: https://idp.example/login
  targetURL: https://reports.example/
rules:
  - name: backlog
    expression: untriaged > 5
    description: backlog too deep
`)

	watch, err := ParseWatchFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := watch.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	names := watch.ComponentNames()
	if len(names) != 3 || names[0] != "Alpha" || names[1] != "Beta" || names[2] != "Gamma" {
		t.Errorf("component names = %v, want [Alpha Beta Gamma]", names)
	}

	hour, minute, err := watch.CheckClock()
	if err != nil || hour != 9 || minute != 30 {
		t.Errorf("check clock = %d:%d (%v), want 9:30", hour, minute, err)
	}
	day, err := watch.DigestWeekday()
	if err != nil || day != time.Friday {
		t.Errorf("digest day = %v (%v), want Friday", day, err)
	}
	if len(watch.Rules) != 1 || watch.Rules[0].Expression != "untriaged > 5" {
		t.Errorf("rules not parsed: %+v", watch.Rules)
	}
}

func TestParseWatchFileMissing(t *testing.T) {
	if _, err := ParseWatchFile(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseWatchFileBadYAML(t *testing.T) {
	path := writeWatchFile(t, "components: [unclosed")
	if _, err := ParseWatchFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestComponentNames(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    []string
	}{
		{"plain list", []string{"Alpha", "Beta"}, []string{"Alpha", "Beta"}},
		{"comma delimited entry", []string{"Alpha,Beta , Gamma"}, []string{"Alpha", "Beta", "Gamma"}},
		{"blanks dropped", []string{" ", "Alpha", ",,"}, []string{"Alpha"}},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			watch := &WatchConfig{Components: tt.entries}
			got := watch.ComponentNames()
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		value   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"10:00", 10, 0, false},
		{"9:05", 9, 5, false},
		{"23:59", 23, 59, false},
		{"", 10, 0, false}, // default applies
		{"24:00", 0, 0, true},
		{"10:60", 0, 0, true},
		{"1000", 0, 0, true},
		{"aa:bb", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			hour, minute, err := parseClock(tt.value, 10, 0)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseClock(%q) expected error", tt.value)
				}
				return
			}
			if err != nil || hour != tt.hour || minute != tt.minute {
				t.Errorf("parseClock(%q) = %d:%d (%v), want %d:%d", tt.value, hour, minute, err, tt.hour, tt.minute)
			}
		})
	}
}

func TestWatchFileValidate(t *testing.T) {
	tests := []struct {
		name    string
		watch   WatchConfig
		wantErr bool
	}{
		{
			name: "valid",
			watch: WatchConfig{
				Components: []string{"Alpha"},
				Services:   ServicesConfig{BuildBreakURL: "https://reports.example"},
			},
		},
		{
			name:    "no components",
			watch:   WatchConfig{Services: ServicesConfig{BuildBreakURL: "https://reports.example"}},
			wantErr: true,
		},
		{
			name:    "no build-break URL",
			watch:   WatchConfig{Components: []string{"Alpha"}},
			wantErr: true,
		},
		{
			name: "bad check time",
			watch: WatchConfig{
				Components: []string{"Alpha"},
				Services:   ServicesConfig{BuildBreakURL: "https://reports.example"},
				Schedule:   ScheduleConfig{CheckTime: "25:00"},
			},
			wantErr: true,
		},
		{
			name: "bad digest day",
			watch: WatchConfig{
				Components: []string{"Alpha"},
				Services:   ServicesConfig{BuildBreakURL: "https://reports.example"},
				Schedule:   ScheduleConfig{DigestDay: "Someday"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.watch.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
