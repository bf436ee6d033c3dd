package backup

import (
	"sort"
	"testing"

	"spese-desktop/internal/core"
)

func mustParse(t *testing.T, names ...string) []core.Backup {
	t.Helper()
	var out []core.Backup
	for _, n := range names {
		b, err := Parse(n)
		if err != nil {
			t.Fatalf("Parse(%s) error = %v", n, err)
		}
		out = append(out, b)
	}
	return out
}

func keys(backups []core.Backup) []string {
	var out []string
	for _, b := range backups {
		out = append(out, b.Key())
	}
	sort.Strings(out)
	return out
}

func TestClassify(t *testing.T) {
	backups := mustParse(t,
		"Accounts_01-02-2023_14-00-00_1.2.3.sqlite",
		"Accounts_01-02-2023_14-00-00_1.10.0.sqlite",
		"Accounts_01-02-2023_14-00-00_1.9.0.sqlite",
		"Accounts_05-03-2023_10-00-00_1.2.3.sqlite",
	)

	forward, history := Classify(backups)

	wantForward := []string{"01-02-2023_14-00-00_1.10.0", "05-03-2023_10-00-00_1.2.3"}
	wantHistory := []string{"01-02-2023_14-00-00_1.2.3", "01-02-2023_14-00-00_1.9.0"}

	if got := keys(forward); len(got) != 2 || got[0] != wantForward[0] || got[1] != wantForward[1] {
		t.Errorf("forward = %v, want %v", got, wantForward)
	}
	if got := keys(history); len(got) != 2 || got[0] != wantHistory[0] || got[1] != wantHistory[1] {
		t.Errorf("history = %v, want %v", got, wantHistory)
	}
}

func TestClassify_DistinctTimestampsAreAllForward(t *testing.T) {
	backups := mustParse(t,
		"Accounts_01-02-2023_14-00-00_1.0.sqlite",
		"Accounts_02-02-2023_14-00-00_1.1.sqlite",
		"Accounts_03-02-2023_14-00-00_1.2.sqlite",
	)

	forward, history := Classify(backups)
	if len(forward) != 3 || len(history) != 0 {
		t.Errorf("forward = %d, history = %d, want 3 and 0", len(forward), len(history))
	}
}

func TestVersionLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.2.3", "1.10.0", true},
		{"1.10.0", "1.2.3", false},
		{"v1.0", "1.0.1", true},
		{"beta", "gamma", true},
		{"1.0", "1.0", false},
	}
	for _, tt := range tests {
		if got := versionLess(tt.a, tt.b); got != tt.want {
			t.Errorf("versionLess(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
