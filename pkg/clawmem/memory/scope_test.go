package memory

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestScope_ListFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, rel := range []string{
		"MEMORY.md",
		"README.md",
		"memory/2024-01-01.md",
		"memory/projects/clawmem.md",
		"memory/private/diary.md",
		"memory/.hidden/x.md",
		"memory/image.png",
		"memory/draft.tmp.md",
	} {
		writeFile(t, root, rel, "x\n")
	}
	writeFile(t, root, IgnoreFileName, "# local only\nprivate/\n*.tmp.md\n")

	scope, err := LoadScope(root)
	if err != nil {
		t.Fatalf("LoadScope: %v", err)
	}
	got, err := scope.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	want := []string{"MEMORY.md", "memory/2024-01-01.md", "memory/projects/clawmem.md"}
	if !slices.Equal(got, want) {
		t.Errorf("ListFiles() = %v, want %v", got, want)
	}
}

func TestScope_Contains(t *testing.T) {
	t.Parallel()

	scope, err := LoadScope(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		rel  string
		want bool
	}{
		{"MEMORY.md", true},
		{"memory.md", true},
		{"memory/a.md", true},
		{"memory/deep/b.MD", true},
		{"memory/a.txt", false},
		{"notes/a.md", false},
		{"sessions/abc.md", false},
	}
	for _, tt := range tests {
		if got := scope.Contains(tt.rel); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestScope_Rel(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	scope, err := LoadScope(root)
	if err != nil {
		t.Fatal(err)
	}
	rel, err := scope.Rel(filepath.Join(root, "memory", "a.md"))
	if err != nil || rel != "memory/a.md" {
		t.Errorf("Rel(abs) = %q, %v", rel, err)
	}
	if rel, err := scope.Rel("memory/./b.md"); err != nil || rel != "memory/b.md" {
		t.Errorf("Rel(dot) = %q, %v", rel, err)
	}
	for _, bad := range []string{"..", "../x.md", root} {
		if _, err := scope.Rel(bad); !errors.Is(err, ErrPathOutsideScope) {
			t.Errorf("Rel(%q) error = %v", bad, err)
		}
	}
}

func TestNotes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	n := NewNotes(root)
	at := time.Date(2024, 5, 2, 9, 30, 0, 0, time.Local)

	for _, c := range []string{"likes jazz", "allergic to  peanuts"} {
		if _, err := n.AppendFact(Note{Content: c, Category: "preference", Timestamp: at}); err != nil {
			t.Fatalf("AppendFact: %v", err)
		}
	}
	if _, err := n.AppendFact(Note{Content: "   "}); err == nil {
		t.Error("AppendFact accepted an empty note")
	}

	facts, err := n.RecentFacts(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 1 || facts[0].Content != "allergic to peanuts" || facts[0].Category != "preference" {
		t.Fatalf("RecentFacts(1) = %+v", facts)
	}
	if !facts[0].Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", facts[0].Timestamp, at)
	}

	rel, err := n.AppendDailyLog(at, "standup moved to 10:00")
	if err != nil {
		t.Fatalf("AppendDailyLog: %v", err)
	}
	if rel != "memory/2024-05-02.md" {
		t.Errorf("daily log path = %q", rel)
	}
	if _, err := n.AppendDailyLog(at.AddDate(0, 0, 1), "second day"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "memory", "2024-05-02.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# Daily Log 2024-05-02\n\n## 09:30\n\nstandup moved to 10:00\n\n" {
		t.Errorf("daily log = %q", data)
	}

	days, err := n.ListDailyLogs()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(days, []string{"2024-05-03", "2024-05-02"}) {
		t.Errorf("ListDailyLogs() = %v", days)
	}
}
