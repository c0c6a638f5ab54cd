// Package memory – notes.go writes agent-authored notes into the workspace:
//   - MEMORY.md: long-term facts, one "- [YYYY-MM-DD HH:MM] [category] text" line each
//   - memory/YYYY-MM-DD.md: daily logs, one "## HH:MM" section per append
//
// Notes are plain markdown so the indexer treats them like hand-written files.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Note is a single parsed fact line.
type Note struct {
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// Notes appends to the workspace memory files.
type Notes struct {
	root string
	mu   sync.Mutex
}

// NewNotes returns a note writer rooted at the workspace.
func NewNotes(root string) *Notes {
	return &Notes{root: root}
}

// AppendFact appends a fact to MEMORY.md and returns its relative path.
func (n *Notes) AppendFact(note Note) (string, error) {
	content := strings.Join(strings.Fields(note.Content), " ")
	if content == "" {
		return "", fmt.Errorf("empty note")
	}
	if note.Category == "" {
		note.Category = "fact"
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	line := fmt.Sprintf("- [%s] [%s] %s\n", note.Timestamp.Format("2006-01-02 15:04"), note.Category, content)
	header := "# Memory\n\nLong-term facts and preferences.\n\n"
	if err := appendWithHeader(filepath.Join(n.root, "MEMORY.md"), header, line); err != nil {
		return "", fmt.Errorf("append fact: %w", err)
	}
	return "MEMORY.md", nil
}

// AppendDailyLog appends a section to memory/YYYY-MM-DD.md and returns its
// relative path.
func (n *Notes) AppendDailyLog(at time.Time, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("empty log entry")
	}
	if at.IsZero() {
		at = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	day := at.Format("2006-01-02")
	rel := MemoryDir + "/" + day + ".md"
	path := filepath.Join(n.root, MemoryDir, day+".md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create memory directory: %w", err)
	}
	header := fmt.Sprintf("# Daily Log %s\n\n", day)
	section := fmt.Sprintf("## %s\n\n%s\n\n", at.Format("15:04"), content)
	if err := appendWithHeader(path, header, section); err != nil {
		return "", fmt.Errorf("append daily log: %w", err)
	}
	return rel, nil
}

// RecentFacts returns the last limit facts of MEMORY.md, oldest first.
func (n *Notes) RecentFacts(limit int) ([]Note, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(n.root, "MEMORY.md"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	notes := parseFacts(string(data))
	if limit > 0 && len(notes) > limit {
		notes = notes[len(notes)-limit:]
	}
	return notes, nil
}

// ListDailyLogs returns the dates of all daily logs, newest first.
func (n *Notes) ListDailyLogs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(n.root, MemoryDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := extractDateFromPath(MemoryDir + "/" + e.Name()); err == nil {
			dates = append(dates, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

func appendWithHeader(path, header, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		if _, err := f.WriteString(header); err != nil {
			return err
		}
	}
	_, err = f.WriteString(text)
	return err
}

// parseFacts parses lines formatted as "- [YYYY-MM-DD HH:MM] [category] content".
func parseFacts(content string) []Note {
	var notes []Note
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		var note Note

		if ts, rest, ok := bracketed(line); ok {
			if t, err := time.ParseInLocation("2006-01-02 15:04", ts, time.Local); err == nil {
				note.Timestamp = t
				line = rest
			}
		}
		if cat, rest, ok := bracketed(line); ok {
			note.Category = cat
			line = rest
		}

		note.Content = line
		if note.Content != "" {
			notes = append(notes, note)
		}
	}
	return notes
}

// bracketed splits "[x] rest" into x and rest.
func bracketed(s string) (string, string, bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	end := strings.Index(s, "]")
	if end <= 0 {
		return "", s, false
	}
	return s[1:end], strings.TrimSpace(s[end+1:]), true
}
