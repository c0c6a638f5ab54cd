// Package memory – temporal_decay.go attenuates scores by content age.
// Dated notes (memory/YYYY-MM-DD.md) age from their filename date; evergreen
// notes never decay; session transcripts age from their recorded mtime;
// everything else ages from its on-disk mtime.
package memory

import (
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultHalfLifeDays is used when decay is enabled without a half-life.
const DefaultHalfLifeDays = 30

// TemporalDecayConfig configures exponential score decay based on memory age.
type TemporalDecayConfig struct {
	Enabled      bool    `yaml:"enabled"`
	HalfLifeDays float64 `yaml:"half_life_days"`
}

var datedMemoryPath = regexp.MustCompile(`^memory/(?:.+/)?(\d{4}-\d{2}-\d{2})\.md$`)

// DecayMultiplier returns exp(-ln2/halfLife * max(age, 0)).
func DecayMultiplier(ageDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 / halfLifeDays * ageDays)
}

// ApplyTemporalDecay multiplies each score by the decay multiplier of its
// age at now. File mtimes are resolved relative to root. Session results
// have no file on disk; sessionTimes maps their paths to the mtime recorded
// when they were indexed.
func ApplyTemporalDecay(results []SearchResult, cfg TemporalDecayConfig, root string, sessionTimes map[string]time.Time, now time.Time) []SearchResult {
	if !cfg.Enabled || len(results) == 0 {
		return results
	}
	halfLife := cfg.HalfLifeDays
	if halfLife <= 0 {
		halfLife = DefaultHalfLifeDays
	}

	type stamp struct {
		t  time.Time
		ok bool
	}
	stamps := make(map[string]stamp)

	for i := range results {
		key := results[i].Source + "\x00" + results[i].Path
		st, seen := stamps[key]
		if !seen {
			t, ok := resultTimestamp(results[i], root, sessionTimes)
			st = stamp{t: t, ok: ok}
			stamps[key] = st
		}
		if !st.ok {
			continue
		}
		ageDays := now.Sub(st.t).Hours() / 24
		results[i].Score *= DecayMultiplier(ageDays, halfLife)
	}
	return results
}

// resultTimestamp resolves the age reference of a result. ok is false when
// the result must not decay.
func resultTimestamp(r SearchResult, root string, sessionTimes map[string]time.Time) (time.Time, bool) {
	if t, err := extractDateFromPath(r.Path); err == nil {
		return t, true
	}
	if r.Source == SourceMemory && isEvergreenPath(r.Path) {
		return time.Time{}, false
	}
	if r.Source == SourceSession {
		if t, ok := sessionTimes[r.Path]; ok && !t.IsZero() {
			return t, true
		}
	}
	if root == "" || r.Path == "" {
		return time.Time{}, false
	}
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(r.Path)))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// extractDateFromPath parses the date of memory/YYYY-MM-DD.md paths.
func extractDateFromPath(p string) (time.Time, error) {
	m := datedMemoryPath.FindStringSubmatch(p)
	if m == nil {
		return time.Time{}, &ParseError{What: "dated path", Err: fmt.Errorf("%q is not memory/YYYY-MM-DD.md", p)}
	}
	t, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return time.Time{}, &ParseError{What: "dated path", Err: err}
	}
	return t, nil
}

// isEvergreenPath reports whether p is a root memory file or an undated
// note under memory/.
func isEvergreenPath(p string) bool {
	switch p {
	case "MEMORY.md", "memory.md":
		return true
	}
	if !strings.HasPrefix(p, "memory/") || path.Ext(p) != ".md" {
		return false
	}
	_, err := extractDateFromPath(p)
	return err != nil
}
