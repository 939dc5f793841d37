package eventlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecordOpensDatedFileWithHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	if err := logger.Record(KindHeartbeatReceived, "object1", "{}"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := logger.Record(KindFragmentTriggered, "object1", "{}"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	path, ok := logger.Latest()
	if !ok {
		t.Fatal("expected a latest file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	content := string(data)
	if got := countOccurrences(content, "timestamp,event,node_id,detail"); got != 1 {
		t.Errorf("expected header to appear once, appeared %d times", got)
	}
}

func TestRecordHeaderNotDuplicatedOnReopen(t *testing.T) {
	dir := t.TempDir()

	logger1, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := logger1.Record(KindHeartbeatReceived, "object1", "{}"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	logger1.Close()

	logger2, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger2.Close()
	if err := logger2.Record(KindHeartbeatReceived, "object2", "{}"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	path, _ := logger2.Latest()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if got := countOccurrences(string(data), "timestamp,event,node_id,detail"); got != 1 {
		t.Errorf("expected header to appear once across restarts, appeared %d times", got)
	}
}

func TestLatestReturnsLexicographicallyGreatest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2025-01-01_events.csv", "2025-01-03_events.csv", "2025-01-02_events.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("timestamp,event,node_id,detail\n"), 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	latest, ok := logger.Latest()
	if !ok {
		t.Fatal("expected a latest file")
	}
	if filepath.Base(latest) != "2025-01-03_events.csv" {
		t.Errorf("got %s, want 2025-01-03_events.csv", filepath.Base(latest))
	}
}

func TestLatestAbsentWhenNoFiles(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	if _, ok := logger.Latest(); ok {
		t.Error("expected no latest file in an empty directory")
	}
}

// Scenario 6 from spec.md §8: a fixed CSV is summarized exactly.
func TestSummarizeScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2025-01-01_events.csv")
	content := "timestamp,event,node_id,detail\n" +
		"2025-01-01T12:00:00Z,fragment_triggered,object1,{}\n" +
		"2025-01-01T12:00:30Z,fragment_triggered,object1,{}\n" +
		"2025-01-01T12:00:00Z,heartbeat_received,object1,{}\n" +
		"2025-01-01T12:00:00Z,narrative_unlocked,mystery,{}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	summary, err := logger.Summarize()
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if summary.ByNode["object1"] != 2 {
		t.Errorf("by_node[object1] = %d, want 2", summary.ByNode["object1"])
	}
	if summary.HeartbeatByNode["object1"] != 1 {
		t.Errorf("heartbeat_by_node[object1] = %d, want 1", summary.HeartbeatByNode["object1"])
	}
	if summary.NarrativeUnlocks != 1 {
		t.Errorf("narrative_unlocks = %d, want 1", summary.NarrativeUnlocks)
	}
	if summary.TotalTriggers != 2 {
		t.Errorf("total_triggers = %d, want 2", summary.TotalTriggers)
	}
	if summary.CompletionRate != 0.5 {
		t.Errorf("completion_rate = %v, want 0.5", summary.CompletionRate)
	}
	if summary.MeanTriggerIntervalSecs != 30.0 {
		t.Errorf("mean_trigger_interval_seconds = %v, want 30.0", summary.MeanTriggerIntervalSecs)
	}
	if len(summary.RecentEvents) != 4 {
		t.Errorf("recent_events len = %d, want 4", len(summary.RecentEvents))
	}
}

func TestSummarizeSkipsMalformedTimestamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2025-01-01_events.csv")
	content := "timestamp,event,node_id,detail\n" +
		"not-a-timestamp,fragment_triggered,object1,{}\n" +
		"2025-01-01T12:00:30Z,fragment_triggered,object1,{}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	summary, err := logger.Summarize()
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.TotalTriggers != 2 {
		t.Errorf("total_triggers = %d, want 2", summary.TotalTriggers)
	}
	if summary.MeanTriggerIntervalSecs != 0 {
		t.Errorf("mean_trigger_interval_seconds = %v, want 0 (fewer than two parseable timestamps)", summary.MeanTriggerIntervalSecs)
	}
}

func TestSummarizeEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	summary, err := logger.Summarize()
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.CompletionRate != 0 {
		t.Errorf("completion_rate = %v, want 0 when total_triggers == 0", summary.CompletionRate)
	}
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}
