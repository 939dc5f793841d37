package eventlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"
)

// Summary is the derived analytics view over the latest event log file,
// per spec.md §4.2.
type Summary struct {
	ByNode                  map[string]int `json:"by_node"`
	HeartbeatByNode         map[string]int `json:"heartbeat_by_node"`
	NarrativeUnlocks        int            `json:"narrative_unlocks"`
	TotalTriggers           int            `json:"total_triggers"`
	CompletionRate          float64        `json:"completion_rate"`
	MeanTriggerIntervalSecs float64        `json:"mean_trigger_interval_seconds"`
	RecentEvents            []Record       `json:"recent_events"`
}

const recentEventsLimit = 10

// Summarize parses the latest dated CSV file and computes the analytics
// summary. Malformed timestamps are skipped without aborting the summary,
// per spec.md §4.2.
func (l *FileLogger) Summarize() (Summary, error) {
	path, ok := l.Latest()
	if !ok {
		return emptySummary(), nil
	}
	return summarizeFile(path)
}

func emptySummary() Summary {
	return Summary{
		ByNode:          map[string]int{},
		HeartbeatByNode: map[string]int{},
	}
}

func summarizeFile(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("eventlog: opening %s for summary: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return emptySummary(), nil
		}
		return Summary{}, fmt.Errorf("eventlog: reading header of %s: %w", path, err)
	}
	if !headerMatches(header) {
		return Summary{}, fmt.Errorf("eventlog: %s has unexpected header %v", path, header)
	}

	summary := emptySummary()
	var rows []Record
	var triggerTimes []time.Time

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Summary{}, fmt.Errorf("eventlog: reading %s: %w", path, err)
		}
		if len(row) != 4 {
			continue
		}

		rec := Record{Event: Kind(row[1]), NodeID: row[2], Detail: row[3]}
		if ts, perr := time.Parse(time.RFC3339, row[0]); perr == nil {
			rec.Timestamp = ts
		}
		rows = append(rows, rec)

		switch rec.Event {
		case KindFragmentTriggered:
			summary.ByNode[rec.NodeID]++
			summary.TotalTriggers++
			if !rec.Timestamp.IsZero() {
				triggerTimes = append(triggerTimes, rec.Timestamp)
			}
		case KindHeartbeatReceived:
			summary.HeartbeatByNode[rec.NodeID]++
		case KindNarrativeUnlocked:
			summary.NarrativeUnlocks++
		}
	}

	if summary.TotalTriggers > 0 {
		rate := float64(summary.NarrativeUnlocks) / float64(summary.TotalTriggers)
		if rate > 1.0 {
			rate = 1.0
		}
		summary.CompletionRate = rate
	}

	summary.MeanTriggerIntervalSecs = meanInterval(triggerTimes)

	if len(rows) > recentEventsLimit {
		rows = rows[len(rows)-recentEventsLimit:]
	}
	summary.RecentEvents = rows

	return summary, nil
}

func headerMatches(header []string) bool {
	if len(header) != len(Columns) {
		return false
	}
	for i, c := range Columns {
		if header[i] != c {
			return false
		}
	}
	return true
}

func meanInterval(times []time.Time) float64 {
	if len(times) < 2 {
		return 0
	}
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Before(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	var total float64
	for i := 1; i < len(sorted); i++ {
		total += sorted[i].Sub(sorted[i-1]).Seconds()
	}
	return total / float64(len(sorted)-1)
}
