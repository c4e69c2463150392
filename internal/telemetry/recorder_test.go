package telemetry

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes.db")

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 10; i++ {
		r.RecordEpisode(Episode{
			Scene:          uint32(i % 2),
			Success:        float32(i % 2),
			SPL:            0.5,
			DistanceToGoal: 1.5,
			Steps:          20,
		})
	}
	r.Close()

	if r.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", r.Dropped())
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	stats, err := StatsByScene(db, r.RunID())
	if err != nil {
		t.Fatalf("StatsByScene: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d scenes, want 2", len(stats))
	}
	for _, s := range stats {
		if s.Episodes != 5 {
			t.Fatalf("scene %d episodes = %d, want 5", s.Scene, s.Episodes)
		}
		if s.MeanSPL != 0.5 {
			t.Fatalf("scene %d mean spl = %v, want 0.5", s.Scene, s.MeanSPL)
		}
	}
	if stats[0].SuccessRate != 0 || stats[1].SuccessRate != 1 {
		t.Fatalf("success rates = %v/%v, want 0/1", stats[0].SuccessRate, stats[1].SuccessRate)
	}
}

func TestRecorderSeparatesRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes.db")

	r1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r1.RecordEpisode(Episode{Scene: 0, Success: 1, SPL: 1})
	r1.Close()

	r2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	r2.RecordEpisode(Episode{Scene: 0, Success: 0, SPL: 0})
	r2.RecordEpisode(Episode{Scene: 1, Success: 0, SPL: 0})
	r2.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	one, err := StatsByScene(db, r1.RunID())
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].Episodes != 1 || one[0].SuccessRate != 1 {
		t.Fatalf("run1 stats = %+v", one)
	}

	all, err := StatsByScene(db, "")
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, s := range all {
		total += s.Episodes
	}
	if total != 3 {
		t.Fatalf("total episodes = %d, want 3", total)
	}
}

func TestRecordAfterCloseIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes.db")
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
	r.RecordEpisode(Episode{Scene: 0})

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	stats, err := StatsByScene(db, r.RunID())
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 0 {
		t.Fatalf("row recorded after close: %+v", stats)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("Open accepted an empty path")
	}
}
