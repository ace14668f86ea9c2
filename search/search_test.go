package search

import (
	"testing"

	"github.com/wrannaman/agentdo/board"
)

func task(id, title, desc string, status board.Status) *board.Task {
	return &board.Task{
		ID:          id,
		Title:       title,
		Description: desc,
		Status:      status,
	}
}

func newIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemoryIndex()
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestQueryMatchesTitleAndDescription(t *testing.T) {
	idx := newIndex(t)

	seed := []*board.Task{
		task("t1", "translate docs to finnish", "", board.StatusOpen),
		task("t2", "scrape pricing page", "extract every plan and price", board.StatusOpen),
		task("t3", "summarize report", "translate key findings for the board", board.StatusOpen),
	}
	for _, tk := range seed {
		if err := idx.Upsert(tk); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	ids, err := idx.Query("translate", "", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 hits, got %v", ids)
	}

	ids, err = idx.Query("pricing", "", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "t2" {
		t.Fatalf("expected only t2, got %v", ids)
	}
}

func TestQueryStatusFilter(t *testing.T) {
	idx := newIndex(t)

	idx.Upsert(task("open", "review the quarterly numbers", "", board.StatusOpen))
	idx.Upsert(task("done", "review the annual numbers", "", board.StatusCompleted))

	ids, err := idx.Query("review", "open", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "open" {
		t.Fatalf("expected only the open task, got %v", ids)
	}
}

func TestUpsertReplaces(t *testing.T) {
	idx := newIndex(t)

	tk := task("t1", "fetch weather data", "", board.StatusOpen)
	if err := idx.Upsert(tk); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// Status change must be reflected on the next query.
	tk.Status = board.StatusClaimed
	if err := idx.Upsert(tk); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}

	ids, err := idx.Query("weather", "open", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("stale status still indexed: %v", ids)
	}

	ids, _ = idx.Query("weather", "claimed", 10)
	if len(ids) != 1 {
		t.Fatalf("expected the claimed task, got %v", ids)
	}
}

func TestDelete(t *testing.T) {
	idx := newIndex(t)

	idx.Upsert(task("t1", "archive old tickets", "", board.StatusOpen))
	if err := idx.Delete("t1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	ids, err := idx.Query("archive", "", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("deleted task still indexed: %v", ids)
	}
}
