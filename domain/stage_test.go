package domain

import "testing"

func TestStagesRanksAreUniqueAndOrdered(t *testing.T) {
	seen := map[int]Stage{}
	prev := -1
	for _, s := range Stages() {
		l, ok := StageLayout(s)
		if !ok {
			t.Fatalf("missing layout for %s", s)
		}
		if other, dup := seen[l.Rank]; dup {
			t.Fatalf("rank %d shared by %s and %s", l.Rank, other, s)
		}
		seen[l.Rank] = s
		if l.Rank <= prev {
			t.Fatalf("stage %s out of order: rank %d after %d", s, l.Rank, prev)
		}
		prev = l.Rank
	}
}

func TestVisibleStagesExcludesHidden(t *testing.T) {
	for _, s := range VisibleStages() {
		l, _ := StageLayout(s)
		if l.Hidden {
			t.Fatalf("hidden stage %s returned as visible", s)
		}
	}
	if len(VisibleStages()) >= len(Stages()) {
		t.Fatal("expected at least one hidden stage")
	}
}

func TestOverlayIsNotAStage(t *testing.T) {
	if IsStage(OverlayRush) {
		t.Fatal("overlay must not validate as a workflow stage")
	}
	if !IsOverlay(OverlayRush) {
		t.Fatal("overlay not recognized")
	}
	if IsOverlay(StageQueued) {
		t.Fatal("queued misreported as overlay")
	}
}
