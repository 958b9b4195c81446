package diag

import (
	"sync"
	"testing"
)

func TestCollector_ConcurrentAdd(t *testing.T) {
	var c Collector
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Addf(Warn, StageRename, "src", "column %d unmapped", i)
		}(i)
	}
	wg.Wait()

	if got := len(c.Items()); got != 50 {
		t.Fatalf("items=%d want 50", got)
	}
	if got := c.Count(Warn); got != 50 {
		t.Fatalf("warn count=%d want 50", got)
	}
}

func TestSorted_GroupsByStageThenSubject(t *testing.T) {
	in := []Diagnostic{
		{Stage: StageSelect, Subject: "b", Message: "1"},
		{Stage: StageMaster, Subject: "z", Message: "2"},
		{Stage: StageSelect, Subject: "a", Message: "3"},
		{Stage: StageMaster, Subject: "z", Message: "4"},
	}
	got := Sorted(in)
	want := []string{"2", "4", "3", "1"}
	for i, d := range got {
		if d.Message != want[i] {
			t.Fatalf("pos %d: got %q want %q (%v)", i, d.Message, want[i], got)
		}
	}
	if in[0].Message != "1" {
		t.Fatalf("Sorted must not reorder its input")
	}
}
