package transformer

import "testing"

func TestGetRow_ZeroesReusedRows(t *testing.T) {
	r := GetRow(3)
	r.Cells[0], r.Cells[1], r.Cells[2] = "a", "b", "c"
	r.Line = 9
	r.Release()

	r2 := GetRow(2)
	if len(r2.Cells) != 2 {
		t.Fatalf("len=%d want 2", len(r2.Cells))
	}
	for i, v := range r2.Cells {
		if v != nil {
			t.Fatalf("cell %d not zeroed: %v", i, v)
		}
	}
	if r2.Line != 0 {
		t.Fatalf("line not reset: %d", r2.Line)
	}
}

func TestValues_IsDetached(t *testing.T) {
	r := GetRow(2)
	r.Cells[0] = "x"
	vals := r.Values()
	r.Cells[0] = "y"
	if vals[0] != "x" {
		t.Fatalf("Values must copy cells, got %v", vals[0])
	}
}
