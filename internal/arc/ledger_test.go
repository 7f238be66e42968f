package arc_test

import (
	"testing"

	"arc-go/internal/arc"
)

func TestDedupLedger_References(t *testing.T) {
	l := arc.NewDedupLedger(arc.BlockInfo{ContentKey: "k", MD5: "m", Size: 16, StreamSize: 12, Compressed: true})

	if !l.Empty() {
		t.Fatal("new ledger is not empty")
	}
	if !l.AddReference("a", 0) {
		t.Error("AddReference(a, 0) = false, want true")
	}
	if l.AddReference("a", 0) {
		t.Error("AddReference(a, 0) twice = true, want false")
	}
	l.AddReference("a", 2)
	l.AddReference("b", 1)

	if got := l.References(); got != 3 {
		t.Errorf("References() = %d, want 3", got)
	}
	if !l.HasReference("b", 1) || l.HasReference("b", 0) {
		t.Error("HasReference() mismatch for entity b")
	}

	if l.RemoveReference("c", 0) {
		t.Error("RemoveReference(c, 0) = true for unknown entity")
	}
	if l.RemoveReference("a", 5) {
		t.Error("RemoveReference(a, 5) = true for unknown generation")
	}
	if !l.RemoveReference("b", 1) {
		t.Error("RemoveReference(b, 1) = false")
	}
	if len(l.DedupList) != 1 {
		t.Errorf("DedupList has %d entities after removing b, want 1", len(l.DedupList))
	}

	l.RemoveReference("a", 0)
	l.RemoveReference("a", 2)
	if !l.Empty() {
		t.Errorf("ledger not empty after removing every reference: %+v", l.DedupList)
	}
}

func TestDedupLedger_EncodeDecode(t *testing.T) {
	l := arc.NewDedupLedger(arc.BlockInfo{ContentKey: "k", MD5: "m", Size: 16, StreamSize: 12, Compressed: true, Ciphered: true})
	l.AddReference("a", 3)
	l.AddReference("a", 1)

	data, err := l.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := arc.DecodeDedupLedger(data)
	if err != nil {
		t.Fatalf("DecodeDedupLedger() error = %v", err)
	}
	if got.MD5 != "m" || got.Size != 16 || got.StreamSize != 12 {
		t.Errorf("decoded = %+v", got)
	}
	if got.Flags() != (arc.CodecFlags{Compressed: true, Ciphered: true}) {
		t.Errorf("Flags() = %+v", got.Flags())
	}
	if gens := got.DedupList[0].Generations; len(gens) != 2 || gens[0] != 1 || gens[1] != 3 {
		t.Errorf("generations = %v, want sorted [1 3]", gens)
	}

	if _, err := arc.DecodeDedupLedger([]byte("{")); err == nil {
		t.Error("DecodeDedupLedger(malformed) error = nil")
	}
}
