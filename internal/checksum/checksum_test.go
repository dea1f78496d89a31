package checksum

import "testing"

func TestSum_Known(t *testing.T) {
	got := Sum([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum = %q, want %q", got, want)
	}
}

func TestSumParts_BoundariesMatter(t *testing.T) {
	a := SumParts([]byte("ab"), []byte("c"))
	b := SumParts([]byte("a"), []byte("bc"))
	if a == b {
		t.Error("moving bytes between parts should change the checksum")
	}
	if SumParts([]byte("ab"), []byte("c")) != a {
		t.Error("SumParts is not deterministic")
	}
}

func TestSumParts_EmptyPart(t *testing.T) {
	if SumParts([]byte("x")) == SumParts([]byte("x"), nil) {
		t.Error("an extra empty part should change the checksum")
	}
}
