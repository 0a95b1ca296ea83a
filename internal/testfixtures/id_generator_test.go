package testfixtures

import "testing"

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("room")

	first := gen.Next()
	second := gen.Next()

	if first != "room-1" || second != "room-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
}

func TestIDGeneratorDefaultsPrefix(t *testing.T) {
	gen := NewIDGenerator("")

	if next := gen.Next(); next != "id-1" {
		t.Fatalf("expected id-1, got %q", next)
	}
}

func TestIDGeneratorNextFunc(t *testing.T) {
	gen := NewIDGenerator("group")
	nextFn := gen.NextFunc()

	if got := nextFn(); got != "group-1" {
		t.Fatalf("expected group-1 from NextFunc, got %q", got)
	}

	var nilGen *IDGenerator
	if got := nilGen.NextFunc()(); got != "" {
		t.Fatalf("expected empty id from nil generator, got %q", got)
	}
}
