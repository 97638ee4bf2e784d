package canonical

import (
	"testing"
)

func TestMarshalSortsKeysAtEveryLevel(t *testing.T) {
	data, err := Marshal(map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": "v"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":{"y":"v","z":true},"b":1}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	first, err := Hash(map[string]any{"sku": "espresso", "qty": 2, "meta": map[string]any{"a": 1, "b": 2}})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := Hash(map[string]any{"meta": map[string]any{"b": 2, "a": 1}, "qty": 2, "sku": "espresso"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical hashes, got %s and %s", first, second)
	}
}

func TestHashDistinguishesValues(t *testing.T) {
	first, err := Hash(map[string]any{"qty": 2})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := Hash(map[string]any{"qty": 3})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatal("expected differing hashes for differing params")
	}
}

func TestMarshalPreservesArrayOrder(t *testing.T) {
	first, err := Marshal([]any{1, 2, 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Marshal([]any{3, 2, 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) == string(second) {
		t.Fatal("array order is significant and must be preserved")
	}
}

func TestMarshalNumbersKeepPrecision(t *testing.T) {
	data, err := Marshal(map[string]any{"price": 10.25})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"price":10.25}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
}
