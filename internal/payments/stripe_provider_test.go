package payments

import (
	"reflect"
	"testing"
)

func TestTrimMetadata(t *testing.T) {
	input := map[string]string{
		" table ": " 12 ",
		"server":  " dana ",
		"note":    " ",
		" ":       "dropped",
		"":        "dropped",
	}
	expected := map[string]string{
		"table":  "12",
		"server": "dana",
		"note":   "",
	}
	if got := trimMetadata(input); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %#v got %#v", expected, got)
	}

	if trimMetadata(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
	if trimMetadata(map[string]string{" ": " "}) != nil {
		t.Fatal("expected nil when every key trims empty")
	}
}
