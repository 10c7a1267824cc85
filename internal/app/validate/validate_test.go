package validate

import (
	"strings"
	"testing"
)

type sample struct {
	Title string `json:"title" validate:"required,max=5"`
	Note  string `json:"note,omitempty" validate:"omitempty,min=2"`
}

func TestStruct(t *testing.T) {
	v := Default()

	if errs := v.Struct(sample{Title: "ok"}); errs != nil {
		t.Fatalf("expected valid, got %v", errs)
	}

	errs := v.Struct(sample{Title: "too long", Note: "x"})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if !strings.Contains(errs["title"], "title") {
		t.Fatalf("expected json field name in message, got %q", errs["title"])
	}
	if _, ok := errs["note"]; !ok {
		t.Fatalf("expected note error, got %v", errs)
	}
}
