package render

import (
	"testing"

	"github.com/keronhq/keron/internal/manifest"
)

func TestRenderSubstitutesVars(t *testing.T) {
	out, err := Render("hello", "hello {{user}}", map[string]manifest.RenderedValue{
		"user": {Value: "keron"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(out) != "hello keron" {
		t.Errorf("got %q, want %q", out, "hello keron")
	}
}

func TestRenderMissingVarIsEmpty(t *testing.T) {
	out, err := Render("hello", "hello {{missing}}", map[string]manifest.RenderedValue{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(out) != "hello " {
		t.Errorf("got %q", out)
	}
}

func TestRenderDotSyntaxStillWorks(t *testing.T) {
	out, err := Render("hello", "hello {{.user}}", map[string]manifest.RenderedValue{
		"user": {Value: "keron"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(out) != "hello keron" {
		t.Errorf("got %q, want %q", out, "hello keron")
	}
}

func TestRenderInvalidSyntax(t *testing.T) {
	_, err := Render("bad", "{{unterminated", nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
}
