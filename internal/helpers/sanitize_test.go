package helpers

import "testing"

func TestPlainTextRemovesTagsAndScripts(t *testing.T) {
	input := `<p>Hello <strong>world</strong><script>alert('x')</script></p>`
	if got := PlainText(input); got != "Hello world" {
		t.Fatalf("expected %q, got %q", "Hello world", got)
	}
}

func TestPlainTextDecodesEntitiesAndWhitespace(t *testing.T) {
	input := "AT&amp;T   posts\n\n<em>record</em>\tquarter"
	want := "AT&T posts record quarter"
	if got := PlainText(input); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := PlainText("   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Fatalf("expected abc..., got %q", got)
	}
	if got := Truncate("héllo wörld", 5); got != "héllo..." {
		t.Fatalf("expected rune-aware cut, got %q", got)
	}
}
