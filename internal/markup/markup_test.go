package markup

import "testing"

func TestFormatBoldAndParagraphs(t *testing.T) {
	got := Format("**hi** there\nfriend")
	want := "<p><strong>hi</strong> there</p>\n<p>friend</p>"
	if got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
}

func TestFormatWrapsTaggedInputOnce(t *testing.T) {
	in := `<div>I found a gospel song for you: <strong>'Way Maker'</strong></div>`
	got := Format(in)
	want := `<div class="message-content">` + in + `</div>`
	if got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
}

func TestFormatStripsStrayAsterisks(t *testing.T) {
	got := Format("* Psalm 23:1 *")
	if got != "<p> Psalm 23:1 </p>" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestFormatSkipsBlankLines(t *testing.T) {
	got := Format("first\n\nsecond")
	if got != "<p>first</p>\n\n<p>second</p>" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestFormatEmpty(t *testing.T) {
	if got := Format(""); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestFormatIsNotIdempotentOnPlainText(t *testing.T) {
	once := Format("hello")
	twice := Format(once)
	if once == twice {
		t.Fatalf("expected second pass to re-wrap, got %q both times", once)
	}
	if twice != `<div class="message-content"><p>hello</p></div>` {
		t.Fatalf("unexpected double-format output %q", twice)
	}
}
