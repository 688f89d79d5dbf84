package ui

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	DisableColor()

	tests := map[string]func(string) string{
		"pass":   RenderPass,
		"fail":   RenderFail,
		"warn":   RenderWarn,
		"accent": RenderAccent,
		"muted":  RenderMuted,
	}
	for name, render := range tests {
		if got := render("text"); !strings.Contains(got, "text") {
			t.Errorf("%s: got %q", name, got)
		}
	}
}

func TestTable(t *testing.T) {
	DisableColor()

	out := Table([]string{"ID", "NAME"}, [][]string{{"1", "Alpha"}, {"2", "Beta"}})
	for _, want := range []string{"ID", "NAME", "Alpha", "Beta"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines < 4 {
		t.Errorf("expected bordered table, got:\n%s", out)
	}
}
