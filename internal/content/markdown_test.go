package content

import (
	"strings"
	"testing"
)

func TestMarkdownRenderer(t *testing.T) {
	t.Parallel()
	r := NewMarkdownRenderer("/images/")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "heading", input: "# Wells", want: `<h1 id="wells">Wells</h1>`},
		{name: "relative image", input: "![a](2026/03/y.png)", want: `src="/images/2026/03/y.png"`},
		{name: "absolute image untouched", input: "![a](https://cdn.example.org/y.png)", want: `src="https://cdn.example.org/y.png"`},
		{name: "rooted image untouched", input: "![a](/static/y.png)", want: `src="/static/y.png"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			html, err := r.Render([]byte(tt.input))
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if !strings.Contains(string(html), tt.want) {
				t.Errorf("got %s, want it to contain %s", html, tt.want)
			}
		})
	}
}
