package format

import "testing"

func TestSanitizeHTML(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bold and link",
			in:   "**Rocket 7B** is documented [here](https://example.com).",
			want: `<b>Rocket 7B</b> is documented <a href="https://example.com">here</a>.`,
		},
		{
			name: "heading",
			in:   "## Benchmarks\ngood numbers",
			want: "<b>Benchmarks</b>\ngood numbers",
		},
		{
			name: "inline code escaped",
			in:   "run `pip install x<y>`",
			want: "run <code>pip install x&lt;y&gt;</code>",
		},
		{
			name: "fenced code block",
			in:   "```python\nprint(1)\n```",
			want: "<pre>print(1)</pre>",
		},
		{
			name: "unclosed tag closed",
			in:   "<b>bold forever",
			want: "<b>bold forever</b>",
		},
		{
			name: "stray closer dropped",
			in:   "plain text</b>",
			want: "plain text",
		},
		{
			name: "existing html untouched",
			in:   "<b>already **styled**</b>",
			want: "<b>already **styled**</b>",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := SanitizeHTML(testCase.in); got != testCase.want {
				t.Fatalf("SanitizeHTML(%q) = %q, want %q", testCase.in, got, testCase.want)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	t.Parallel()

	got := StripTags(`<b>bold</b> and <a href="https://example.com">link</a>`)
	want := "bold and link"
	if got != want {
		t.Fatalf("StripTags = %q, want %q", got, want)
	}
}
