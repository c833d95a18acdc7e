package openrouter_test

import (
	"testing"

	"github.com/impactlab/impactcast/pkg/openrouter"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string // "" means no object
	}{
		{
			name: "bare object",
			in:   `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "surrounding whitespace",
			in:   "  \n {\"a\":1} \n",
			want: `{"a":1}`,
		},
		{
			name: "json fence",
			in:   "```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "bare fence",
			in:   "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "tilde fence",
			in:   "~~~json\n{\"a\": 1}\n~~~",
			want: `{"a": 1}`,
		},
		{
			name: "truncated fence keeps object",
			in:   "```json\n{\"a\": 1}",
			want: `{"a": 1}`,
		},
		{
			name: "prose around object",
			in:   `Here is the forecast: {"a": {"b": 2}} let me know if you need more.`,
			want: `{"a": {"b": 2}}`,
		},
		{
			name: "braces inside strings",
			in:   `note {"text": "use { and } freely", "x": 1} trailing`,
			want: `{"text": "use { and } freely", "x": 1}`,
		},
		{
			name: "escaped quotes inside strings",
			in:   `x {"t": "she said \"{\" loudly"} y`,
			want: `{"t": "she said \"{\" loudly"}`,
		},
		{
			name: "plain prose",
			in:   "sorry, I cannot help with that",
			want: "",
		},
		{
			name: "array is not an object",
			in:   "[1, 2, 3]",
			want: "",
		},
		{
			name: "truncated object",
			in:   `{"a": 1`,
			want: "",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := openrouter.ExtractObject(tt.in)
			if tt.want == "" {
				if got != nil {
					t.Errorf("ExtractObject(%q) = %s, want nil", tt.in, got)
				}
				return
			}
			if string(got) != tt.want {
				t.Errorf("ExtractObject(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
