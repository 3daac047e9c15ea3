package nlu

import "testing"

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain object",
			in:   `{"type":"finance"}`,
			want: `{"type":"finance"}`,
		},
		{
			name: "json fence",
			in:   "```json\n{\"type\":\"finance\"}\n```",
			want: `{"type":"finance"}`,
		},
		{
			name: "bare fence",
			in:   "```\n{\"type\":\"clarification\"}\n```\n",
			want: `{"type":"clarification"}`,
		},
		{
			name: "surrounding chatter",
			in:   "Вот результат: {\"a\": {\"b\": 1}} надеюсь помог",
			want: `{"a": {"b": 1}}`,
		},
		{
			name: "not json",
			in:   "  извините  ",
			want: "извините",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanJSON(tt.in); got != tt.want {
				t.Errorf("CleanJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}
