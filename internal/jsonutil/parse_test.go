package jsonutil

import "testing"

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose before fence", "Here you go:\n```json\n{\"a\":1}\n```\nDone.", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirstObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, false},
		{"prose around", `Result: {"a":1} and also {"b":2}`, `{"a":1}`, false},
		{"nested", `{"angles":{"knee":90}} trailing`, `{"angles":{"knee":90}}`, false},
		{"brace in string", `{"note":"looks like } here","x":2}`, `{"note":"looks like } here","x":2}`, false},
		{"escaped quote", `{"note":"say \"}\"","x":2}`, `{"note":"say \"}\"","x":2}`, false},
		{"none", `no json at all`, "", true},
		{"unterminated", `{"a":1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FirstObject(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	type report struct {
		Score float64 `json:"score"`
	}
	got, err := ParseJSON[report]("```json\n{\"score\": 7.5}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 7.5 {
		t.Errorf("expected 7.5, got %v", got.Score)
	}

	if _, err := ParseJSON[report]("{not json}"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseObject(t *testing.T) {
	m, err := ParseObject("The angles are {\"knee_left\": 92, \"hip\": \"85\"}.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["knee_left"] != float64(92) {
		t.Errorf("expected 92, got %v", m["knee_left"])
	}
	if m["hip"] != "85" {
		t.Errorf("expected string 85, got %v", m["hip"])
	}
}
