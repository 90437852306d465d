package redact

import "testing"

func TestSensitiveMatchesDefaultMarkers(t *testing.T) {
	t.Parallel()

	f := NewFilter()
	cases := []struct {
		text string
		want bool
	}{
		{"what is the weather today", false},
		{"my password is hunter2", true},
		{"the API_KEY is abc", true},
		{"read back my account number", true},
		{"device_id please", true},
		{"api_id value", true},
		{"please hide this", true},
		{"", false},
	}
	for _, tc := range cases {
		if got := f.Sensitive(tc.text); got != tc.want {
			t.Fatalf("Sensitive(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestApplyReplacesSensitiveText(t *testing.T) {
	t.Parallel()

	f := NewFilter()
	got, redacted := f.Apply("my password is hunter2")
	if !redacted || got != Replacement {
		t.Fatalf("unexpected apply result: %q %v", got, redacted)
	}
	got, redacted = f.Apply("hello there")
	if redacted || got != "hello there" {
		t.Fatalf("unexpected passthrough result: %q %v", got, redacted)
	}
}

func TestExtraMarkers(t *testing.T) {
	t.Parallel()

	f := NewFilter("secret phrase", "  ")
	if !f.Sensitive("the Secret Phrase is out") {
		t.Fatalf("expected extra marker to match")
	}
}
