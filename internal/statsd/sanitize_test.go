package statsd

import (
	"regexp"
	"testing"
)

var cleanKey = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"simple", "simple"},
		{"My Team/Build #1", "My_Team-Build_1"},
		{"folder/sub folder/job", "folder-sub_folder-job"},
		{"release-1.2.3", "release-1_2_3"},
		{"tabs\tand\n\nnewlines", "tabs_and_newlines"},
		{"a\vb", "a_b"},
		{"a \v\f\r b", "a_b"},
		{"  leading and trailing  ", "_leading_and_trailing_"},
		{"a . b", "a___b"},
		{"ünïcödé job", "ncd_job"},
		{"weird!@$%^&*()chars", "weirdchars"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitize_IdempotentAndClean(t *testing.T) {
	inputs := []string{
		"My Team/Build #1",
		"a.b.c/d e\tf",
		"../../etc/passwd",
		"job:with|statsd@chars",
		" non-breaking spaces",
		"___---...///   ",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
		if !cleanKey.MatchString(once) {
			t.Errorf("Sanitize(%q) = %q contains disallowed characters", in, once)
		}
	}
}

func FuzzSanitize(f *testing.F) {
	for _, seed := range []string{"My Team/Build #1", "a.b", " / ", "x\x00y"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := Sanitize(in)
		if !cleanKey.MatchString(once) {
			t.Fatalf("Sanitize(%q) = %q contains disallowed characters", in, once)
		}
		if Sanitize(once) != once {
			t.Fatalf("Sanitize not idempotent for %q", in)
		}
	})
}
