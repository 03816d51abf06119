package auth

import "testing"

func TestFormatE164(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"9000000001", "+919000000001"},
		{"+14155550100", "+14155550100"},
		{" 9000000001 ", "+919000000001"},
		{"449000000001", "+449000000001"},
	}

	for _, tt := range tests {
		got := FormatE164(tt.input, "+91")
		if got != tt.want {
			t.Errorf("FormatE164(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
