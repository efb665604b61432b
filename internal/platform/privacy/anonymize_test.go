package privacy

import (
	"testing"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"192.168.1.47", "192.168.1.0"},
		{"127.0.0.1", "127.0.0.0"},
		{"2001:db8:85a3::8a2e:370:7334", "2001:0db8:85a3::"},
		{"::1", "0000:0000:0000::"},
		{"", "unknown"},
		{"unknown", "unknown"},
		{"192.168.1", "invalid"},
		{"192.168.1.1:8080", "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := AnonymizeIP(tt.input); got != tt.expected {
				t.Errorf("AnonymizeIP(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMaskName(t *testing.T) {
	tests := map[string]string{
		"Jane Doe":      "J*** D**",
		"  Jean  Lévy ": "J*** L***",
		"":              "",
	}
	for in, want := range tests {
		if got := MaskName(in); got != want {
			t.Errorf("MaskName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	if got := MaskEmail("jane.doe@example.ca"); got != "j*******@example.ca" {
		t.Errorf("MaskEmail = %q", got)
	}
	if got := MaskEmail("not-an-email"); got != "n***********" {
		t.Errorf("MaskEmail without @ = %q", got)
	}
}

func TestMaskCardNumber(t *testing.T) {
	if got := MaskCardNumber("12-3456-7890"); got != "********7890" {
		t.Errorf("MaskCardNumber = %q", got)
	}
	if got := MaskCardNumber("123"); got != "***" {
		t.Errorf("short MaskCardNumber = %q", got)
	}
}
