package facematch

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Honza", "Honza"},
		{"Jiří", "Jiri"},
		{"Žluťoučký kůň", "Zlutoucky kun"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := RemoveDiacritics(tt.input); result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jana Nováková", "jana novakova"},
		{"jan-novak", "jan novak"},
		{"  Anna   Marie  ", "anna marie"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := NormalizeName(tt.input); result != tt.expected {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNameMatches(t *testing.T) {
	if !NameMatches("Jana Nováková", "novak") {
		t.Error("expected diacritic-insensitive partial match")
	}
	if !NameMatches("Jana Nováková", "JANA novakova") {
		t.Error("expected case-insensitive match")
	}
	if NameMatches("Jana Nováková", "petr") {
		t.Error("unexpected match")
	}
}
