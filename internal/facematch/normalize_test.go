package facematch

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Honza", "Honza"},
		{"Jiří", "Jiri"},
		{"café", "cafe"},
		{"Žluťoučký kůň", "Zlutoucky kun"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
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
		{"Jan Novák", "jan novak"},
		{"jan-novak", "jan novak"},
		{"JOHN  DOE", "john doe"},
		{"jan_novák", "jan novak"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeName(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNameMatches(t *testing.T) {
	tests := []struct {
		name, query string
		expected    bool
	}{
		{"Jana Nováková", "novak", true},
		{"Jana Nováková", "JANA", true},
		{"Jana Nováková", "", true},
		{"Jana Nováková", "petr", false},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.query, func(t *testing.T) {
			if got := NameMatches(tt.name, tt.query); got != tt.expected {
				t.Errorf("NameMatches(%q, %q) = %v, want %v", tt.name, tt.query, got, tt.expected)
			}
		})
	}
}

func TestDisplayNameFromFile(t *testing.T) {
	tests := []struct {
		stem        string
		id, display string
	}{
		{"s-104_Jana-Novakova", "s-104", "Jana Novakova"},
		{"s-105", "s-105", "s-105"},
		{"s-106_", "s-106", "s-106"},
		{"s-107_Petr_Svoboda", "s-107", "Petr Svoboda"},
	}

	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			id, display := DisplayNameFromFile(tt.stem)
			if id != tt.id || display != tt.display {
				t.Errorf("DisplayNameFromFile(%q) = (%q, %q), want (%q, %q)", tt.stem, id, display, tt.id, tt.display)
			}
		})
	}
}
