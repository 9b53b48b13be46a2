package validation

import (
	"strings"
	"testing"
)

func TestIsValidRecordID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"CLM-2026-0001", true},
		{"pay_a1b2c3d4e5f6", true},
		{"ERA.834.0091", true},
		{"X", true},

		// Invalid cases
		{"", false},
		{"-leading-dash", false},
		{"has space", false},
		{"semi;colon", false},
		{strings.Repeat("a", 65), false},
	}

	for _, tc := range tests {
		result := IsValidRecordID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidRecordID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestIsValidCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"M54.5", true},
		{"99213", true},
		{"E11.9", true},
		{"70553", true},

		{"", false},
		{"not a code!", false},
		{".5", false},
	}

	for _, tc := range tests {
		if got := IsValidCode(tc.code); got != tc.valid {
			t.Errorf("IsValidCode(%q) = %v, want %v", tc.code, got, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"null\x00byte", 20, "nullbyte"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("payer", ""),
		ValidAmount("paidAmount", "12.50"),
		ValidDate("paymentDate", "not-a-date"),
	)

	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "payer" || errs[1].Field != "paymentDate" {
		t.Errorf("unexpected fields: %+v", errs)
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"", true}, // optional; pair with Required
		{"0", true},
		{"1350.00", true},
		{"0.01", true},
		{"-5", false},
		{"12.34.56", false},
		{"a dollar", false},
	}

	for _, tc := range tests {
		err := ValidAmount("amount", tc.value)()
		if (err == nil) != tc.ok {
			t.Errorf("ValidAmount(%q) err=%v, want ok=%v", tc.value, err, tc.ok)
		}
	}
}

func TestValidDate(t *testing.T) {
	if err := ValidDate("d", "2026-06-15")(); err != nil {
		t.Errorf("valid date rejected: %v", err)
	}
	if err := ValidDate("d", "06/15/2026")(); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "validation failed" {
		t.Errorf("empty error = %q", empty.Error())
	}

	errs := ValidationErrors{{Field: "payer", Message: "is required"}}
	if errs.Error() != "payer: is required" {
		t.Errorf("error = %q", errs.Error())
	}
}
