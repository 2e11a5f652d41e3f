package redact

import "strings"

// DefaultRules covers payment data, government IDs, contact details and
// credentials read aloud or pasted into a call.
func DefaultRules() []Rule {
	return []Rule{
		// Payment
		{
			ID:          "payment-card",
			Description: "Payment card number",
			Pattern:     `\b(?:\d[ -]?){12,18}\d\b`,
			Label:       "CARD",
			Check:       luhnValid,
		},
		{
			ID:          "card-security-code",
			Description: "Card security code",
			Pattern:     `(?i)\b(?:cvv|cvc|security code)\D{0,12}(\d{3,4})\b`,
			Label:       "CVV",
		},
		{
			ID:          "bank-account",
			Description: "Bank routing or account number",
			Pattern:     `(?i)\b(?:routing|account)(?: number)?\D{0,12}(\d{6,17})\b`,
			Label:       "BANK_ACCOUNT",
			Keywords:    []string{"routing", "account"},
		},

		// Government IDs
		{
			ID:          "us-ssn",
			Description: "US Social Security number",
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Label:       "SSN",
		},

		// Contact details
		{
			ID:          "email",
			Description: "Email address",
			Pattern:     `(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`,
			Label:       "EMAIL",
		},
		{
			ID:          "phone",
			Description: "Phone number",
			Pattern:     `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`,
			Label:       "PHONE",
		},

		// Credentials
		{
			ID:          "generic-secret",
			Description: "Password or secret",
			Pattern:     `(?i)\b(?:password|passcode|pin)\s*(?:is|:|=)\s*['"]?([^\s'"]{4,})`,
			Label:       "SECRET",
			Keywords:    []string{"password", "passcode", "pin"},
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)\bbearer\s+([A-Za-z0-9_\-\.]{20,})`,
			Label:       "TOKEN",
			Keywords:    []string{"bearer"},
		},
	}
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0 && strings.Trim(s, "0 -") != ""
}
