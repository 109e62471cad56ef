package batch

import (
	"net/url"
	"regexp"
	"strings"
)

// IdentifierKind classifies a raw input identifier and selects the
// lookup strategies tried during resolution.
type IdentifierKind string

const (
	// KindPhone is a leading-zero, 10 or 11 digit phone number.
	KindPhone IdentifierKind = "phone"

	// KindNumeric is an all-digit identifier that is not a phone number.
	KindNumeric IdentifierKind = "numeric"

	// KindLoginID is any other identifier, treated as a shop login id.
	KindLoginID IdentifierKind = "login_id"
)

var nonDigits = regexp.MustCompile(`\D`)

var allDigits = regexp.MustCompile(`^\d+$`)

// Normalize URL-decodes and trims a raw identifier. Inputs arriving
// through form posts or spreadsheet cells are frequently percent-encoded
// or padded with whitespace. Undecodable input is kept as-is.
func Normalize(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	return strings.TrimSpace(decoded)
}

// Classify determines the identifier kind. Phone detection strips
// separators first, so "010-1234-5678" and "01012345678" classify the
// same way.
func Classify(identifier string) IdentifierKind {
	digits := nonDigits.ReplaceAllString(identifier, "")
	if strings.HasPrefix(digits, "0") && len(digits) >= 10 && len(digits) <= 11 {
		return KindPhone
	}
	if allDigits.MatchString(identifier) {
		return KindNumeric
	}
	return KindLoginID
}

// PhoneDigits returns the identifier reduced to its digits, the form the
// admin API expects for phone-field searches.
func PhoneDigits(identifier string) string {
	return nonDigits.ReplaceAllString(identifier, "")
}
