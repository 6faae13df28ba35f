// Package identifiers normalizes the book identifiers stored in the library
// database so that equal identifiers compare equal.
package identifiers

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shishobooks/libby/pkg/models"
)

var asinRegex = regexp.MustCompile(`^B0[A-Z0-9]{8}$`)

// Normalize returns the canonical form of an identifier of the given type.
// Valid ISBN-10s become ISBN-13s, ASINs are upper cased and odids lower
// cased. Other types are only trimmed.
func Normalize(typ, value string) string {
	value = strings.TrimSpace(value)
	switch typ {
	case models.IdentifierTypeISBN:
		isbn := NormalizeISBN(value)
		if isbn13, ok := ToISBN13(isbn); ok {
			return isbn13
		}
		return isbn
	case models.IdentifierTypeASIN:
		return strings.ToUpper(value)
	case models.IdentifierTypeODID:
		return strings.ToLower(value)
	}
	return value
}

// Classify guesses whether a bare catalog value is an ISBN or an ASIN. An
// empty string is returned for anything else.
func Classify(value string) string {
	value = strings.TrimSpace(value)
	if asinRegex.MatchString(strings.ToUpper(value)) {
		return models.IdentifierTypeASIN
	}
	isbn := NormalizeISBN(value)
	if ValidateISBN13(isbn) || ValidateISBN10(isbn) {
		return models.IdentifierTypeISBN
	}
	return ""
}

// NormalizeISBN removes hyphens, spaces, and common prefixes from an ISBN.
func NormalizeISBN(value string) string {
	value = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(value)), "ISBN:")
	value = strings.TrimPrefix(value, "ISBN")

	// Keep only digits and X (for ISBN-10 checksum)
	var result strings.Builder
	for _, r := range value {
		if unicode.IsDigit(r) || r == 'X' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ToISBN13 converts a normalized ISBN to its 13 digit form. A valid ISBN-13
// is returned as is.
func ToISBN13(isbn string) (string, bool) {
	if ValidateISBN13(isbn) {
		return isbn, true
	}
	if !ValidateISBN10(isbn) {
		return "", false
	}
	body := "978" + isbn[:9]
	return body + string(isbn13CheckDigit(body)), true
}

func isbn13CheckDigit(body string) byte {
	var sum int
	for i, r := range body {
		digit := int(r - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	return byte('0' + (10-sum%10)%10)
}

// ValidateISBN10 validates an ISBN-10 checksum.
// ISBN-10 uses modulo 11 with weights 10,9,8,7,6,5,4,3,2,1.
func ValidateISBN10(isbn string) bool {
	if len(isbn) != 10 {
		return false
	}

	var sum int
	for i, r := range isbn {
		var digit int
		switch {
		case r == 'X' && i == 9:
			digit = 10
		case unicode.IsDigit(r):
			digit = int(r - '0')
		default:
			return false
		}
		sum += digit * (10 - i)
	}
	return sum%11 == 0
}

// ValidateISBN13 validates an ISBN-13 checksum.
func ValidateISBN13(isbn string) bool {
	if len(isbn) != 13 {
		return false
	}
	for _, r := range isbn {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return isbn13CheckDigit(isbn[:12]) == isbn[12]
}
