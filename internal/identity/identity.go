// Package identity compares the holder identities embedded in health events,
// guarding against mixing credentials that belong to different people.
package identity

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity is the name/birthdate fragment a provider embeds in an event.
type Identity struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	BirthDate string `json:"birthDate"` // ISO 8601 date, may be partial or absent
}

// Tuple is the normalized comparison form of an identity. Empty fields mean
// the component could not be derived and are treated as wildcards.
type Tuple struct {
	FirstNameInitial string
	LastNameInitial  string
	BirthDay         string
	BirthMonth       string
}

// AsTuple derives the comparison tuple. The birth year is deliberately not
// part of the tuple (US 4973: year is ignored when matching identities).
func (i Identity) AsTuple() Tuple {
	t := Tuple{
		FirstNameInitial: Initial(i.FirstName),
		LastNameInitial:  Initial(i.LastName),
	}
	if birthDate, err := time.Parse("2006-01-02", i.BirthDate); err == nil {
		t.BirthDay = strconv.Itoa(birthDate.Day())
		t.BirthMonth = strconv.Itoa(int(birthDate.Month()))
	}
	return t
}

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowers the input, strips diacritics, and drops anything outside
// a-z and space. Unmappable input yields an empty string.
func Normalize(input string) string {
	latin, _, err := transform.String(stripDiacritics, input)
	if err != nil {
		return ""
	}
	latin = strings.ToLower(latin)
	var b strings.Builder
	for _, r := range latin {
		if (r >= 'a' && r <= 'z') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Initial returns the uppercased first letter of the name, if it normalizes
// to A-Z. Leading connector characters ("-", "'", spaces) are skipped.
func Initial(name string) string {
	trimmed := strings.TrimLeft(name, "-' ")
	normalized := Normalize(trimmed)
	normalized = strings.TrimLeft(normalized, " ")
	if normalized == "" {
		return ""
	}
	return strings.ToUpper(normalized[:1])
}
