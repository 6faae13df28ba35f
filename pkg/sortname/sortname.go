// Package sortname builds library style sort keys for titles and people.
package sortname

import (
	"strings"
)

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[normalize(w)] = true
	}
	return m
}

// normalize lowercases a word and drops its periods and trailing comma, so
// "Ph.D.," and "phd" compare equal.
func normalize(word string) string {
	word = strings.TrimSuffix(word, ",")
	return strings.ToLower(strings.ReplaceAll(word, ".", ""))
}

var (
	articles     = []string{"The", "A", "An"}
	honorifics   = wordSet("Dr", "Mr", "Mrs", "Ms", "Prof", "Rev", "Fr", "Sir", "Dame", "Lord", "Lady")
	generational = wordSet("Jr", "Sr", "Junior", "Senior", "I", "II", "III", "IV", "V")
	credentials  = wordSet("PhD", "PsyD", "MD", "DO", "DDS", "JD", "EdD", "LLD", "MBA", "MS", "MA", "BA", "BS", "RN", "Esq")
)

// ForTitle moves a leading article to the end: "The Hobbit" sorts as
// "Hobbit, The".
func ForTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, article := range articles {
		if len(title) <= len(article)+1 || !strings.EqualFold(title[:len(article)+1], article+" ") {
			continue
		}
		if rest := strings.TrimSpace(title[len(article)+1:]); rest != "" {
			return rest + ", " + title[:len(article)]
		}
	}
	return title
}

// ForPerson turns "Given Middle Family" into "Family, Given Middle".
// Honorifics and credentials are dropped, generational suffixes are kept at
// the end and particles stay with the given names ("Beethoven, Ludwig van").
func ForPerson(name string) string {
	name = strings.TrimSpace(name)
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return name
	}

	for len(parts) > 1 && honorifics[normalize(parts[0])] {
		parts = parts[1:]
	}

	var suffixes []string
	for len(parts) > 1 {
		last := parts[len(parts)-1]
		word := normalize(last)
		if generational[word] {
			suffixes = append([]string{strings.TrimSuffix(last, ",")}, suffixes...)
		} else if !credentials[word] {
			break
		}
		parts = parts[:len(parts)-1]
	}

	for i := range parts {
		parts[i] = strings.TrimSuffix(parts[i], ",")
	}
	family, given := parts[len(parts)-1], parts[:len(parts)-1]

	sortName := family
	if len(given) > 0 {
		sortName += ", " + strings.Join(given, " ")
	}
	if len(suffixes) > 0 {
		sortName += ", " + strings.Join(suffixes, ", ")
	}
	return sortName
}

// Or returns sortName when the catalog provided one, and derives one from
// name otherwise.
func Or(sortName, name string) string {
	if s := strings.TrimSpace(sortName); s != "" {
		return s
	}
	return ForPerson(name)
}
