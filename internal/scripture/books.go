// Package scripture knows the shape of a Bible reference: the canonical book
// names, how a spoken or typed reference is written, and how to pull explicit
// references out of free-running transcript text.
package scripture

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyBookThreshold is the minimum Jaro-Winkler score for a transcribed book
// name to be accepted as a canonical book it does not spell exactly.
const fuzzyBookThreshold = 0.9

// Books lists the 66 books of the Protestant canon in canonical order and in
// the spelling used by the verses table.
var Books = []string{
	"Genesis", "Exodus", "Leviticus", "Numbers", "Deuteronomy",
	"Joshua", "Judges", "Ruth", "1 Samuel", "2 Samuel",
	"1 Kings", "2 Kings", "1 Chronicles", "2 Chronicles", "Ezra",
	"Nehemiah", "Esther", "Job", "Psalms", "Proverbs",
	"Ecclesiastes", "Song of Solomon", "Isaiah", "Jeremiah", "Lamentations",
	"Ezekiel", "Daniel", "Hosea", "Joel", "Amos",
	"Obadiah", "Jonah", "Micah", "Nahum", "Habakkuk",
	"Zephaniah", "Haggai", "Zechariah", "Malachi",
	"Matthew", "Mark", "Luke", "John", "Acts",
	"Romans", "1 Corinthians", "2 Corinthians", "Galatians", "Ephesians",
	"Philippians", "Colossians", "1 Thessalonians", "2 Thessalonians", "1 Timothy",
	"2 Timothy", "Titus", "Philemon", "Hebrews", "James",
	"1 Peter", "2 Peter", "1 John", "2 John", "3 John",
	"Jude", "Revelation",
}

// bookAliases maps common spoken or abbreviated forms (already normalized)
// to the canonical name.
var bookAliases = map[string]string{
	"gen":            "Genesis",
	"ex":             "Exodus",
	"exod":           "Exodus",
	"lev":            "Leviticus",
	"num":            "Numbers",
	"deut":           "Deuteronomy",
	"josh":           "Joshua",
	"judg":           "Judges",
	"psalm":          "Psalms",
	"ps":             "Psalms",
	"prov":           "Proverbs",
	"eccl":           "Ecclesiastes",
	"song of songs":  "Song of Solomon",
	"songs":          "Song of Solomon",
	"canticles":      "Song of Solomon",
	"isa":            "Isaiah",
	"jer":            "Jeremiah",
	"lam":            "Lamentations",
	"ezek":           "Ezekiel",
	"dan":            "Daniel",
	"matt":           "Matthew",
	"mk":             "Mark",
	"lk":             "Luke",
	"jn":             "John",
	"rom":            "Romans",
	"gal":            "Galatians",
	"eph":            "Ephesians",
	"phil":           "Philippians",
	"col":            "Colossians",
	"heb":            "Hebrews",
	"jas":            "James",
	"rev":            "Revelation",
	"revelations":    "Revelation",
	"the revelation": "Revelation",
}

// ordinalPrefixes rewrites the leading word of numbered books.
var ordinalPrefixes = map[string]string{
	"first":  "1",
	"second": "2",
	"third":  "3",
	"1st":    "1",
	"2nd":    "2",
	"3rd":    "3",
	"i":      "1",
	"ii":     "2",
	"iii":    "3",
}

var bookIndex = buildBookIndex()

func buildBookIndex() map[string]string {
	idx := make(map[string]string, len(Books)+len(bookAliases))
	for _, b := range Books {
		idx[strings.ToLower(b)] = b
	}
	for alias, b := range bookAliases {
		idx[alias] = b
	}
	return idx
}

// normalizeBookName lowercases, collapses whitespace and rewrites ordinal
// prefixes so "First  John", "I John" and "1John" all become "1 john".
func normalizeBookName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	if len(fields) == 0 {
		return ""
	}
	if len(fields) > 1 {
		if n, ok := ordinalPrefixes[fields[0]]; ok {
			fields[0] = n
		}
	}
	first := fields[0]
	if len(first) > 1 && first[0] >= '1' && first[0] <= '3' && first[1] >= 'a' && first[1] <= 'z' {
		fields = append([]string{first[:1], first[1:]}, fields[1:]...)
	}
	return strings.Join(fields, " ")
}

// CanonicalBook resolves a book name as it appears in a transcript to its
// canonical spelling. Exact names and known aliases win; otherwise the
// closest canonical book by Jaro-Winkler similarity is accepted when it
// scores at least fuzzyBookThreshold.
func CanonicalBook(name string) (string, bool) {
	n := normalizeBookName(name)
	if n == "" {
		return "", false
	}
	if b, ok := bookIndex[n]; ok {
		return b, true
	}

	best, bestScore := "", 0.0
	for _, b := range Books {
		if s := matchr.JaroWinkler(n, strings.ToLower(b), false); s > bestScore {
			best, bestScore = b, s
		}
	}
	if bestScore >= fuzzyBookThreshold {
		return best, true
	}
	return "", false
}
