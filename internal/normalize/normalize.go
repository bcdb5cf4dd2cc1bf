package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PendingPrefix marks a synthetic MBID for an artist the registry could not resolve yet.
const PendingPrefix = "PENDING-"

// capsExceptions are stylized names that stay upper case.
var capsExceptions = map[string]bool{
	"ABBA": true, "ACDC": true,
	"B2K": true, "BTS": true, "BIGBANG": true,
	"CNR":  true,
	"DMX":  true, "DHT": true,
	"ELO":  true,
	"INXS": true,
	"KISS": true,
	"LL COOL J": true,
	"MFSB":      true,
	"NSYNC":     true, "NWA": true, "N.W.A": true,
	"O.A.R.":  true,
	"PINK":    true,
	"P!NK":    true,
	"R.E.M.":  true,
	"RUN DMC": true,
	"SWV":     true,
	"TLC":     true,
	"UB40":    true,
	"XTC":     true,
	"ZZ TOP":  true,
}

// commonWords are short upper-case tokens that are ordinary words, not acronyms.
// "I" is absent on purpose: it is a roman numeral.
var commonWords = map[string]bool{
	"THE": true, "AND": true, "BUT": true, "FOR": true, "NOR": true, "OR": true, "SO": true, "YET": true,
	"MY": true, "YOUR": true, "HIS": true, "HER": true, "ITS": true, "OUR": true, "THEIR": true,
	"THIS": true, "THAT": true, "THESE": true, "THOSE": true,
	"A": true, "AN": true, "AM": true, "IS": true, "ARE": true, "WAS": true, "WERE": true, "BE": true,
	"YOU": true, "HE": true, "SHE": true, "IT": true, "WE": true, "THEY": true,
	"ME": true, "HIM": true, "THEM": true,
	"IN": true, "ON": true, "AT": true, "TO": true, "BY": true, "WITH": true, "FROM": true,
	"NOT": true, "NO": true, "YES": true,
	"FUN": true, "BIG": true, "BOI": true, "BOY": true, "CRY": true, "HEY": true, "NOW": true,
	"OUT": true, "SAY": true, "SEE": true, "WAY": true,
	"FEAT": true, "FT": true, "FEATURING": true,
}

var (
	romanNumeral     = regexp.MustCompile(`^[IVX]+$`)
	apostropheRun    = regexp.MustCompile(`'{2,}`)
	nonWordExceptApo = regexp.MustCompile(`[^\p{L}\p{N}_\s']`)

	foldApostrophes = strings.NewReplacer(
		"’", "'", "‘", "'", "‛", "'", "´", "'", "`", "'",
	)
	foldHyphens = strings.NewReplacer(
		"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-",
	)
)

// Normalize returns the canonical stored spelling of an artist name or song title.
//
// Apostrophe and hyphen look-alikes fold to ASCII, whitespace collapses, and
// ALL-CAPS input is converted to title case unless it is a known acronym,
// roman numeral, dotted initialism or short token. Normalize is idempotent.
func Normalize(text string, preserveCaps bool) string {
	if text == "" {
		return ""
	}

	text = norm.NFC.String(text)
	text = foldApostrophes.Replace(text)
	text = apostropheRun.ReplaceAllString(text, "'")
	text = foldHyphens.Replace(text)
	text = collapseWhitespace(text)
	if text == "" {
		return ""
	}

	if isAllUpper(text) && !preserveCaps && !shouldPreserveCaps(text) {
		text = lowerAfterApostrophe(text)

		words := strings.Fields(text)
		for i, word := range words {
			if shouldPreserveCaps(word) {
				continue
			}
			words[i] = capitalizeFirst(strings.ToLower(word))
		}
		text = lowerAfterApostrophe(strings.Join(words, " "))
	}

	switch text {
	case "PINK", "Pink":
		return "P!NK"
	case "Acdc":
		return "ACDC"
	}
	return text
}

// Artist normalizes an artist name for storage.
func Artist(name string) string {
	return Normalize(name, false)
}

// Title normalizes a song title for storage.
func Title(title string) string {
	return Normalize(title, false)
}

// Aggressive is the matching-only form: normalized, punctuation and
// apostrophes dropped, lower-cased. Never store it.
func Aggressive(text string) string {
	text = Normalize(text, false)
	if text == "" {
		return ""
	}
	text = nonWordExceptApo.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "'", "")
	return collapseWhitespace(strings.ToLower(text))
}

// Key returns a loose comparison key: lower case, punctuation removed,
// "&" spelled "and", diacritics stripped.
func Key(s string) string {
	if s == "" {
		return ""
	}
	s = StripDiacritics(strings.ToLower(Normalize(s, false)))
	if strings.HasSuffix(s, ", the") {
		s = "the " + strings.TrimSuffix(s, ", the")
	}
	return collapseWhitespace(removePunctuation(s))
}

// StripDiacritics removes combining marks after NFKD decomposition.
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// PendingMBID returns the deterministic placeholder MBID for name.
func PendingMBID(name string) string {
	sum := md5.Sum([]byte(name))
	return PendingPrefix + hex.EncodeToString(sum[:])
}

// IsPending reports whether mbid is a placeholder.
func IsPending(mbid string) bool {
	return strings.HasPrefix(mbid, PendingPrefix)
}

// DisplayName re-capitalizes a stored name for listings. Names that already
// carry mixed case are returned unchanged.
func DisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	displayExceptions := map[string]string{
		"ac/dc":           "AC/DC",
		"abba":            "ABBA",
		"ok go":           "OK Go",
		"r.e.m.":          "R.E.M.",
		"tv on the radio": "TV on the Radio",
		"a-ha":            "A-ha",
		"lovelytheband":   "lovelytheband",
	}
	if proper, ok := displayExceptions[strings.ToLower(name)]; ok {
		return proper
	}
	if hasLower(name) && hasUpper(name) {
		return name
	}

	if i := strings.Index(name, "("); i > 0 && strings.Contains(name[i:], ")") {
		return DisplayName(name[:i]) + " " + cases.Title(language.Und).String(strings.TrimSpace(name[i:]))
	}

	if strings.Contains(name, "-") && !strings.Contains(name, " ") {
		parts := strings.Split(name, "-")
		for i, p := range parts {
			parts[i] = capitalizeFirst(strings.ToLower(p))
		}
		return strings.Join(parts, "-")
	}

	words := strings.Fields(name)
	for i, w := range words {
		words[i] = capitalizeFirst(strings.ToLower(w))
	}
	return strings.Join(words, " ")
}

// shouldPreserveCaps decides whether an ALL-CAPS token stays upper case.
func shouldPreserveCaps(text string) bool {
	if !isAllUpper(text) {
		return false
	}
	if romanNumeral.MatchString(text) {
		return true
	}
	if commonWords[text] || commonWords[strings.TrimRight(text, ".")] {
		return false
	}
	if capsExceptions[text] {
		return true
	}
	n := len([]rune(text))
	if strings.Contains(text, ".") && n <= 6 {
		return true
	}
	if n <= 3 && !strings.Contains(text, " ") {
		return true
	}
	return false
}

// isAllUpper reports whether s has at least one cased letter and no lower-case ones.
func isAllUpper(s string) bool {
	cased := false
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			return false
		case unicode.IsUpper(r), unicode.IsTitle(r):
			cased = true
		}
	}
	return cased
}

func hasLower(s string) bool {
	return strings.IndexFunc(s, unicode.IsLower) >= 0
}

func hasUpper(s string) bool {
	return strings.IndexFunc(s, unicode.IsUpper) >= 0
}

// lowerAfterApostrophe turns "AIN'T" style contractions into "AIN't".
func lowerAfterApostrophe(s string) string {
	rs := []rune(s)
	for i := 1; i < len(rs); i++ {
		if rs[i-1] == '\'' && unicode.IsLetter(rs[i]) {
			rs[i] = unicode.ToLower(rs[i])
		}
	}
	return string(rs)
}

func capitalizeFirst(word string) string {
	if word == "" {
		return ""
	}
	rs := []rune(word)
	rs[0] = unicode.ToUpper(rs[0])
	return string(rs)
}

// removePunctuation removes common punctuation characters
func removePunctuation(s string) string {
	replacer := strings.NewReplacer(
		".", "",
		",", "",
		"!", "",
		"?", "",
		"'", "",
		"\"", "",
		":", "",
		";", "",
		"-", " ",
		"_", " ",
		"&", "and",
		"/", "",
	)
	return replacer.Replace(s)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// collapseWhitespace replaces multiple spaces with a single space
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
