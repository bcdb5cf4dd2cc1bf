package playlist

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/franz/radio-monitor/internal/normalize"
)

// artistAliases maps names as stations announce them to the names a
// library usually files them under. Keys are lower case.
var artistAliases = map[string]string{
	"celine":                "Céline Dion",
	"michael buble":         "Michael Bublé",
	"desree":                "Des'ree",
	"des\u2019ree":          "Des'ree",
	"whitney":               "Whitney Houston",
	"mariah":                "Mariah Carey",
	"snoop":                 "Snoop Dogg",
	"puff daddy":            "P. Diddy",
	"diddy":                 "P. Diddy",
	"pnk":                   "P!NK",
	"p!nk":                  "P!NK",
	"pink":                  "P!NK",
	"beyonce":               "Beyoncé",
	"andre 3000":            "André 3000",
	"a ha":                  "A-ha",
	"ne yo":                 "Ne-Yo",
	"j holiday":             "J-Holiday",
	"jay z":                 "Jay-Z",
	"dr dre":                "Dr. Dre",
	"ice t":                 "Ice-T",
	"brooks dunn":           "Brooks & Dunn",
	"dan shay":              "Dan + Shay",
	"daryl hall john oates": "Daryl Hall & John Oates",
	"hall oates":            "Daryl Hall & John Oates",
	"hootie the blowfish":   "Hootie & The Blowfish",
	"k ci jojo":             "K-Ci & JoJo",
	"k-ci jojo":             "K-Ci & JoJo",
	"sheila e":              "Sheila E.",
	"sonny cher":            "Sonny & Cher",
	"crosby stills nash":    "Crosby, Stills & Nash",
	"guns n roses":          "Guns N' Roses",
	"guns and roses":        "Guns N' Roses",
	"tom petty":             "Tom Petty & The Heartbreakers",
	"heartbreakers":         "Tom Petty & The Heartbreakers",
	"steve miller":          "The Steve Miller Band",
	"tim mcgraw":            "Tim McGraw",
	"drake future":          "Drake & Future",
}

// contractions restores apostrophes stations tend to drop. Keys are lower case.
var contractions = map[string]string{
	"dont": "don't", "cant": "can't", "wont": "won't", "aint": "ain't",
	"im": "I'm", "youre": "you're", "thats": "that's", "whats": "what's",
	"lets": "let's", "theres": "there's", "heres": "here's", "whos": "who's",
	"nothin": "nothin'", "goin": "goin'", "comin": "comin'",
	"todays": "today's", "tomorrows": "tomorrow's", "yesterdays": "yesterday's",
	"everybodys": "everybody's", "somebodys": "somebody's", "nobodys": "nobody's",
}

var (
	bracketed   = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]`)
	apostrophes = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "", "´", "")
	unicodeDash = strings.NewReplacer("‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-")
	unicodeApos = strings.NewReplacer("’", "'", "‘", "'", "´", "'", "`", "'")
	wordRe      = regexp.MustCompile(`[\p{L}\p{N}']+`)
)

// CanonicalArtist returns the library name for a station's artist name.
// extra is consulted before the built-in table; its keys are matched
// case-insensitively.
func CanonicalArtist(name string, extra map[string]string) string {
	name = strings.TrimSpace(name)
	key := strings.ToLower(name)
	for k, v := range extra {
		if strings.ToLower(k) == key {
			return v
		}
	}
	if v, ok := artistAliases[key]; ok {
		return v
	}
	return name
}

// variants collects unique, non-empty strings in insertion order
type variants []string

func (v *variants) add(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	for _, have := range *v {
		if have == s {
			return
		}
	}
	*v = append(*v, s)
}

// TitleVariations returns search forms of a title, the original first:
// bracketed text removed, apostrophes curled, straightened or dropped,
// periods dropped, hyphens spaced, diacritics stripped, all of those
// combined, and dropped apostrophes restored in common contractions.
func TitleVariations(title string) []string {
	var v variants
	v.add(title)

	noBrackets := bracketed.ReplaceAllString(title, "")
	v.add(noBrackets)
	v.add(strings.ReplaceAll(title, "'", "’"))
	v.add(strings.ReplaceAll(title, "’", "'"))
	v.add(apostrophes.Replace(title))
	v.add(strings.ReplaceAll(title, ".", ""))
	v.add(strings.Join(strings.Fields(strings.ReplaceAll(title, "-", " ")), " "))
	v.add(normalize.StripDiacritics(title))

	combined := apostrophes.Replace(noBrackets)
	combined = strings.ReplaceAll(combined, ".", "")
	combined = strings.Join(strings.Fields(strings.ReplaceAll(combined, "-", " ")), " ")
	v.add(normalize.StripDiacritics(combined))

	if restored, ok := restoreContractions(title); ok {
		v.add(restored)
		v.add(normalize.StripDiacritics(restored))
	}
	return v
}

// restoreContractions puts apostrophes back into whole words like "Dont".
func restoreContractions(title string) (string, bool) {
	changed := false
	out := wordRe.ReplaceAllStringFunc(title, func(w string) string {
		with, ok := contractions[strings.ToLower(w)]
		if !ok {
			return w
		}
		changed = true
		r := []rune(w)
		if unicode.IsUpper(r[0]) {
			wr := []rune(with)
			wr[0] = unicode.ToUpper(wr[0])
			return string(wr)
		}
		return with
	})
	return out, changed
}

// ArtistVariations returns search forms of an artist name, the original
// first: the canonical alias, unicode dashes and apostrophes made ASCII,
// "&" and "and" swapped, two-word names hyphenated or joined with "&" and
// "+", a separator inserted before the last two words of longer names, and
// separators removed.
func ArtistVariations(name string, extra map[string]string) []string {
	var v variants
	v.add(name)
	v.add(CanonicalArtist(name, extra))

	base := unicodeApos.Replace(unicodeDash.Replace(name))
	v.add(base)

	switch {
	case strings.Contains(base, " & "):
		v.add(strings.ReplaceAll(base, " & ", " and "))
	case strings.Contains(strings.ToLower(base), " and "):
		v.add(replaceWordFold(base, "and", "&"))
	}

	parts := strings.Fields(base)
	hasSep := strings.ContainsAny(base, "&+/") || slices.ContainsFunc(parts, func(w string) bool {
		return strings.EqualFold(w, "and")
	})

	if len(parts) == 2 && !strings.Contains(base, "-") && len(base) < 30 {
		v.add(parts[0] + "-" + parts[1])
	}
	if strings.Contains(base, "-") {
		v.add(strings.Join(strings.Fields(strings.ReplaceAll(base, "-", " ")), " "))
	}

	if !hasSep && len(parts) == 2 && collabWord(parts[0]) && collabWord(parts[1]) {
		v.add(parts[0] + " & " + parts[1])
		v.add(parts[0] + " + " + parts[1])
	}
	if !hasSep && len(parts) >= 3 {
		head := strings.Join(parts[:len(parts)-2], " ")
		last := parts[len(parts)-2:]
		v.add(head + " " + last[0] + " & " + last[1])
		v.add(head + " " + last[0] + " + " + last[1])
		if len(parts) >= 4 {
			for i := 1; i < len(parts)-1; i++ {
				v.add(strings.Join(parts[:i], " ") + " & " + strings.Join(parts[i:], " "))
			}
		}
	}

	if hasSep {
		stripped := strings.NewReplacer("&", "", "+", "", "/", "").Replace(base)
		v.add(strings.Join(strings.Fields(stripped), " "))
	}
	return v
}

var notCollabWords = map[string]bool{
	"the": true, "and": true, "or": true, "feat": true, "ft": true, "featuring": true, "with": true,
}

// collabWord reports whether w could be one half of a two-name act.
func collabWord(w string) bool {
	return len([]rune(w)) >= 3 && !notCollabWords[strings.ToLower(w)]
}

func replaceWordFold(s, word, with string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if strings.EqualFold(f, word) {
			fields[i] = with
		}
	}
	return strings.Join(fields, " ")
}

// LevenshteinRatio returns the case-insensitive similarity of a and b on a
// 0 to 100 scale: (len(a)+len(b)-distance) / (len(a)+len(b)), in runes.
func LevenshteinRatio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return float64(total-d) * 100 / float64(total)
}

// fuzzyMatch accepts a ratio of 90 or better. Strings longer than eight
// runes also match at 85 when at most two edits apart.
func fuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ratio := LevenshteinRatio(a, b)
	if ratio >= 90 {
		return true
	}
	if ratio < 85 {
		return false
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest > 8 {
		return levenshtein.ComputeDistance(strings.ToLower(a), strings.ToLower(b)) <= 2
	}
	return ratio >= 85.5
}
