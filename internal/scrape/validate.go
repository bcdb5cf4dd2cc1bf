package scrape

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/util"
)

const (
	minFieldLen        = 3
	maxFieldLen        = 60
	maxArtistLen       = 100
	maxPlainArtistLen  = 40
	maxUpperTitleLen   = 15
	minSwapArtistWords = 4
	maxSwapTitleWords  = 2
)

// stopPhrases are page chrome labels. They only reject a field that consists
// of the label alone.
var stopPhrases = map[string]struct{}{}

func init() {
	for _, p := range []string{
		"Most Played", "Advertise With Us", "Advertise", "CONNECT",
		"EXCLUSIVES", "INFORMATION", "GET THE APP",
		"iHeart", "Live Radio", "Podcasts", "News", "News Feed",
		"For You", "Your Library", "Artist Radio", "Playlists",
		"Follow Us", "Social", "Facebook", "Twitter", "Instagram",
		"Download", "App Store", "Google Play", "Amazon Alexa",
		"Sign Up", "Log In", "Newsletter", "Terms", "Privacy", "Privacy Policy",
		"Do Not Sell", "Settings", "Contact", "Help", "Support",
		"Copyright", "LLC", "iHeartMedia", "iHeartRadio",
		"The Latest", "Trending", "Latest News", "Trending Now",
		"Subscribe", "Subscription", "Donate", "Sponsor", "Sponsored",
		"Advertisement", "Ad", "Banner", "Click Here", "Learn More",
		"Join Now", "Register", "Create Account", "Sign In",
		"Mobile App", "iOS", "Android", "Download Now",
		"Contest Rules", "Terms of Use", "Cookie Policy",
	} {
		stopPhrases[p] = struct{}{}
	}
}

// adPhrases are matched case-insensitively on word boundaries anywhere in a
// field. Single words that occur in real song titles are left out.
var adPhrases = regexp.MustCompile(`(?i)\b(?:` + strings.Join([]string{
	`advertise`, `advertisement`, `sponsored`, `promotion`, `subscribe`,
	`newsletter`, `privacy policy`, `terms of service`,
	`download the app`, `get the app`, `app store`, `google play`,
	`sign up`, `log in`, `create account`, `join now`,
	`follow us`, `social media`, `facebook`, `twitter`, `instagram`,
	`contact us`, `help center`, `customer service`,
	`copyright`, `all rights reserved`, `llc`, `incorporated`,
	`click here`, `learn more`, `read more`, `find out more`,
	`limited time`, `act now`, `special offer`,
	`contest`, `sweepstakes`, `giveaway`,
}, "|") + `)\b`)

var (
	urlPattern      = regexp.MustCompile(`(?i)https?://|www\.`)
	tollFreePattern = regexp.MustCompile(`1-8(?:00|88|77|66)`)
	uiPhrasePattern = regexp.MustCompile(`(?i)\b(?:listen live|now playing|up next|advertisement|sponsor)\b`)
)

// IsAdvertisement reports whether text looks like page chrome, an ad or
// contact details rather than an artist or title.
func IsAdvertisement(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if _, ok := stopPhrases[text]; ok {
		return true
	}
	if adPhrases.MatchString(text) {
		return true
	}
	if urlPattern.MatchString(text) {
		return true
	}
	if strings.Contains(text, "@") && strings.Contains(text, ".") {
		return true
	}
	if tollFreePattern.MatchString(text) {
		return true
	}
	return strings.Contains(text, "©") || strings.Contains(strings.ToLower(text), "(c)")
}

// IsValidArtistName rejects names that are really lists or junk: over-long
// strings, two or more commas, "Artist One, Artist Two" and names without a
// letter.
func IsValidArtistName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if utf8.RuneCountInString(name) > maxArtistLen {
		util.DebugLog("Rejecting artist name (too long): %.50s...", name)
		return false
	}

	switch strings.Count(name, ",") {
	case 0:
	case 1:
		parts := strings.SplitN(name, ",", 2)
		if strings.Contains(strings.TrimSpace(parts[0]), " ") && strings.Contains(strings.TrimSpace(parts[1]), " ") {
			util.DebugLog("Rejecting artist name (looks like list): %s", name)
			return false
		}
	default:
		util.DebugLog("Rejecting artist name (too many commas): %s", name)
		return false
	}

	if strings.IndexFunc(name, unicode.IsLetter) < 0 {
		util.DebugLog("Rejecting artist name (no letters): %s", name)
		return false
	}
	return true
}

// ValidatePair checks an extracted (artist, title) pair for signs that the
// two fields were swapped or picked up from the wrong element.
func ValidatePair(artist, title string) bool {
	collab := normalize.HasCollaborationMarker(artist)

	if isYear(artist) {
		util.DebugLog("Validation failed: artist %q looks like a year", artist)
		return false
	}

	if isUpper(title) && utf8.RuneCountInString(title) > maxUpperTitleLen {
		util.DebugLog("Validation failed: title %q is all uppercase and long", title)
		return false
	}

	if utf8.RuneCountInString(artist) > maxPlainArtistLen && !collab {
		util.DebugLog("Validation failed: artist %q is too long", artist)
		return false
	}

	if utf8.RuneCountInString(artist) < minFieldLen || utf8.RuneCountInString(title) < minFieldLen {
		return false
	}

	if uiPhrasePattern.MatchString(artist + " " + title) {
		util.DebugLog("Validation failed: UI phrase in %q / %q", artist, title)
		return false
	}

	titleWords := strings.Fields(title)
	if len(titleWords) <= maxSwapTitleWords && len(strings.Fields(artist)) >= minSwapArtistWords && !collab {
		capitalized := true
		for _, w := range titleWords {
			r, _ := utf8.DecodeRuneInString(w)
			if !unicode.IsUpper(r) {
				capitalized = false
				break
			}
		}
		if capitalized {
			util.DebugLog("Validation failed: possible swap %q by %q", title, artist)
			return false
		}
	}

	return true
}

func isYear(s string) bool {
	if len(s) != 4 {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return false
	}
	return n >= 1000 && n <= 2999
}

// isUpper reports whether s has cased letters and none of them are lowercase.
func isUpper(s string) bool {
	hasUpper := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasUpper = true
		}
	}
	return hasUpper
}

// acceptField applies the shared length bound and ad filter to one field.
func acceptField(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= minFieldLen && n <= maxFieldLen && !IsAdvertisement(s)
}
