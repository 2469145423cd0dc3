package friends

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPlaceholderPrefix is where the letter placeholders are served.
const DefaultPlaceholderPrefix = "/avatars/placeholder/"

// unknownAvatar matches the generic images clients upload for users
// without a picture.
var unknownAvatar = regexp.MustCompile(`(?i)(^|/)(unknown|default|anonymous)([-_ ]?(user|avatar|profile))?\.(png|jpe?g|gif|svg|webp)$`)

// ResolveAvatar returns existing unless it is empty or a generic unknown-user
// image, in which case it returns the letter placeholder for displayName.
func ResolveAvatar(existing, displayName string) string {
	return resolveAvatar(DefaultPlaceholderPrefix, existing, displayName)
}

func resolveAvatar(prefix, existing, displayName string) string {
	existing = strings.TrimSpace(existing)
	if existing != "" && !unknownAvatar.MatchString(existing) {
		return existing
	}
	return prefix + placeholderLetter(displayName) + ".png"
}

// placeholderLetter is the upper-cased first rune of name, or "U" when name
// is empty or starts with something that is not a letter or digit.
func placeholderLetter(name string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(name))
	if r == utf8.RuneError || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return "U"
	}
	return string(unicode.ToUpper(r))
}
