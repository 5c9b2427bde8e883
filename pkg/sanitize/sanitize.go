package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultGuestName is shown for guests that did not give a usable name
const DefaultGuestName = "Гость"

// MaxDisplayNameRunes caps guest display names
const MaxDisplayNameRunes = 64

// DisplayName cleans a user-supplied display name: control and format
// characters are dropped, whitespace runs collapse to one space, the result
// is trimmed and cut to MaxDisplayNameRunes. An empty result becomes
// DefaultGuestName. Names are never unique.
func DisplayName(input string) string {
	var b strings.Builder
	b.Grow(len(input))

	pendingSpace := false
	runes := 0
	for _, r := range input {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsSpace(r) {
			pendingSpace = runes > 0
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		if pendingSpace {
			if runes+1 >= MaxDisplayNameRunes {
				break
			}
			b.WriteByte(' ')
			runes++
			pendingSpace = false
		}
		if runes >= MaxDisplayNameRunes {
			break
		}
		b.WriteRune(r)
		runes++
	}

	if b.Len() == 0 {
		return DefaultGuestName
	}
	return b.String()
}
