package wordlist

import (
	"strings"
	"unicode"
)

// FilterFunc returns true when a word should be kept.
type FilterFunc func(string) bool

// FilterForLang returns a language-specific filter for imported word lists.
func FilterForLang(lang string) FilterFunc {
	switch strings.ToLower(lang) {
	case "en":
		return filterEnglish
	default:
		return filterLetters
	}
}

// filterEnglish keeps lowercase ASCII words, allowing inner apostrophes
// ("don't") since keyless letters are skipped while swiping.
func filterEnglish(word string) bool {
	if word == "" || word[0] == '\'' || word[len(word)-1] == '\'' {
		return false
	}
	for i := 0; i < len(word); i++ {
		ch := word[i]
		if ch == '\'' {
			continue
		}
		if ch < 'a' || ch > 'z' {
			return false
		}
	}
	return true
}

func filterLetters(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
