package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample worth handing to the detector; titles
// shorter than this are mostly brand names and detect unreliably.
const minLetters = 6

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// candidateLanguages are the languages the monitored feeds publish in.
var candidateLanguages = []lingua.Language{
	lingua.Korean,
	lingua.English,
	lingua.Japanese,
	lingua.Chinese,
}

// DetectISO6391 returns the two-letter language code of text, or "" when the
// sample is too short or ambiguous.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// DetectArticle prefers the title plus snippet so short headlines still get a
// usable sample.
func DetectArticle(title, snippet string) string {
	return DetectISO6391(strings.TrimSpace(title + " " + snippet))
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(candidateLanguages...).
			Build()
	})
	return detector
}
