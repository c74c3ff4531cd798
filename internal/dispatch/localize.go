package dispatch

import "strings"

// Supported acknowledgement languages.
const (
	LanguageEnglish    = "en"
	LanguageVietnamese = "vi"
)

type phraseKey struct {
	message  string
	language string
}

var (
	turnedOn = map[string]string{
		LanguageEnglish:    "The device is turned on.",
		LanguageVietnamese: "Thiết bị đã được bật.",
	}
	turnedOff = map[string]string{
		LanguageEnglish:    "The device is turned off.",
		LanguageVietnamese: "Thiết bị đã được tắt.",
	}
)

// phrases is keyed by lower-cased command and language.
var phrases = buildPhrases(map[string]map[string]string{
	"on":       turnedOn,
	"turn_on":  turnedOn,
	"off":      turnedOff,
	"turn_off": turnedOff,
})

func buildPhrases(byCommand map[string]map[string]string) map[phraseKey]string {
	out := make(map[phraseKey]string)
	for command, byLanguage := range byCommand {
		for language, text := range byLanguage {
			out[phraseKey{message: command, language: language}] = text
		}
	}
	return out
}

// Localize returns the human-readable acknowledgement for message in
// language. Commands and languages outside the table pass through
// unchanged.
func Localize(message, language string) string {
	key := phraseKey{
		message:  strings.ToLower(strings.TrimSpace(message)),
		language: strings.ToLower(strings.TrimSpace(language)),
	}
	if text, ok := phrases[key]; ok {
		return text
	}
	return message
}
