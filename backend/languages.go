package backend

import (
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultLanguage is assumed when the backend omits a language.
const DefaultLanguage = "en"

// translationTargets are the codes /translate-from-english accepts, in menu order.
var translationTargets = []string{"hi", "bn", "te", "mr", "ta", "gu", "kn", "ml", "pa"}

func TranslationTargets() []string {
	return slices.Clone(translationTargets)
}

func IsTranslationTarget(code string) bool {
	return slices.Contains(translationTargets, code)
}

// NormalizeLanguage reduces a BCP 47 tag such as "hi-IN" to its base code.
// Unparseable input is returned lowercased and trimmed.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	base, _ := tag.Base()
	return base.String()
}

// LanguageName is the English name of code, e.g. "Hindi" for "hi".
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// NativeName is the language's name for itself, e.g. "हिन्दी" for "hi".
func NativeName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.Self.Name(tag); name != "" {
		return name
	}
	return LanguageName(code)
}
