// Package i18n selects the message printer used for CLI output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages CLI output is rendered in.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// MatchLanguage returns the best supported match for a locale or Accept-Language string.
func MatchLanguage(lang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(lang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	return NewPrinterFromEnv(os.Getenv)
}

// NewPrinterFromEnv resolves LC_ALL, then LANG, through getenv.
func NewPrinterFromEnv(getenv func(string) string) *message.Printer {
	return message.NewPrinter(LocaleTag(getenv))
}

// LocaleTag returns the supported tag for the process locale.
func LocaleTag(getenv func(string) string) language.Tag {
	lang := getenv("LC_ALL")
	if lang == "" {
		lang = getenv("LANG")
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return DefaultLang
	}

	// en_US.UTF-8 -> en-US
	if i := strings.Index(lang, "."); i != -1 {
		lang = lang[:i]
	}
	lang = strings.ReplaceAll(lang, "_", "-")

	tag, err := language.Parse(lang)
	if err != nil {
		return MatchLanguage(lang)
	}
	tag, _, _ = matcher.Match(tag)
	return tag
}
