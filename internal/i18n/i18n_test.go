package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English},
		{"", language.English},
	}

	for _, tt := range tests {
		got := MatchLanguage(tt.accept)
		base, _ := got.Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "Accept: %s", tt.accept)
	}
}

func TestLocaleTag(t *testing.T) {
	env := func(vals map[string]string) func(string) string {
		return func(k string) string { return vals[k] }
	}

	tests := []struct {
		name string
		vars map[string]string
		want language.Tag
	}{
		{"empty", nil, language.English},
		{"posix", map[string]string{"LANG": "C"}, language.English},
		{"lang german", map[string]string{"LANG": "de_DE.UTF-8"}, language.German},
		{"lc_all wins", map[string]string{"LC_ALL": "en_GB.UTF-8", "LANG": "de_DE.UTF-8"}, language.English},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, _ := LocaleTag(env(tt.vars)).Base()
			exp, _ := tt.want.Base()
			assert.Equal(t, exp, base)
		})
	}

	assert.NotNil(t, NewPrinterFromEnv(env(nil)))
}
