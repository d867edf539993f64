package i18n

import (
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalogsLoad(t *testing.T) {
	catalog, err := Load()
	require.Nil(t, err)
	assert.Equal(t, []string{"ru", "en"}, catalog.Locales())
}

func TestMatch(t *testing.T) {
	catalog, err := Load()
	require.Nil(t, err)

	assert.Equal(t, "en", catalog.Match("en"))
	assert.Equal(t, "en", catalog.Match("en-GB"))
	assert.Equal(t, "ru", catalog.Match("ru-RU"))
	assert.Equal(t, "en", catalog.Match("fr-FR, en;q=0.8"))
	assert.Equal(t, DefaultLocale, catalog.Match("de"))
	assert.Equal(t, DefaultLocale, catalog.Match(""))
	assert.Equal(t, DefaultLocale, catalog.Match("!!!"))
}

func TestTextFallsBack(t *testing.T) {
	catalog, err := LoadFromFS(fstest.MapFS{
		"locales/en/banner.yaml": {Data: []byte("locale: en\nnamespace: banner\nmessages:\n  banner.only_en: \"english only\"\n  banner.both: \"both en\"\n")},
		"locales/ru/banner.yaml": {Data: []byte("locale: ru\nnamespace: banner\nmessages:\n  banner.both: \"both ru\"\n")},
	})
	require.Nil(t, err)

	assert.Equal(t, "both ru", catalog.Text("ru", "banner.both"))
	assert.Equal(t, "both en", catalog.Text("en", "banner.both"))
	assert.Equal(t, "english only", catalog.Text("ru", "banner.only_en"))
	assert.Equal(t, "banner.missing", catalog.Text("ru", "banner.missing"))
}

func TestEmbeddedCatalogsAgree(t *testing.T) {
	catalog, err := Load()
	require.Nil(t, err)

	for key := range catalog.messages[BaseLocale] {
		_, ok := catalog.messages[DefaultLocale][key]
		assert.True(t, ok, "ru catalog is missing %s", key)
	}
	assert.Equal(t, "Запрашиваемый ресурс не найден.", catalog.Text("ru", "banner.http.not_found"))
	assert.Equal(t, "The requested resource was not found.", catalog.Text("en", "banner.http.not_found"))
}

func TestLoadRejectsMismatchedCatalogs(t *testing.T) {
	_, err := LoadFromFS(fstest.MapFS{
		"locales/en/banner.yaml": {Data: []byte("locale: ru\nnamespace: banner\nmessages: {}\n")},
	})
	assert.NotNil(t, err)

	_, err = LoadFromFS(fstest.MapFS{
		"locales/en/banner.yaml": {Data: []byte("locale: en\nnamespace: banner\nmessages:\n  server.x: y\n")},
		"locales/ru/banner.yaml": {Data: []byte("locale: ru\nnamespace: banner\nmessages: {}\n")},
	})
	assert.NotNil(t, err)

	_, err = LoadFromFS(fstest.MapFS{
		"locales/en/banner.yaml": {Data: []byte("locale: en\nnamespace: banner\nmessages: {}\n")},
	})
	assert.NotNil(t, err, "default locale catalog is required")

	_, err = LoadFromFS(fstest.MapFS{})
	assert.NotNil(t, err)
}

func TestResolveLocale(t *testing.T) {
	catalog, err := Load()
	require.Nil(t, err)

	request := httptest.NewRequest("GET", "/api/log-error?lang=en", nil)
	request.Header.Set("Accept-Language", "ru")
	assert.Equal(t, "en", catalog.ResolveLocale(request))

	request = httptest.NewRequest("GET", "/api/log-error", nil)
	request.Header.Set("Accept-Language", "en-US,en;q=0.9")
	assert.Equal(t, "en", catalog.ResolveLocale(request))

	request = httptest.NewRequest("GET", "/api/log-error", nil)
	assert.Equal(t, DefaultLocale, catalog.ResolveLocale(request))
	assert.Equal(t, DefaultLocale, catalog.ResolveLocale(nil))
}
