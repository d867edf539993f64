package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	// Locale used when nothing better matches the request
	DefaultLocale = "ru"

	// Locale every other catalog falls back to for missing keys
	BaseLocale = "en"

	// LangParam is the query parameter used to select a language.
	LangParam = "lang"
)

//go:embed locales/*/*.yaml
var embeddedCatalogFS embed.FS

type catalogFile struct {
	Locale    string            `yaml:"locale"`
	Namespace string            `yaml:"namespace"`
	Messages  map[string]string `yaml:"messages"`
}

// Catalog holds every message of every supported locale
type Catalog struct {
	messages map[string]map[string]string
	locales  []string
	matcher  language.Matcher
}

// Load reads the catalogs embedded in this package
func Load() (*Catalog, error) {
	return LoadFromFS(embeddedCatalogFS)
}

func LoadFromFS(catalogFS fs.FS) (*Catalog, error) {
	paths, err := fs.Glob(catalogFS, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	c := &Catalog{messages: map[string]map[string]string{}}
	for _, path := range paths {
		data, err := fs.ReadFile(catalogFS, path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}

		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
		if err := c.addFile(path, file); err != nil {
			return nil, err
		}
	}

	if _, ok := c.messages[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	if _, ok := c.messages[DefaultLocale]; !ok {
		return nil, fmt.Errorf("default locale %s is not defined in catalogs", DefaultLocale)
	}

	// the matcher treats its first tag as the default
	c.locales = []string{DefaultLocale}
	for locale := range c.messages {
		if locale != DefaultLocale {
			c.locales = append(c.locales, locale)
		}
	}
	sort.Strings(c.locales[1:])

	tags := make([]language.Tag, 0, len(c.locales))
	for _, locale := range c.locales {
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("parse locale tag %q: %w", locale, err)
		}
		tags = append(tags, tag)
	}
	c.matcher = language.NewMatcher(tags)

	return c, nil
}

func (c *Catalog) addFile(path string, file catalogFile) error {
	localeFromPath := filepath.Base(filepath.Dir(path))
	namespaceFromPath := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	locale := strings.TrimSpace(file.Locale)
	if locale != localeFromPath {
		return fmt.Errorf("catalog %s: locale %q must match path locale %q", path, locale, localeFromPath)
	}
	if strings.TrimSpace(file.Namespace) != namespaceFromPath {
		return fmt.Errorf("catalog %s: namespace %q must match filename namespace %q", path, file.Namespace, namespaceFromPath)
	}
	if file.Messages == nil {
		return fmt.Errorf("catalog %s: messages map is required", path)
	}

	localeMessages, ok := c.messages[locale]
	if !ok {
		localeMessages = map[string]string{}
		c.messages[locale] = localeMessages
	}

	for key, value := range file.Messages {
		trimmedKey := strings.TrimSpace(key)
		if !strings.HasPrefix(trimmedKey, namespaceFromPath+".") {
			return fmt.Errorf("catalog %s: key %q must live under namespace %q", path, trimmedKey, namespaceFromPath)
		}
		if _, exists := localeMessages[trimmedKey]; exists {
			return fmt.Errorf("catalog %s: duplicate key %q in locale %q", path, trimmedKey, locale)
		}
		localeMessages[trimmedKey] = value
	}
	return nil
}

// Locales returns the supported locales, default first
func (c *Catalog) Locales() []string {
	return append([]string(nil), c.locales...)
}

// Match maps any BCP 47 locale (or Accept-Language value) onto a supported locale
func (c *Catalog) Match(requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return DefaultLocale
	}

	tags, _, err := language.ParseAcceptLanguage(requested)
	if err != nil || len(tags) == 0 {
		return DefaultLocale
	}

	_, index, confidence := c.matcher.Match(tags...)
	if confidence == language.No {
		return DefaultLocale
	}
	return c.locales[index]
}

// Text returns the message for key, falling back to the base locale and then
// to the key itself
func (c *Catalog) Text(locale string, key string) string {
	if value, ok := c.messages[c.Match(locale)][key]; ok {
		return value
	}
	if value, ok := c.messages[BaseLocale][key]; ok {
		return value
	}
	return key
}

// ResolveLocale picks the locale for an incoming request: lang query param,
// then Accept-Language, then the default
func (c *Catalog) ResolveLocale(r *http.Request) string {
	if r == nil {
		return DefaultLocale
	}
	if lang := strings.TrimSpace(r.URL.Query().Get(LangParam)); lang != "" {
		return c.Match(lang)
	}
	return c.Match(r.Header.Get("Accept-Language"))
}
