// Package i18n renders localized cache error messages.
package i18n

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/language"
)

// BaseLocale is used when no registered locale matches a request.
const BaseLocale = "en-US"

// Catalog holds the parsed message templates of one locale, keyed by error code.
type Catalog struct {
	locale    string
	templates map[string]*template.Template
}

// NewCatalog parses messages for locale. Templates see the error metadata
// as their data; missing keys render empty.
func NewCatalog(locale string, messages map[string]string) (*Catalog, error) {
	if _, err := language.Parse(locale); err != nil {
		return nil, fmt.Errorf("parse locale %q: %w", locale, err)
	}
	templates := make(map[string]*template.Template, len(messages))
	for code, text := range messages {
		tmpl, err := template.New(code).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s message for %s: %w", code, locale, err)
		}
		templates[code] = tmpl
	}
	return &Catalog{locale: locale, templates: templates}, nil
}

// Locale returns the locale the catalog was built for.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message for code. Unknown codes render as the code itself.
func (c *Catalog) Format(code string, metadata map[string]string) string {
	tmpl, ok := c.templates[code]
	if !ok {
		return code
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, metadata); err != nil {
		return code
	}
	return buf.String()
}

// Bundle selects a catalog for an Accept-Language value.
type Bundle struct {
	catalogs []*Catalog
	matcher  language.Matcher
}

// NewBundle builds a bundle whose first catalog is the fallback.
func NewBundle(base *Catalog, others ...*Catalog) *Bundle {
	catalogs := append([]*Catalog{base}, others...)
	tags := make([]language.Tag, 0, len(catalogs))
	for _, c := range catalogs {
		tags = append(tags, language.MustParse(c.locale))
	}
	return &Bundle{catalogs: catalogs, matcher: language.NewMatcher(tags)}
}

// Match returns the catalog closest to acceptLanguage, or the base catalog.
func (b *Bundle) Match(acceptLanguage string) *Catalog {
	base := b.catalogs[0]
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return base
	}
	requested, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(requested) == 0 {
		return base
	}
	_, index, confidence := b.matcher.Match(requested...)
	if confidence == language.No || index < 0 || index >= len(b.catalogs) {
		return base
	}
	return b.catalogs[index]
}

// Locales lists the bundle's locales, base first.
func (b *Bundle) Locales() []string {
	locales := make([]string, 0, len(b.catalogs))
	for _, c := range b.catalogs {
		locales = append(locales, c.locale)
	}
	return locales
}

// Default serves the built-in English and Brazilian Portuguese messages.
var Default = NewBundle(mustCatalog(BaseLocale, enUS), mustCatalog("pt-BR", ptBR))

func mustCatalog(locale string, messages map[string]string) *Catalog {
	c, err := NewCatalog(locale, messages)
	if err != nil {
		panic(err)
	}
	return c
}
