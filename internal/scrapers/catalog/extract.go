package catalog

import (
	"strings"

	"catalog-scraper/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Selectors locate the parts of a listing page. The zero value of a field
// is not valid, start from DefaultSelectors and override what differs.
type Selectors struct {
	// Card matches one product card, Next matches the next page anchor.
	Card string
	Next string

	ID     string
	IDAttr string
	Title  string

	OldPrice     string
	CurrentPrice string

	SpecRow       string
	SpecKey       string
	SpecValue     string
	SpecSeparator string

	Image     string
	ImageAttr string
}

var DefaultSelectors = Selectors{
	Card: "[data-id]",
	Next: "li.bx-pag-next a",

	ID:     "div.bx_catalog_item_scu_code",
	IDAttr: "text",
	Title:  "div.bx_catalog_item_title a",

	OldPrice:     "div.bx_catalog_item_price .old_price",
	CurrentPrice: "div.bx_catalog_item_price .current_price",

	SpecRow:       "div.bx_catalog_item_spec div",
	SpecKey:       ".bx_catalog_item_prop",
	SpecValue:     ".bx_catalog_item_value",
	SpecSeparator: ":",

	Image:     ".item_image_container img",
	ImageAttr: "data-src",
}

// ExtractItem extracts a card with DefaultSelectors.
func ExtractItem(card *goquery.Selection) ProductRecord {
	return DefaultSelectors.ExtractItem(card)
}

// ExtractItem turns one product card into a record. Fields whose element is
// missing or empty are left out, it never fails.
func (s Selectors) ExtractItem(card *goquery.Selection) ProductRecord {
	var b recordBuilder
	setNonEmpty := func(key, value string) {
		if value != "" {
			b.set(key, value)
		}
	}

	setNonEmpty(FieldID, s.extractID(card))
	setNonEmpty(FieldTitle, s.extractTitle(card))

	oldPrice := htmlutil.SelectionText(card.Find(s.OldPrice).First())
	currentPrice := htmlutil.SelectionText(card.Find(s.CurrentPrice).First())
	// both prices or neither
	if oldPrice != "" && currentPrice != "" {
		b.set(FieldOldPrice, oldPrice)
		b.set(FieldCurrentPrice, currentPrice)
	}

	card.Find(s.SpecRow).Each(func(_ int, row *goquery.Selection) {
		key := row.Find(s.SpecKey).First()
		value := row.Find(s.SpecValue).First()
		if key.Length() == 0 || value.Length() == 0 {
			return
		}
		name := s.specName(htmlutil.SelectionText(key))
		if name == "" {
			return
		}
		setNonEmpty(name, htmlutil.SelectionText(value))
	})

	setNonEmpty(FieldImage, s.extractImage(card))

	return b.build()
}

func (s Selectors) extractID(card *goquery.Selection) string {
	el := card.Find(s.ID).First()
	if el.Length() == 0 {
		return ""
	}
	if s.IDAttr != "" {
		if v, ok := el.Attr(s.IDAttr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return htmlutil.SelectionText(el)
}

func (s Selectors) extractTitle(card *goquery.Selection) string {
	title, ok := card.Find(s.Title).First().Attr("title")
	if !ok {
		return ""
	}
	return stripBoilerplate(title)
}

// stripBoilerplate drops the first and last whitespace separated tokens,
// listings wrap the brand and model in a category prefix and a stock suffix.
func stripBoilerplate(title string) string {
	tokens := strings.Fields(title)
	if len(tokens) <= 2 {
		return ""
	}
	return strings.Join(tokens[1:len(tokens)-1], " ")
}

func (s Selectors) specName(raw string) string {
	name := strings.TrimSpace(raw)
	if s.SpecSeparator != "" {
		name = strings.TrimSuffix(name, s.SpecSeparator)
	}
	return strings.TrimSpace(name)
}

func (s Selectors) extractImage(card *goquery.Selection) string {
	img := card.Find(s.Image).First()
	if img.Length() == 0 {
		return ""
	}
	for _, attr := range []string{s.ImageAttr, "src"} {
		if attr == "" {
			continue
		}
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
