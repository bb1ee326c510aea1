package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

type cardFixture struct {
	id           string
	title        string
	oldPrice     string
	currentPrice string
	specs        [][2]string
	image        string
}

func completeCard(id string) cardFixture {
	return cardFixture{
		id:           id,
		title:        fmt.Sprintf("Laptop Lenovo IdeaPad %s Available", id),
		oldPrice:     "450 000 ₸",
		currentPrice: "399 990 ₸",
		specs: [][2]string{
			{"Processor:", "Intel Core i5-1235U"},
			{"RAM:", "16 GB"},
		},
		image: fmt.Sprintf("/upload/%s.jpg", id),
	}
}

func renderCard(c cardFixture) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="bx_catalog_item" data-id="%s">`, c.id)
	if c.image != "" {
		fmt.Fprintf(&b, `<div class="item_image_container"><img data-src="%s" src="/blank.gif"></div>`, c.image)
	}
	if c.id != "" {
		fmt.Fprintf(&b, `<div class="bx_catalog_item_scu_code" text="%s">Code: %s</div>`, c.id, c.id)
	}
	if c.title != "" {
		fmt.Fprintf(&b, `<div class="bx_catalog_item_title"><a href="/item/%s" title="%s">%s</a></div>`, c.id, c.title, c.title)
	}
	if c.oldPrice != "" || c.currentPrice != "" {
		b.WriteString(`<div class="bx_catalog_item_price">`)
		if c.oldPrice != "" {
			fmt.Fprintf(&b, `<span class="old_price">%s</span>`, c.oldPrice)
		}
		if c.currentPrice != "" {
			fmt.Fprintf(&b, `<span class="current_price">%s</span>`, c.currentPrice)
		}
		b.WriteString(`</div>`)
	}
	if len(c.specs) > 0 {
		b.WriteString(`<div class="bx_catalog_item_spec">`)
		for _, spec := range c.specs {
			fmt.Fprintf(
				&b,
				`<div><span class="bx_catalog_item_prop"> %s </span><span class="bx_catalog_item_value"> %s </span></div>`,
				spec[0], spec[1],
			)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// renderListing renders a listing page, an empty next omits the pagination
// control entirely.
func renderListing(title string, next string, cards ...cardFixture) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><head><title>%s</title></head><body><div class="catalog">`, title)
	for _, c := range cards {
		b.WriteString(renderCard(c))
	}
	b.WriteString(`</div><ul class="bx-pagination">`)
	b.WriteString(`<li class="bx-pag-prev"><a href="/prev">Back</a></li>`)
	if next != "" {
		fmt.Fprintf(&b, `<li class="bx-pag-next"><a href="%s">Next</a></li>`, next)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func challengePage() string {
	return `<html><head><title>Robot Check</title></head><body><form>captcha</form></body></html>`
}

func parseHTML(t testing.TB, markup string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func firstCard(t testing.TB, markup string) *goquery.Selection {
	card := parseHTML(t, markup).Find("[data-id]").First()
	if card.Length() == 0 {
		t.Fatal("fixture has no card")
	}
	return card
}

// fakeDocumentFetcher serves parsed fixtures by url.
type fakeDocumentFetcher struct {
	mutex  sync.Mutex
	pages  map[string]string
	errs   map[string]error
	called []string
}

func (f *fakeDocumentFetcher) FetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	f.mutex.Lock()
	f.called = append(f.called, url)
	f.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	markup, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: no fixture for %s", ErrFetchExhausted, url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(markup))
}

func recordMaps(records []ProductRecord) []map[string]string {
	out := make([]map[string]string, len(records))
	for i, r := range records {
		out[i] = r.Map()
	}
	return out
}
