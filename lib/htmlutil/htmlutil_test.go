package htmlutil

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, markup string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

func TestNormalizeText(t *testing.T) {
	require.Equal(t, "Intel Core i5", NormalizeText("  Intel \n\t Core   i5 \u0007"))
	require.Equal(t, "", NormalizeText(" \n "))
}

func TestSelectionText(t *testing.T) {
	doc := parse(t, `<div><p> RAM: <b>16</b>  GB </p></div>`)
	require.Equal(t, "RAM: 16 GB", SelectionText(doc.Find("p")))
	require.Equal(t, "", SelectionText(doc.Find("span")))
}

func TestTitle(t *testing.T) {
	require.Equal(t, "Robot Check", Title(parse(t, `<html><head><title>
		Robot Check
	</title></head></html>`)))
	// inner whitespace is kept
	require.Equal(t, "Robot   Check", Title(parse(t, `<html><head><title>Robot   Check</title></head></html>`)))
	require.Equal(t, "", Title(parse(t, `<html><body>no title</body></html>`)))
}

func TestDocumentBase(t *testing.T) {
	page, err := url.Parse("https://shop.example/offers/noutbuki/")
	require.NoError(t, err)

	base := DocumentBase(parse(t, `<html><head></head></html>`), page)
	require.Equal(t, page.String(), base.String())

	base = DocumentBase(parse(t, `<html><head><base href="/mirror/"></head></html>`), page)
	require.Equal(t, "https://shop.example/mirror/", base.String())
}

func TestResolveHref(t *testing.T) {
	base, err := url.Parse("https://shop.example/offers/noutbuki/")
	require.NoError(t, err)

	resolved, err := ResolveHref(base, " ?PAGEN_1=2 ")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/offers/noutbuki/?PAGEN_1=2", resolved.String())

	resolved, err = ResolveHref(base, "../monitory/")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/offers/monitory/", resolved.String())

	_, err = ResolveHref(base, "http://[::1")
	require.Error(t, err)
}
