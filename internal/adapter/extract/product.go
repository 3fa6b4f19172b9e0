// Package extract turns cached shop pages into tea records.
//
// Product pages embed their data as a JavaScript literal
// `var product = {...};`. The extractor pulls that object out with a regular
// expression and reads the fields it needs from the JSON.
package extract

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"chai/internal/domain"
)

var (
	productJSONRe = regexp.MustCompile(`var product = (\{.+?\});`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Section markers inside the product "text" field.
const (
	markerComposition = "Состав:"
	markerTags        = "Также для поиска:"
	markerSeries      = "Серия"
)

// ErrNoProduct is returned for pages without any product data.
var ErrNoProduct = eris.New("extract: page has no product data")

// ErrDiscontinued is returned for removed samples that are still listed.
var ErrDiscontinued = eris.New("extract: discontinued sample")

// TeaID derives the stable record ID from a source URL.
func TeaID(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()
}

type productData struct {
	Title    string `json:"title"`
	Price    any    `json:"price"`
	Quantity any    `json:"quantity"`
	Text     string `json:"text"`
	Gallery  []struct {
		Img string `json:"img"`
	} `json:"gallery"`
	Editions []struct {
		Quantity any `json:"quantity"`
	} `json:"editions"`
	Characteristics []struct {
		Title string `json:"title"`
		Value string `json:"value"`
	} `json:"characteristics"`
}

// ProductExtractor implements port.Extractor for the shop's product pages.
type ProductExtractor struct{}

func NewProductExtractor() *ProductExtractor {
	return &ProductExtractor{}
}

// Extract parses a page. The result has ID, URL and catalog fields set;
// Embedding and SourceHash are left to the caller.
func (e *ProductExtractor) Extract(page domain.CachedPage) (domain.TeaRecord, error) {
	url := page.SourceID
	rec := domain.TeaRecord{
		ID:  TeaID(url),
		URL: url,
	}

	if m := productJSONRe.FindStringSubmatch(page.RawHTML); m != nil {
		var data productData
		if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
			return rec, eris.Wrapf(err, "extract: decode product json for %s", url)
		}
		apply(&rec, &data)
	}

	rec.IsSample = IsSampleURL(url)
	rec.IsSet = IsSet(url, rec.Name)

	if rec.Name == "" && len(rec.Images) == 0 {
		return rec, eris.Wrapf(ErrNoProduct, "extract: %s", url)
	}

	// Removed samples keep their page with an " r" suffix, no price and no stock
	if rec.IsSample {
		lower := strings.ToLower(rec.Name)
		hasSuffix := strings.HasSuffix(lower, " r") || strings.Contains(lower, ` r"`)
		if hasSuffix && rec.Price == "" && !rec.InStock {
			return rec, eris.Wrapf(ErrDiscontinued, "extract: %s", rec.Name)
		}
	}
	return rec, nil
}

func apply(rec *domain.TeaRecord, data *productData) {
	rec.Name = strings.TrimSpace(data.Title)
	rec.Price = scalarString(data.Price)

	for _, g := range data.Gallery {
		if g.Img != "" {
			rec.Images = append(rec.Images, g.Img)
		}
	}

	for _, ed := range data.Editions {
		if quantity(ed.Quantity) > 0 {
			rec.InStock = true
			break
		}
	}
	if !rec.InStock {
		rec.InStock = quantity(data.Quantity) > 0
	}

	if text := data.Text; text != "" {
		if i := strings.Index(text, markerComposition); i >= 0 {
			rec.Description = stripHTML(text[:i])
		} else {
			rec.Description = stripHTML(text)
		}
		if comp, ok := between(text, markerComposition, "<br"); ok {
			rec.Composition = splitList(comp)
		}
		if tags, ok := between(text, markerTags, "<br"); ok {
			rec.Tags = splitList(tags)
		}
	}

	for _, c := range data.Characteristics {
		if c.Title == markerSeries {
			rec.Series = strings.TrimSpace(c.Value)
		}
	}
}

// scalarString renders a JSON string or number field; the shop uses both.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func quantity(v any) int {
	n, err := strconv.Atoi(scalarString(v))
	if err != nil {
		return 0
	}
	return n
}

func stripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(html.UnescapeString(s), "\u00a0", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func cleanHTML(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// between returns the cleaned text after start and before the next end marker.
func between(text, start, end string) (string, bool) {
	i := strings.Index(text, start)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return cleanHTML(strings.TrimSpace(rest[:j])), true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsSampleURL reports whether a product URL is a sample ("probnik") listing.
func IsSampleURL(url string) bool {
	return strings.Contains(url, "probnik") || strings.Contains(url, "/probe/")
}

// IsSet reports whether a product is a set of samples.
func IsSet(url, name string) bool {
	if strings.Contains(url, "nabor") || strings.Contains(url, "набор") {
		return true
	}
	lower := strings.ToLower(name)
	return strings.Contains(lower, "набор") || strings.Contains(lower, "nabor")
}
