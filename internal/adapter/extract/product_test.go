package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chai/internal/domain"
	"chai/internal/port"
)

var _ port.Extractor = (*ProductExtractor)(nil)

const puerPage = `<html><head><title>Shop</title></head><body>
<script>var product = {"title":" Шу Пуэр Медовый ","price":"1200","quantity":"0","editions":[{"quantity":"0"},{"quantity":"5"}],"gallery":[{"img":"a.jpg"},{"img":""},{"img":"b.jpg"}],"text":"Мягкий &amp; сладкий чай.<br>Состав: пуэр, мёд,  травы<br>Также для поиска: земляной, тёплый<br>","characteristics":[{"title":"Вес","value":"100 г"},{"title":"Серия","value":" Пуэры "}]};</script>
</body></html>`

func page(url, html string) domain.CachedPage {
	return domain.CachedPage{SourceID: url, RawHTML: html, ContentHash: domain.HashContent(html)}
}

func TestExtract_ProductFields(t *testing.T) {
	url := "https://beliyles.com/tproduct/123-shu-puer"
	rec, err := NewProductExtractor().Extract(page(url, puerPage))
	require.NoError(t, err)

	assert.Equal(t, TeaID(url), rec.ID)
	assert.Equal(t, url, rec.URL)
	assert.Equal(t, "Шу Пуэр Медовый", rec.Name)
	assert.Equal(t, "1200", rec.Price)
	assert.True(t, rec.InStock)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, rec.Images)
	assert.Equal(t, "Мягкий & сладкий чай.", rec.Description)
	assert.Equal(t, []string{"пуэр", "мёд", "травы"}, rec.Composition)
	assert.Equal(t, []string{"земляной", "тёплый"}, rec.Tags)
	assert.Equal(t, "Пуэры", rec.Series)
	assert.False(t, rec.IsSample)
	assert.False(t, rec.IsSet)
	assert.Empty(t, rec.SourceHash)
	assert.Nil(t, rec.Embedding)
}

func TestExtract_NumericFieldsAndTopLevelQuantity(t *testing.T) {
	html := `<script>var product = {"title":"Габа","price":950,"quantity":3,"text":"Просто чай"};</script>`
	rec, err := NewProductExtractor().Extract(page("https://beliyles.com/tproduct/9-gaba", html))
	require.NoError(t, err)
	assert.Equal(t, "950", rec.Price)
	assert.True(t, rec.InStock)
	assert.Equal(t, "Просто чай", rec.Description)
	assert.Empty(t, rec.Composition)
	assert.Empty(t, rec.Tags)
}

func TestExtract_OutOfStock(t *testing.T) {
	html := `<script>var product = {"title":"Улун","editions":[{"quantity":"0"}]};</script>`
	rec, err := NewProductExtractor().Extract(page("https://beliyles.com/tproduct/1-ulun", html))
	require.NoError(t, err)
	assert.False(t, rec.InStock)
}

func TestExtract_SampleAndSetFlags(t *testing.T) {
	html := `<script>var product = {"title":"Пробник улуна","price":"100","quantity":"2"};</script>`
	rec, err := NewProductExtractor().Extract(page("https://beliyles.com/tproduct/5-probnik-ulun", html))
	require.NoError(t, err)
	assert.True(t, rec.IsSample)
	assert.False(t, rec.IsSet)

	html = `<script>var product = {"title":"Набор пробников","price":"900"};</script>`
	rec, err = NewProductExtractor().Extract(page("https://beliyles.com/tproduct/6-probnik-set", html))
	require.NoError(t, err)
	assert.True(t, rec.IsSample)
	assert.True(t, rec.IsSet)
}

func TestExtract_NoProduct(t *testing.T) {
	_, err := NewProductExtractor().Extract(page("https://beliyles.com/tproduct/7-empty", "<html>nothing here</html>"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoProduct))
}

func TestExtract_MalformedJSON(t *testing.T) {
	html := `<script>var product = {"title": broken};</script>`
	_, err := NewProductExtractor().Extract(page("https://beliyles.com/tproduct/8-bad", html))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoProduct))
}

func TestExtract_DiscontinuedSample(t *testing.T) {
	html := `<script>var product = {"title":"Пробник Да Хун Пао r","quantity":"0"};</script>`
	_, err := NewProductExtractor().Extract(page("https://beliyles.com/tproduct/10-probnik-dhp", html))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiscontinued))

	// Same title with a price is still listed.
	html = `<script>var product = {"title":"Пробник Да Хун Пао r","price":"150","quantity":"0"};</script>`
	_, err = NewProductExtractor().Extract(page("https://beliyles.com/tproduct/10-probnik-dhp", html))
	assert.NoError(t, err)
}

func TestTeaID_Stable(t *testing.T) {
	a := TeaID("https://beliyles.com/tproduct/1-a")
	assert.Equal(t, a, TeaID("https://beliyles.com/tproduct/1-a"))
	assert.NotEqual(t, a, TeaID("https://beliyles.com/tproduct/2-b"))
	assert.Len(t, a, 36)
}

func TestLinkSamples(t *testing.T) {
	main1 := domain.TeaRecord{ID: "m1", URL: "u/m1", Name: "Да Хун Пао"}
	main2 := domain.TeaRecord{ID: "m2", URL: "u/m2", Name: "Те Гуань Инь"}
	main3 := domain.TeaRecord{ID: "m3", URL: "u/m3", Name: "Шу Пуэр Медовый"}
	exact := domain.TeaRecord{ID: "s1", URL: "u/probnik-dhp", Name: "Copy: Пробник Да Хун Пао", IsSample: true}
	prefix := domain.TeaRecord{ID: "s3", URL: "u/probnik-shu", Name: "пробник Шу Пуэр Медовы", IsSample: true}
	short := domain.TeaRecord{ID: "s2", URL: "u/probnik-te", Name: "Пробник Те", IsSample: true}
	set := domain.TeaRecord{ID: "s4", URL: "u/probnik-nabor", Name: "Пробник Да Хун Пао", IsSample: true, IsSet: true}

	links := LinkSamples([]domain.TeaRecord{main1, main2, main3, exact, prefix, short, set})
	assert.Equal(t, map[string]string{
		"m1": "u/probnik-dhp",
		"m3": "u/probnik-shu",
	}, links)
}

func TestNormalizeSampleName(t *testing.T) {
	assert.Equal(t, "да хун пао", normalizeSampleName("  Copy: Пробник Да Хун Пао "))
	assert.Equal(t, "улун", normalizeSampleName("copy: copy: улун"))
}
