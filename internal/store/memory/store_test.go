package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcrawl/internal/crawler"
)

func record(url, content, contentType string) crawler.Record {
	return crawler.Record{
		URL:         url,
		FinalURL:    url,
		StatusCode:  200,
		ContentType: contentType,
		Document: crawler.Document{
			URL:     url,
			Type:    crawler.JobTypeDetail,
			Content: content,
		},
	}
}

func TestSaveAssignsStableID(t *testing.T) {
	store := New(nil)

	id, err := store.Save(context.Background(), record("https://example.com/law/1", "full text of law one", "article"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/law/1", got.URL)

	got, ok = store.GetByURL("https://example.com/law/1")
	require.True(t, ok)
	assert.Equal(t, crawler.JobTypeDetail, got.Document.Type)
}

func TestSaveDeduplicatesByContent(t *testing.T) {
	store := New(nil)

	first, err := store.Save(context.Background(), record("https://example.com/law/1", "same body", "article"))
	require.NoError(t, err)

	// Same content under a different URL collapses onto the first id.
	second, err := store.Save(context.Background(), record("https://example.com/law/1?utm=x", "Same   BODY", "article"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, store.Len())
	stats := store.Stats()
	assert.Equal(t, 1, stats.TotalStored)
	assert.Equal(t, 1, stats.DuplicatesSkipped)
}

func TestSaveEmptyContentHashesURL(t *testing.T) {
	store := New(nil)

	a, err := store.Save(context.Background(), record("https://example.com/a", "", ""))
	require.NoError(t, err)
	b, err := store.Save(context.Background(), record("https://example.com/b", "", ""))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "empty pages on distinct URLs stay distinct")
}

func TestStatsByContentType(t *testing.T) {
	store := New(nil)

	_, _ = store.Save(context.Background(), record("https://example.com/1", "one", "article"))
	_, _ = store.Save(context.Background(), record("https://example.com/2", "two", "article"))
	_, _ = store.Save(context.Background(), record("https://example.com/3", "three", "question"))

	stats := store.Stats()
	assert.Equal(t, 2, stats.ByContentType["article"])
	assert.Equal(t, 1, stats.ByContentType["question"])
	assert.False(t, stats.LastStoreTime.IsZero())
}

func TestConcurrentSaves(t *testing.T) {
	store := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				url := "https://example.com/p" + string(rune('a'+n)) + "/" + string(rune('a'+j%26))
				_, err := store.Save(context.Background(), record(url, url, "other"))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, store.Stats().TotalStored+store.Stats().DuplicatesSkipped, 400)
}
