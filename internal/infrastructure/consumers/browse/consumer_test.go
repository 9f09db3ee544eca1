package browse_test

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/browse"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func titles(entries []browse.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Title)
	}
	return out
}

func TestTitleIndex(t *testing.T) {
	t.Run("should sort with locale collation", func(t *testing.T) {
		// arrange
		x := browse.NewTitleIndex(language.English)

		// act
		x.Put("1", event.Item, "zebra")
		x.Put("2", event.Item, "Éclair")
		x.Put("3", event.Item, "apple")
		x.Put("4", event.Item, "Item 10")
		x.Put("5", event.Item, "Item 9")

		// assert
		assert.Equal(t, []string{"apple", "Éclair", "Item 9", "Item 10", "zebra"}, titles(x.Page("", 0)))
	})

	t.Run("should replace and remove entries", func(t *testing.T) {
		x := browse.NewTitleIndex(language.English)
		x.Put("1", event.Item, "b")
		x.Put("2", event.Item, "c")

		x.Put("2", event.Item, "a")
		x.Remove("1")

		assert.Equal(t, []string{"a"}, titles(x.Page("", 0)))
		assert.Equal(t, 1, x.Len())
	})

	t.Run("should page from a title", func(t *testing.T) {
		x := browse.NewTitleIndex(language.English)
		for i, title := range []string{"alpha", "beta", "gamma", "delta"} {
			x.Put(string(rune('a'+i)), event.Item, title)
		}

		assert.Equal(t, []string{"delta", "gamma"}, titles(x.Page("c", 0)))
		assert.Equal(t, []string{"beta"}, titles(x.Page("B", 1)))
		assert.Empty(t, x.Page("z", 0))
	})
}

func TestConsumer(t *testing.T) {
	ctx := context.Background()
	scope := dispatch.Scope{UnitOfWorkID: "u1"}

	t.Run("should list items after End only", func(t *testing.T) {
		// arrange
		repo := memory.NewContentRepository()
		obj, err := content.New("i1", event.Item, "Second Title", "")
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, obj))
		c, err := browse.New(browse.Config{}, repo, nil)
		require.NoError(t, err)
		require.NoError(t, c.Initialize(ctx))

		// act
		require.NoError(t, c.Consume(ctx, scope, event.MustNew(event.Create, event.Item, "i1")))
		require.NoError(t, c.Consume(ctx, scope, event.MustNew(event.Create, event.Collection, "col")))
		before := c.Index().Len()
		require.NoError(t, c.End(ctx, scope))

		// assert
		assert.Zero(t, before)
		assert.Equal(t, []string{"Second Title"}, titles(c.Index().Page("", 0)))
	})

	t.Run("should remove deleted items", func(t *testing.T) {
		repo := memory.NewContentRepository()
		c, err := browse.New(browse.Config{Types: []string{"item", "collection"}}, repo, nil)
		require.NoError(t, err)
		c.Index().Put("i1", event.Item, "gone")

		require.NoError(t, c.Consume(ctx, scope, event.MustNew(event.Delete, event.Item, "i1")))
		require.NoError(t, c.End(ctx, scope))

		assert.Zero(t, c.Index().Len())
	})

	t.Run("should reject an unknown locale or type", func(t *testing.T) {
		_, err := browse.New(browse.Config{Locale: "not a tag!"}, nil, nil)
		assert.Error(t, err)

		_, err = browse.New(browse.Config{Types: []string{"widget"}}, nil, nil)
		assert.ErrorIs(t, err, event.ErrUnknownName)
	})
}
