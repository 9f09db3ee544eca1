package memory_test

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustObject(t *testing.T, id string, typ event.SubjectType, parent, handle string) *content.Object {
	t.Helper()
	obj, err := content.New(id, typ, id, handle)
	require.NoError(t, err)
	obj.ParentID = parent
	return obj
}

func TestContentRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("should index children in insertion order", func(t *testing.T) {
		// arrange
		repo := memory.NewContentRepository()
		require.NoError(t, repo.Insert(ctx, mustObject(t, "col", event.Collection, "", "")))
		require.NoError(t, repo.Insert(ctx, mustObject(t, "i2", event.Item, "col", "")))
		require.NoError(t, repo.Insert(ctx, mustObject(t, "i1", event.Item, "col", "")))

		// act
		children, err := repo.Children(ctx, "col")

		// assert
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "i2", children[0].ID)
		assert.Equal(t, "i1", children[1].ID)
	})

	t.Run("should refuse duplicates and unknown parents", func(t *testing.T) {
		repo := memory.NewContentRepository()
		require.NoError(t, repo.Insert(ctx, mustObject(t, "c1", event.Community, "", "123/1")))

		assert.ErrorIs(t, repo.Insert(ctx, mustObject(t, "c1", event.Community, "", "")), content.ErrConflict)
		assert.ErrorIs(t, repo.Insert(ctx, mustObject(t, "c2", event.Community, "", "123/1")), content.ErrConflict)
		assert.ErrorIs(t, repo.Insert(ctx, mustObject(t, "c3", event.Community, "missing", "")), content.ErrNotFound)
	})

	t.Run("should hand out copies", func(t *testing.T) {
		// arrange
		repo := memory.NewContentRepository()
		require.NoError(t, repo.Insert(ctx, mustObject(t, "i1", event.Community, "", "")))
		got, err := repo.Get(ctx, "i1")
		require.NoError(t, err)

		// act
		got.Name = "changed"

		// assert
		again, err := repo.Get(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, "i1", again.Name)
	})

	t.Run("should keep parent and handle on update", func(t *testing.T) {
		repo := memory.NewContentRepository()
		require.NoError(t, repo.Insert(ctx, mustObject(t, "c1", event.Community, "", "123/1")))
		obj, err := repo.Get(ctx, "c1")
		require.NoError(t, err)
		obj.Handle = "other"
		obj.Name = "Renamed"

		require.NoError(t, repo.Update(ctx, obj))

		got, err := repo.GetByHandle(ctx, "123/1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.ErrorIs(t, repo.Update(ctx, mustObject(t, "nope", event.Community, "", "")), content.ErrNotFound)
	})

	t.Run("should only delete leaves", func(t *testing.T) {
		// arrange
		repo := memory.NewContentRepository()
		require.NoError(t, repo.Insert(ctx, mustObject(t, "col", event.Collection, "", "")))
		require.NoError(t, repo.Insert(ctx, mustObject(t, "i1", event.Item, "col", "")))

		// act
		parentErr := repo.Delete(ctx, "col")
		leafErr := repo.Delete(ctx, "i1")

		// assert
		assert.ErrorIs(t, parentErr, content.ErrConflict)
		require.NoError(t, leafErr)
		children, err := repo.Children(ctx, "col")
		require.NoError(t, err)
		assert.Empty(t, children)
		_, err = repo.Get(ctx, "i1")
		assert.ErrorIs(t, err, content.ErrNotFound)
	})
}
