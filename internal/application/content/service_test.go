package content_test

import (
	"context"
	"fmt"
	"testing"

	appcontent "github.com/Zhima-Mochi/repoevents/internal/application/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sequence struct{ n int }

func (s *sequence) NewID() string {
	s.n++
	return fmt.Sprintf("o%d", s.n)
}

type recorder struct{ events []event.Event }

func (r *recorder) Record(e event.Event) error {
	r.events = append(r.events, e)
	return nil
}

// summary renders recorded events as SUBJECT/TYPE:id[>object] for compact asserts.
func (r *recorder) summary() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		s := fmt.Sprintf("%s/%s:%s", e.SubjectType, e.Type, e.SubjectID)
		if e.ObjectID != "" {
			s += ">" + e.ObjectID
		}
		out = append(out, s)
	}
	return out
}

func newService() (*appcontent.Service, *memory.ContentRepository) {
	repo := memory.NewContentRepository()
	return appcontent.NewService(repo, &sequence{}, nil), repo
}

// tree builds community o1 > collection o2 > item o3 > bundle o4 > bitstream o5.
func tree(t *testing.T, svc *appcontent.Service) {
	t.Helper()
	ctx := context.Background()
	rec := &recorder{}
	parent := ""
	for _, typ := range []event.SubjectType{event.Community, event.Collection, event.Item, event.Bundle, event.Bitstream} {
		obj, err := svc.Create(ctx, rec, appcontent.CreateInput{Type: typ, Name: typ.String(), ParentID: parent})
		require.NoError(t, err)
		parent = obj.ID
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("should record CREATE then ADD on the parent", func(t *testing.T) {
		// arrange
		svc, _ := newService()
		rec := &recorder{}
		col, err := svc.Create(ctx, rec, appcontent.CreateInput{Type: event.Community, Name: "Library"})
		require.NoError(t, err)

		// act
		sub, err := svc.Create(ctx, rec, appcontent.CreateInput{
			Type:     event.Collection,
			Name:     "Theses",
			ParentID: col.ID,
			Metadata: map[string][]string{content.TitleField: {"Theses"}},
		})

		// assert
		require.NoError(t, err)
		assert.Equal(t, col.ID, sub.ParentID)
		assert.Equal(t, "Theses", sub.Title())
		assert.Equal(t, []string{
			"COMMUNITY/CREATE:o1",
			"COLLECTION/CREATE:o2",
			"COMMUNITY/ADD:o1>o2",
		}, rec.summary())
	})

	t.Run("should refuse an invalid parent and record nothing", func(t *testing.T) {
		// arrange
		svc, _ := newService()
		rec := &recorder{}
		com, err := svc.Create(ctx, rec, appcontent.CreateInput{Type: event.Community, Name: "Library"})
		require.NoError(t, err)
		rec.events = nil

		// act
		_, err = svc.Create(ctx, rec, appcontent.CreateInput{Type: event.Item, Name: "x", ParentID: com.ID})

		// assert
		assert.ErrorIs(t, err, content.ErrInvalidParent)
		assert.Empty(t, rec.events)
	})

	invalid := []struct {
		name string
		in   appcontent.CreateInput
		want error
	}{
		{"missing name", appcontent.CreateInput{Type: event.Community}, appcontent.ErrValidation},
		{"unknown type", appcontent.CreateInput{Name: "x"}, appcontent.ErrValidation},
		{"unknown parent", appcontent.CreateInput{Type: event.Collection, Name: "x", ParentID: "missing"}, content.ErrNotFound},
		{"item at the root", appcontent.CreateInput{Type: event.Item, Name: "x"}, content.ErrInvalidParent},
	}
	for _, tc := range invalid {
		t.Run("should fail on "+tc.name, func(t *testing.T) {
			svc, _ := newService()
			rec := &recorder{}

			_, err := svc.Create(ctx, rec, tc.in)

			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, rec.events)
		})
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("should record MODIFY_METADATA with the field as detail", func(t *testing.T) {
		// arrange
		svc, repo := newService()
		tree(t, svc)
		rec := &recorder{}

		// act
		_, err := svc.UpdateMetadata(ctx, rec, "o3", "dc.title", []string{"On Events"})

		// assert
		require.NoError(t, err)
		require.Len(t, rec.events, 1)
		assert.Equal(t, event.ModifyMetadata, rec.events[0].Type)
		assert.Equal(t, event.Item, rec.events[0].SubjectType)
		assert.Equal(t, "dc.title", rec.events[0].Detail)
		stored, err := repo.Get(ctx, "o3")
		require.NoError(t, err)
		assert.Equal(t, "On Events", stored.Title())
	})

	t.Run("should record MODIFY on rename only when the name changes", func(t *testing.T) {
		svc, _ := newService()
		tree(t, svc)
		rec := &recorder{}

		_, err := svc.Rename(ctx, rec, "o2", "Dissertations")
		require.NoError(t, err)
		_, err = svc.Rename(ctx, rec, "o2", "Dissertations")
		require.NoError(t, err)

		assert.Equal(t, []string{"COLLECTION/MODIFY:o2"}, rec.summary())
	})

	t.Run("should report unknown objects", func(t *testing.T) {
		svc, _ := newService()
		rec := &recorder{}

		_, err := svc.UpdateMetadata(ctx, rec, "nope", "dc.title", nil)

		assert.ErrorIs(t, err, content.ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("should delete the subtree depth first", func(t *testing.T) {
		// arrange
		svc, repo := newService()
		tree(t, svc)
		rec := &recorder{}

		// act
		removed, err := svc.Delete(ctx, rec, "o2")

		// assert
		require.NoError(t, err)
		assert.Equal(t, 4, removed)
		assert.Equal(t, []string{
			"BUNDLE/REMOVE:o4>o5",
			"BITSTREAM/DELETE:o5",
			"ITEM/REMOVE:o3>o4",
			"BUNDLE/DELETE:o4",
			"COLLECTION/REMOVE:o2>o3",
			"ITEM/DELETE:o3",
			"COMMUNITY/REMOVE:o1>o2",
			"COLLECTION/DELETE:o2",
		}, rec.summary())
		children, err := repo.Children(ctx, "o1")
		require.NoError(t, err)
		assert.Empty(t, children)
	})

	t.Run("should delete a root object without REMOVE", func(t *testing.T) {
		svc, _ := newService()
		rec := &recorder{}
		ep, err := svc.Create(ctx, rec, appcontent.CreateInput{Type: event.EPerson, Name: "alice"})
		require.NoError(t, err)
		rec.events = nil

		_, err = svc.Delete(ctx, rec, ep.ID)

		require.NoError(t, err)
		assert.Equal(t, []string{"EPERSON/DELETE:" + ep.ID}, rec.summary())
	})
}
