package httppresentation_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	appcontent "github.com/Zhima-Mochi/repoevents/internal/application/content"
	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/browse"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/search"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/unitofwork"
	httppresentation "github.com/Zhima-Mochi/repoevents/internal/presentation/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sequence struct {
	mu sync.Mutex
	n  int
}

func (s *sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "o" + strconv.Itoa(s.n)
}

// flaky fails every End call.
type flaky struct{ ends int }

func (f *flaky) Initialize(context.Context) error                           { return nil }
func (f *flaky) Consume(context.Context, dispatch.Scope, event.Event) error { return nil }
func (f *flaky) Finish(context.Context) error                               { return nil }
func (f *flaky) End(context.Context, dispatch.Scope) error {
	f.ends++
	return errors.New("downstream unavailable")
}

type fixture struct {
	server *httptest.Server
	search *search.Consumer
	browse *browse.Consumer
}

func newFixture(t *testing.T, extra ...*dispatch.Profile) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewContentRepository()

	d := dispatch.New("default")
	sc := search.New(search.Config{}, repo, nil)
	bc, err := browse.New(browse.Config{}, repo, nil)
	require.NoError(t, err)

	sp, err := dispatch.NewProfile("search", sc, event.Filters{event.AcceptAll})
	require.NoError(t, err)
	bp, err := dispatch.NewProfile("browse", bc, event.Filters{event.AcceptAll})
	require.NoError(t, err)
	for _, p := range append([]*dispatch.Profile{sp, bp}, extra...) {
		require.NoError(t, d.AddConsumerProfile(ctx, p))
	}

	svc := appcontent.NewService(repo, &sequence{}, nil)
	h := httppresentation.NewHandler(svc, unitofwork.NewManager(d), d, nil,
		httppresentation.WithSearch(sc.Index()),
		httppresentation.WithBrowse(bc.Index()),
	)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &fixture{server: srv, search: sc, browse: bc}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Actor", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if len(raw) > 0 && raw[0] == '{' {
			require.NoError(t, json.Unmarshal(raw, &out))
		} else {
			out = map[string]any{"items": raw}
		}
	}
	return resp, out
}

func TestHandler(t *testing.T) {
	t.Run("should create a tree and index it", func(t *testing.T) {
		// arrange
		f := newFixture(t)

		// act
		resp, community := f.do(t, http.MethodPost, "/objects", `{"type":"community","name":"Physics"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp, collection := f.do(t, http.MethodPost, "/objects",
			`{"type":"collection","name":"Theses","parent_id":"`+community["id"].(string)+`"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp, item := f.do(t, http.MethodPost, "/objects",
			`{"type":"item","name":"draft","parent_id":"`+collection["id"].(string)+`","metadata":{"dc.title":["Quantum Gravity"]}}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		// assert
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		assert.Equal(t, "ITEM", item["type"])
		hits := f.search.Index().Query("quantum", 10)
		require.Len(t, hits, 1)
		assert.Equal(t, item["id"], hits[0].ID)
		assert.Equal(t, 1, f.browse.Index().Len())

		resp, got := f.do(t, http.MethodGet, "/objects/"+collection["id"].(string), "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []any{item["id"]}, got["children"])
	})

	t.Run("should reflect renames and metadata changes", func(t *testing.T) {
		// arrange
		f := newFixture(t)
		_, community := f.do(t, http.MethodPost, "/objects", `{"type":"community","name":"Old name"}`)
		id := community["id"].(string)

		// act
		resp, renamed := f.do(t, http.MethodPut, "/objects/"+id+"/name", `{"name":"Astronomy"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp, _ = f.do(t, http.MethodPut, "/objects/"+id+"/metadata", `{"field":"dc.subject","values":["stars"]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// assert
		assert.Equal(t, "Astronomy", renamed["name"])
		assert.Empty(t, f.search.Index().Query("old", 10))
		assert.Len(t, f.search.Index().Query("astronomy stars", 10), 1)
	})

	t.Run("should delete recursively and drop from the index", func(t *testing.T) {
		// arrange
		f := newFixture(t)
		_, community := f.do(t, http.MethodPost, "/objects", `{"type":"community","name":"Biology"}`)
		_, _ = f.do(t, http.MethodPost, "/objects",
			`{"type":"collection","name":"Papers","parent_id":"`+community["id"].(string)+`"}`)
		require.Equal(t, 2, f.search.Index().Len())

		// act
		resp, body := f.do(t, http.MethodDelete, "/objects/"+community["id"].(string), "")

		// assert
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(2), body["removed"])
		assert.Equal(t, 0, f.search.Index().Len())
		resp, _ = f.do(t, http.MethodGet, "/objects/"+community["id"].(string), "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("should map domain errors to status codes", func(t *testing.T) {
		// arrange
		f := newFixture(t)
		_, community := f.do(t, http.MethodPost, "/objects", `{"type":"community","name":"Top"}`)

		tests := []struct {
			name, method, path, body string
			want                     int
		}{
			{"unknown type", http.MethodPost, "/objects", `{"type":"widget","name":"x"}`, http.StatusBadRequest},
			{"unknown field", http.MethodPost, "/objects", `{"kind":"item"}`, http.StatusBadRequest},
			{"missing name", http.MethodPost, "/objects", `{"type":"community"}`, http.StatusBadRequest},
			{"missing parent", http.MethodPost, "/objects", `{"type":"item","name":"x","parent_id":"nope"}`, http.StatusNotFound},
			{"wrong parent", http.MethodPost, "/objects",
				`{"type":"item","name":"x","parent_id":"` + community["id"].(string) + `"}`, http.StatusUnprocessableEntity},
			{"rename missing", http.MethodPut, "/objects/nope/name", `{"name":"x"}`, http.StatusNotFound},
			{"search without query", http.MethodGet, "/search", "", http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// act
				resp, body := f.do(t, tt.method, tt.path, tt.body)

				// assert
				assert.Equal(t, tt.want, resp.StatusCode)
				assert.NotEmpty(t, body["error"])
			})
		}
	})

	t.Run("should succeed when a non-fatal consumer fails", func(t *testing.T) {
		// arrange
		bad := &flaky{}
		p, err := dispatch.NewProfile("flaky", bad, event.Filters{event.AcceptAll})
		require.NoError(t, err)
		f := newFixture(t, p)

		// act
		resp, _ := f.do(t, http.MethodPost, "/objects", `{"type":"community","name":"Chemistry"}`)

		// assert
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, 1, bad.ends)
		assert.Len(t, f.search.Index().Query("chemistry", 10), 1)
	})

	t.Run("should fail when a fatal consumer fails", func(t *testing.T) {
		// arrange
		p, err := dispatch.NewProfile("flaky", &flaky{}, event.Filters{event.AcceptAll}, dispatch.WithFatalOnError(true))
		require.NoError(t, err)
		f := newFixture(t, p)

		// act
		resp, body := f.do(t, http.MethodPost, "/objects", `{"type":"community","name":"Chemistry"}`)

		// assert
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Contains(t, body["error"], "flaky")
	})

	t.Run("should list consumers and serve browse pages", func(t *testing.T) {
		// arrange
		f := newFixture(t)
		_, community := f.do(t, http.MethodPost, "/objects", `{"type":"community","name":"Arts"}`)
		_, collection := f.do(t, http.MethodPost, "/objects",
			`{"type":"collection","name":"Paintings","parent_id":"`+community["id"].(string)+`"}`)
		for _, name := range []string{"Zebra", "apple", "Mango"} {
			_, _ = f.do(t, http.MethodPost, "/objects",
				`{"type":"item","name":"`+name+`","parent_id":"`+collection["id"].(string)+`"}`)
		}

		// act
		resp, consumers := f.do(t, http.MethodGet, "/consumers", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp, page := f.do(t, http.MethodGet, "/browse/titles?limit=2", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// assert
		assert.Equal(t, "default", consumers["dispatcher"])
		assert.Len(t, consumers["consumers"], 2)
		var entries []browse.Entry
		require.NoError(t, json.Unmarshal(page["items"].(json.RawMessage), &entries))
		require.Len(t, entries, 2)
		assert.Equal(t, "apple", entries[0].Title)
		assert.Equal(t, "Mango", entries[1].Title)
	})

	t.Run("should report history as unavailable when not configured", func(t *testing.T) {
		// arrange
		f := newFixture(t)

		// act
		resp, _ := f.do(t, http.MethodGet, "/objects/o1/history", "")

		// assert
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
