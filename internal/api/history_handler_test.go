package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskq/internal/platform/archive"
	"github.com/phrazzld/taskq/internal/task"
)

type stubHistory struct {
	entries   []archive.Entry
	err       error
	lastLimit int
}

func (s *stubHistory) List(_ context.Context, limit int) ([]archive.Entry, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.entries, nil
}

func (s *stubHistory) Get(_ context.Context, id string) (*archive.Entry, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i := range s.entries {
		if s.entries[i].ID == id {
			return &s.entries[i], nil
		}
	}
	return nil, archive.ErrNotFound
}

func historyRouter(reader HistoryReader) http.Handler {
	h := NewHistoryHandler(reader, testLogger())
	r := chi.NewRouter()
	r.Get("/api/history", h.ListHistory)
	r.Get("/api/history/{id}", h.GetHistoryEntry)
	return r
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHistoryHandler_List(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	reader := &stubHistory{entries: []archive.Entry{
		{ID: "b", Status: task.StatusFinished, Progress: 100, Result: []byte(`42`), FinishedAt: now},
		{ID: "a", Status: task.StatusError, Error: "boom", FinishedAt: now.Add(-time.Second)},
	}}
	router := historyRouter(reader)

	w := serve(router, "/api/history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, archive.DefaultListLimit, reader.lastLimit)

	resp := decodeBody[HistoryListResponse](t, w)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "b", resp.Entries[0].ID)
	assert.JSONEq(t, `42`, string(resp.Entries[0].Result))

	serve(router, "/api/history?limit=5")
	assert.Equal(t, 5, reader.lastLimit)
}

func TestHistoryHandler_ListBadLimit(t *testing.T) {
	t.Parallel()

	router := historyRouter(&stubHistory{})

	for _, q := range []string{"abc", "-1", "100000"} {
		w := serve(router, "/api/history?limit="+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHistoryHandler_ListStoreError(t *testing.T) {
	t.Parallel()

	router := historyRouter(&stubHistory{err: errors.New("open /var/lib/taskq/archive.db: locked")})

	w := serve(router, "/api/history")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "/var/lib")
	assert.Contains(t, w.Body.String(), "Failed to read task history")
}

func TestHistoryHandler_Get(t *testing.T) {
	t.Parallel()

	router := historyRouter(&stubHistory{entries: []archive.Entry{
		{ID: "a", Status: task.StatusCanceled},
	}})

	w := serve(router, "/api/history/a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, task.StatusCanceled, decodeBody[archive.Entry](t, w).Status)

	w = serve(router, "/api/history/zzz")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewHistoryHandler_PanicsWithoutDependencies(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewHistoryHandler(nil, testLogger()) })
	assert.Panics(t, func() { NewHistoryHandler(&stubHistory{}, nil) })
}
