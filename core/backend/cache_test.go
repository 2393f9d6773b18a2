package backend

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/roa/core/cache"
)

func TestCacheCoherence(t *testing.T) {
	s := newTestService(t, "")
	ctx := context.Background()
	s.put(t, "/persons/P1", map[string]interface{}{"firstname": "Ann"})

	var person map[string]interface{}
	_, err := s.admin.RawGet("/persons/P1", &person)
	require.NoError(t, err)
	assert.Equal(t, "Ann", person["firstname"])

	stored, err := s.backend.Cache("/persons").Section(cache.SectionResources).Get(ctx, "/persons/P1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"/persons/P1"}, stored.Permalinks)

	// a change behind the back of the backend is not seen while cached
	_, err = s.db.Exec(`update persons set firstname = 'Changed' where key = 'P1'`)
	require.NoError(t, err)
	calls := s.securityCalls.Load()
	_, err = s.admin.RawGet("/persons/P1", &person)
	require.NoError(t, err)
	assert.Equal(t, "Ann", person["firstname"])
	assert.Greater(t, s.securityCalls.Load(), calls, "a cache hit is authorized again")

	status, _ := s.mallory.RawGet("/persons/P1", nil)
	assert.Equal(t, http.StatusForbidden, status)

	s.put(t, "/persons/P1", map[string]interface{}{"firstname": "Bob"})
	_, err = s.admin.RawGet("/persons/P1", &person)
	require.NoError(t, err)
	assert.Equal(t, "Bob", person["firstname"])

	s.put(t, "/persons/P1", map[string]interface{}{"firstname": "Cid"})
	_, err = s.admin.RawGet("/persons/P1", &person)
	require.NoError(t, err)
	assert.Equal(t, "Cid", person["firstname"])

	_, err = s.admin.RawDelete("/persons/P1")
	require.NoError(t, err)
	status, _ = s.admin.RawGet("/persons/P1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListCacheIsFlushed(t *testing.T) {
	s := newTestService(t, "")
	communities := s.anonymous.Resource("/communities")
	_, err := s.anonymous.RawPut("/communities/C1", map[string]interface{}{"name": "one"}, nil)
	require.NoError(t, err)

	var list listResult
	_, err = communities.List(&list)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Meta.Count)

	_, err = s.db.Exec(`insert into communities (key, name) values ('C2', 'two')`)
	require.NoError(t, err)
	list = listResult{}
	_, err = communities.List(&list)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Meta.Count, "served from cache")

	// any write flushes all lists of the type
	_, err = s.anonymous.RawPut("/communities/C3", map[string]interface{}{"name": "three"}, nil)
	require.NoError(t, err)
	list = listResult{}
	_, err = communities.List(&list)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Meta.Count)
}

func TestErrorsAreNotCached(t *testing.T) {
	s := newTestService(t, "")

	status, _ := s.anonymous.RawGet("/communities/C1", nil)
	assert.Equal(t, http.StatusNotFound, status)

	_, err := s.db.Exec(`insert into communities (key, name) values ('C1', 'one')`)
	require.NoError(t, err)
	var community map[string]interface{}
	status, err = s.anonymous.RawGet("/communities/C1", &community)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "one", community["name"])
}

func TestCustomRouteCache(t *testing.T) {
	s := newTestService(t, "")
	ctx := context.Background()
	s.put(t, "/persons/P1", map[string]interface{}{"firstname": "Ann"})

	_, err := s.admin.RawGet("/persons/P1/greeting", nil)
	require.NoError(t, err)

	stored, err := s.backend.Cache("/persons").Section(cache.SectionCustom).Get(ctx, "/persons/P1/greeting")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "hello Ann", string(stored.Body))
	assert.Equal(t, []string{"/persons/P1"}, stored.Permalinks)

	status, _ := s.mallory.RawGet("/persons/P1/greeting", nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestCacheWithMixedEncodings(t *testing.T) {
	s := newTestService(t, "")
	_, err := s.anonymous.RawPut("/communities/C1", map[string]interface{}{"name": "one"}, nil)
	require.NoError(t, err)

	get := func(acceptEncoding string) (*httptest.ResponseRecorder, string) {
		r := httptest.NewRequest(http.MethodGet, "/communities/C1", nil)
		if acceptEncoding != "" {
			r.Header.Set("Accept-Encoding", acceptEncoding)
		}
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		var body io.Reader = w.Body
		if w.Header().Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(w.Body)
			require.NoError(t, err)
			body = zr
		}
		data, err := io.ReadAll(body)
		require.NoError(t, err)
		return w, string(data)
	}

	const expected = `{"name":"one","meta":{"permalink":"/communities/C1"}}`

	w, body := get("gzip")
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.JSONEq(t, expected, body)

	stored, err := s.backend.Cache("/communities").Section(cache.SectionResources).Get(context.Background(), "/communities/C1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotContains(t, stored.Header, "Content-Encoding")

	w, body = get("")
	assert.Empty(t, w.Header().Get("Content-Encoding"), "replayed from cache without compression")
	assert.JSONEq(t, expected, body)

	w, body = get("gzip")
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"), "replayed from cache with compression")
	assert.JSONEq(t, expected, body)
}
