package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type page struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

func TestSelect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/s42_pages", r.URL.Path)
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"title":"Home","slug":"home"},{"title":"Users","slug":"users"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "service-key")
	var pages []page
	require.NoError(t, c.Select(context.Background(), "s42_pages", 5, &pages))

	assert.Equal(t, []page{{"Home", "home"}, {"Users", "users"}}, pages)
}

func TestSelectWithoutLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("limit"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	var pages []page
	require.NoError(t, NewClient(srv.URL, "k").Select(context.Background(), "s42_pages", 0, &pages))
	assert.Empty(t, pages)
}

func TestCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		w.Header().Set("Content-Range", "0-24/42")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	n, err := NewClient(srv.URL, "k").Count(context.Background(), "s42_categories")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"42P01","message":"relation \"public.s42_nope\" does not exist"}`))
	}))
	defer srv.Close()

	var rows []map[string]any
	err := NewClient(srv.URL, "k").Select(context.Background(), "s42_nope", 1, &rows)
	require.Error(t, err)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusNotFound, rerr.Status)
	assert.Equal(t, `relation "public.s42_nope" does not exist`, rerr.Message)
	assert.Contains(t, err.Error(), "not found (404)")
}

func TestUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`Invalid API key`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad").Count(context.Background(), "s42_pages")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed (401): Invalid API key")
}

func TestCountKeepsJSONErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"42P01","message":"relation \"public.s42_nope\" does not exist"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Count(context.Background(), "s42_nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `not found (404): relation "public.s42_nope" does not exist`)
}

func TestEmptyErrorBodyUsesStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Count(context.Background(), "s42_pages")
	require.Error(t, err)
	assert.Equal(t, "rest: count s42_pages: unexpected status 403: Forbidden", err.Error())
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0-24/3573", 3573, false},
		{"*/0", 0, false},
		{"0-9/*", 0, true},
		{"", 0, true},
		{"0-9/abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseContentRange(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
