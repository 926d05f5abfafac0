package omdb_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cinepipe/cinepipe/internal/metadata/omdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByIMDBID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tt0133093", r.URL.Query().Get("i"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Title":"The Matrix","Year":"1999","imdbID":"tt0133093","Runtime":"136 min","Response":"True"}`)
	}))
	defer ts.Close()

	client := omdb.NewClient(ts.URL, "test-key")

	movie, err := client.ByIMDBID(context.Background(), "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", movie.Title)
	assert.Equal(t, "1999", movie.Year)
	assert.Equal(t, "tt0133093", movie.IMDBID)
}

func TestByIMDBID_NotFoundIsNotRetried(t *testing.T) {
	calls := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Response":"False","Error":"Movie not found!"}`)
	}))
	defer ts.Close()

	client := omdb.NewClient(ts.URL, "test-key")

	_, err := client.ByIMDBID(context.Background(), "tt0000000")
	require.ErrorIs(t, err, omdb.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestByIMDBID_TransientFailureIsRetried(t *testing.T) {
	calls := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Title":"The Matrix","imdbID":"tt0133093","Response":"True"}`)
	}))
	defer ts.Close()

	client := omdb.NewClient(ts.URL, "test-key")

	movie, err := client.ByIMDBID(context.Background(), "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", movie.Title)
	assert.Equal(t, 3, calls)
}
