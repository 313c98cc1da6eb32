package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "worker pools in go", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Go worker pools","url":"https://example.com/1","snippet":"bounded concurrency","score":0.9},
			{"title":"errgroup patterns","url":"https://example.com/2","snippet":"structured fan-out","score":0.7}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, nil)
	results, err := c.Search(context.Background(), "worker pools in go", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Go worker pools", results[0].Title)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestSearchLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"title":"a"},{"title":"b"},{"title":"c"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, nil)
	results, err := c.Search(context.Background(), "anything", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"title":"recovered"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, nil)
	results, err := c.Search(context.Background(), "flaky", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "recovered", results[0].Title)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, nil)
	_, err := c.Search(context.Background(), "bad", 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, nil)
	_, err := c.Search(context.Background(), "anything", 5)
	assert.Error(t, err)
}

func TestSearchEmptyEndpoint(t *testing.T) {
	c := New("", 5*time.Second, nil)
	results, err := c.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}
