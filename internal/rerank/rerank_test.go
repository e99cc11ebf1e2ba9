package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRerank_SortsDescendingByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Results: []Scored{
			{ID: "a", Score: 0.2},
			{ID: "b", Score: 0.9},
			{ID: "c", Score: 0.5},
		}})
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Timeout: time.Second})
	results, err := c.Rerank(context.Background(), "query", []Passage{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].ID != "b" || results[1].ID != "c" || results[2].ID != "a" {
		t.Errorf("expected descending order b,c,a got %+v", results)
	}
}

func TestRerank_ServerError_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Timeout: time.Second})
	_, err := c.Rerank(context.Background(), "query", []Passage{{ID: "a"}})
	if err == nil {
		t.Fatal("expected error on 500 response so caller can bypass the reranker")
	}
}

func TestRerank_Timeout_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Timeout: 5 * time.Millisecond})
	_, err := c.Rerank(context.Background(), "query", []Passage{{ID: "a"}})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
