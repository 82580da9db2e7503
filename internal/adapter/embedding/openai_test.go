package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gracebot/internal/domain"
)

func TestOpenAIEmbedRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "custom-embed" || len(req.Input) != 2 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{Data: []embedData{
			{Index: 1, Embedding: []float32{3, 4}},
			{Index: 0, Embedding: []float32{1, 2}},
		}})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", WithBaseURL(srv.URL), WithModel("custom-embed"))
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	// Out-of-order responses are re-sorted by index.
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 3 {
		t.Errorf("vectors = %v", vecs)
	}
}

func TestOpenAIEmbedAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-bad", WithBaseURL(srv.URL))
	_, err := p.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Fatalf("Embed() error = %v, want ErrEmbeddingFailed", err)
	}
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	p := NewOpenAIProvider("sk-test", WithBaseURL("http://127.0.0.1:1"))
	vecs, err := p.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("Embed(nil) = %v, %v, want nil, nil", vecs, err)
	}
}
