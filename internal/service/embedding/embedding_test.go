package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProviderDimensions(t *testing.T) {
	p := NewOpenAIProvider("key", "text-embedding-3-small", 512)
	if p.Dimensions() != 512 {
		t.Errorf("expected 512, got %d", p.Dimensions())
	}

	p = NewOpenAIProvider("key", "text-embedding-ada-002", 0)
	if p.Dimensions() != 1536 {
		t.Errorf("expected default 1536, got %d", p.Dimensions())
	}
}

func TestOpenAIProviderEmbedBatch(t *testing.T) {
	var gotReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		// Return results out of input order to exercise index reordering.
		resp := openAIResponse{}
		resp.Data = []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{
			{Embedding: []float32{2, 2}, Index: 1},
			{Embedding: []float32{1, 1}, Index: 0},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", "text-embedding-3-small", 2)
	p.baseURL = server.URL

	vecs, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0].Slice()[0] != 1 || vecs[1].Slice()[0] != 2 {
		t.Errorf("vectors not reordered by index: %v %v", vecs[0].Slice(), vecs[1].Slice())
	}
	if gotReq.Dimensions != 2 {
		t.Errorf("expected dimensions override 2 in request, got %d", gotReq.Dimensions)
	}
}

func TestOpenAIProviderNoDimensionsForLegacyModel(t *testing.T) {
	var gotReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		resp := openAIResponse{}
		resp.Data = []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{{Embedding: make([]float32, 1536), Index: 0}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", "text-embedding-ada-002", 0)
	p.baseURL = server.URL

	if _, err := p.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if gotReq.Dimensions != 0 {
		t.Errorf("legacy model must not send a dimensions override, got %d", gotReq.Dimensions)
	}
}

func TestOpenAIProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("wrong", "text-embedding-3-small", 8)
	p.baseURL = server.URL

	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Error("expected error for API error response")
	}
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(8)
	vec, err := p.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec.Slice()) != 8 {
		t.Errorf("expected 8-dim zero vector, got %d", len(vec.Slice()))
	}
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Errorf("expected 2 vectors, got %d", len(vecs))
	}
}
