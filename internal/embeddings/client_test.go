package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1.0},
		{"mismatched length", []float32{1}, []float32{1, 2}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(float64(got-tc.expected)) > 0.0001 {
				t.Errorf("got %f, want %f", got, tc.expected)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	query := []float32{1, 0, 0}
	vectors := [][]float32{
		{0, 1, 0},     // orthogonal
		{1, 0, 0},     // identical
		{-1, 0, 0},    // opposite
		{0.7, 0.7, 0}, // similar
	}

	top2 := TopK(query, vectors, 2)
	if len(top2) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top2))
	}
	if top2[0].Index != 1 || top2[1].Index != 3 {
		t.Errorf("ranking = %+v, want indices 1 then 3", top2)
	}
	if top2[0].Score < top2[1].Score {
		t.Errorf("scores not descending: %+v", top2)
	}

	if got := TopK(query, vectors, 10); len(got) != 4 {
		t.Errorf("k larger than input should return all, got %d", len(got))
	}
	if got := TopK(query, vectors, 0); got != nil {
		t.Errorf("k=0 should return nil, got %+v", got)
	}
}

func TestClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != DefaultModel {
			t.Errorf("model = %q", req.Model)
		}
		if req.Prompt == "fail" {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})

	emb, err := c.Generate(context.Background(), "sepsis bundle")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(emb) != 3 {
		t.Errorf("dims = %d, want 3", len(emb))
	}

	if _, err := c.Generate(context.Background(), ""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("empty text error = %v", err)
	}

	if _, err := c.GenerateBatch(context.Background(), []string{"ok", "fail"}); err == nil {
		t.Error("expected batch to fail on server error")
	}
}
