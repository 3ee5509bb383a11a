package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-rag-go/internal/config"
)

func testConfig(baseURL string, dims int) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		APIKey:            "test-key",
		BaseURL:           baseURL,
		Model:             "text-embedding-004",
		Dimensions:        dims,
		MaxRetries:        3,
		RetryBaseDelayMs:  1,
		RetryMaxElapsedMs: 5000,
		Concurrency:       4,
	}
}

func embeddingBody(vector []float32) []byte {
	body, _ := json.Marshal(map[string]any{
		"data": []map[string]any{{"embedding": vector}},
	})
	return body
}

func constantVector(dims int, value float32) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = value
	}
	return v
}

func TestCreateEmbeddingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model      string   `json:"model"`
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello world"}, req.Input)
		assert.Equal(t, 8, req.Dimensions)

		w.Write(embeddingBody(constantVector(8, 0.5)))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 8))
	vector, err := c.CreateEmbedding(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vector, 8)
}

func TestCreateEmbeddingRejectsWrongDimension(t *testing.T) {
	// 远端声称 768 维模型却返回 512 维向量。
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(embeddingBody(constantVector(512, 0.1)))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 768))
	_, err := c.CreateEmbedding(context.Background(), "text")
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestCreateEmbeddingRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(embeddingBody(constantVector(4, 0.25)))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 4))
	vector, err := c.CreateEmbedding(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vector, 4)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCreateEmbeddingExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 4))
	_, err := c.CreateEmbedding(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
	// 首次尝试 + MaxRetries 次重试。
	assert.Equal(t, int32(4), calls.Load())
}

func TestCreateEmbeddingsPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// 用输入文本长度编码向量值，便于校验结果归位。
		w.Write(embeddingBody(constantVector(4, float32(len(req.Input[0])))))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 4))
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vectors, err := c.CreateEmbeddings(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d out of order", i)
	}
}

func TestCreateEmbeddingsFailsWhenAnyInputFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Input[0] == "poison" {
			w.Write(embeddingBody(constantVector(2, 0)))
			return
		}
		w.Write(embeddingBody(constantVector(4, 1)))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, 4))
	_, err := c.CreateEmbeddings(context.Background(), []string{"ok", "poison", "ok"})
	assert.ErrorIs(t, err, ErrInvalidShape)
}
