// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"flow-rag-go/internal/config"
	"flow-rag-go/pkg/log"
)

// 嵌入客户端的错误分类。调用方用 errors.Is 判断。
var (
	// ErrInvalidShape 表示远端返回的向量维度与配置声明不符。
	// 维度不符的向量直接拒绝，绝不截断或补零。
	ErrInvalidShape = errors.New("embedding: vector dimension mismatch")
	// ErrRateLimited 表示远端限流（HTTP 429），客户端内部会重试。
	ErrRateLimited = errors.New("embedding: rate limited")
	// ErrUnavailable 表示重试耗尽后服务仍不可用。
	ErrUnavailable = errors.New("embedding: service unavailable")
)

// errPermanent 标记不应重试的请求级失败（非限流的 4xx）。
var errPermanent = errors.New("embedding: permanent request failure")

// Client defines the interface for an embedding client.
type Client interface {
	// CreateEmbedding 将单条文本向量化，返回固定维度的向量。
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	// CreateEmbeddings 批量向量化，结果按输入顺序返回。
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions 返回配置声明的向量维度。
	Dimensions() int
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client

	// lastReq 序列化礼貌性请求间隔，仅当 RequestIntervalMs > 0 时使用。
	mu      sync.Mutex
	lastReq time.Time
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Dimensions() int {
	return c.cfg.Dimensions
}

// CreateEmbedding calls the OpenAI-compatible API to get the vector for a given text.
// Transient failures (network errors, 429, 5xx) are retried with bounded
// exponential backoff plus jitter; retries are capped both in count and in
// total elapsed time.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	deadline := time.Now().Add(time.Duration(c.cfg.RetryMaxElapsedMs) * time.Millisecond)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.cfg.RetryBaseDelayMs, attempt)
			if time.Now().Add(delay).After(deadline) {
				break
			}
			log.Warnf("[EmbeddingClient] 第 %d 次重试, 退避 %s, 上次错误: %v", attempt, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vector, err := c.doRequest(ctx, text)
		if err == nil {
			return vector, nil
		}
		// 维度错误、永久失败与上下文取消不属于瞬时故障，立即返回。
		if errors.Is(err, ErrInvalidShape) || errors.Is(err, errPermanent) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
	}

	log.Errorf("[EmbeddingClient] 重试耗尽, 放弃请求: %v", lastErr)
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// CreateEmbeddings 以有界并发批量向量化。
// 完成顺序与提交顺序无关，但结果按输入下标归位，任何一条失败都使整批失败。
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	concurrency := c.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	vectors := make([][]float32, len(texts))
	errs := make([]error, len(texts))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, text := range texts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			vectors[i], errs[i] = c.CreateEmbedding(ctx, text)
		}(i, text)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
	}
	return vectors, nil
}

// doRequest 执行一次 HTTP 调用并校验返回向量的维度。
func (c *openAICompatibleClient) doRequest(ctx context.Context, text string) ([]float32, error) {
	c.waitCourtesyInterval()

	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      []string{text},
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Warnf("[EmbeddingClient] Embedding API 返回限流状态码 429")
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		log.Errorf("[EmbeddingClient] Embedding API 返回服务端错误: %s", resp.Status)
		return nil, fmt.Errorf("embedding api returned server error: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		// 4xx（除限流外）视为永久失败，不重试。
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("%w: embedding api returned status %s", errPermanent, resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) == 0 || len(embeddingResp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, fmt.Errorf("%w: received empty embedding", ErrInvalidShape)
	}

	vector := embeddingResp.Data[0].Embedding
	if c.cfg.Dimensions > 0 && len(vector) != c.cfg.Dimensions {
		log.Errorf("[EmbeddingClient] 向量维度不符, 期望 %d, 实际 %d", c.cfg.Dimensions, len(vector))
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidShape, c.cfg.Dimensions, len(vector))
	}

	return vector, nil
}

// waitCourtesyInterval 在相邻请求之间插入配置的礼貌性间隔。
// 这只是对远端限流的友好姿态，不承担任何正确性职责。
func (c *openAICompatibleClient) waitCourtesyInterval() {
	if c.cfg.RequestIntervalMs <= 0 {
		return
	}
	interval := time.Duration(c.cfg.RequestIntervalMs) * time.Millisecond

	c.mu.Lock()
	wait := time.Until(c.lastReq.Add(interval))
	c.lastReq = time.Now().Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}

// backoffDelay 计算第 attempt 次重试的指数退避延迟并叠加抖动，
// 避免远端劣化时出现重试风暴。
func backoffDelay(baseMs, attempt int) time.Duration {
	base := time.Duration(baseMs) * time.Millisecond
	delay := base << (attempt - 1)
	const maxDelay = 10 * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}
