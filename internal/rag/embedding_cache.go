package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cmsreport/internal/logger"
)

// EmbeddingCache 两级向量缓存：进程内 L1 + Redis L2
type EmbeddingCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *zap.Logger

	mu       sync.Mutex
	local    map[string][]float32
	maxLocal int
}

type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache 创建向量缓存，redisClient 可为 nil（仅使用本地缓存）
func NewEmbeddingCache(redisClient redis.UniversalClient, ttl time.Duration, log *zap.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{
		redis:    redisClient,
		prefix:   "cmsreport:emb:",
		ttl:      ttl,
		log:      logger.OrNop(log),
		local:    make(map[string][]float32),
		maxLocal: 10000,
	}
}

// Get 查询缓存，先本地后 Redis
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.key(text, model)

	c.mu.Lock()
	vec, ok := c.local[key]
	c.mu.Unlock()
	if ok {
		return vec, true
	}

	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("读取向量缓存失败", zap.Error(err))
		}
		return nil, false
	}
	var cached cachedEmbedding
	if json.Unmarshal(data, &cached) != nil {
		return nil, false
	}
	c.setLocal(key, cached.Vector)
	return cached.Vector, true
}

// Set 写入缓存，Redis 写失败只记录日志
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) {
	key := c.key(text, model)
	c.setLocal(key, vector)
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(cachedEmbedding{Vector: vector, Model: model, CreatedAt: time.Now()})
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Debug("写入向量缓存失败", zap.Error(err))
	}
}

// Len 本地缓存条数
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}

func (c *EmbeddingCache) key(text, model string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(hash[:16])
}

func (c *EmbeddingCache) setLocal(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// 满了清理一半
	if len(c.local) >= c.maxLocal {
		n := 0
		for k := range c.local {
			if n >= c.maxLocal/2 {
				break
			}
			delete(c.local, k)
			n++
		}
	}
	c.local[key] = vec
}

// CachedEmbeddingProvider 带缓存的 Embedding 提供者包装器
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    *EmbeddingCache
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding 提供者
func NewCachedEmbeddingProvider(provider EmbeddingProvider, cache *EmbeddingCache) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{provider: provider, cache: cache}
}

func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.provider.GetModel()
	if vec, ok := p.cache.Get(ctx, text, model); ok {
		return vec, nil
	}
	vec, err := p.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, text, model, vec)
	return vec, nil
}

// EmbedBatch 只对未命中缓存的文本调用底层提供者
func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := p.provider.GetModel()
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := p.cache.Get(ctx, t, model); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := p.provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		if j >= len(missingIdx) {
			break
		}
		out[missingIdx[j]] = vec
		p.cache.Set(ctx, missing[j], model, vec)
	}
	return out, nil
}

func (p *CachedEmbeddingProvider) GetModel() string { return p.provider.GetModel() }

func (p *CachedEmbeddingProvider) GetProviderName() string { return p.provider.GetProviderName() }
