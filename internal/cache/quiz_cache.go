// Package cache 在测验查询前加一层redis读穿缓存。
// 出题方的任何写操作都会调用失效接口；TTL 兜底限制陈旧程度
package cache

import (
	"context"
	"encoding/json"
	"qms_backend/internal/model"
	"qms_backend/pkg/monitoring"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"
)

const (
	quizKeyPrefix    = "quiz:"
	publishedListKey = "quizzes:published"
)

// Source 缓存未命中时的权威数据来源（HTTP客户端或本地测验库）
type Source interface {
	GetQuiz(ctx context.Context, quizID, authHeader string) (*model.Quiz, error)
	GetBatch(ctx context.Context, ids []string, authHeader string) (map[string]model.Quiz, error)
	ListPublished(ctx context.Context, authHeader string) ([]model.Quiz, error)
}

// QuizCache 显式注入的缓存实例，无包级单例，测试可以独立驱动失效和过期
type QuizCache struct {
	rdb    *redis.Client
	source Source
	sf     singleflight.Group

	mu      sync.RWMutex
	quizTTL time.Duration
	listTTL time.Duration
}

func NewQuizCache(rdb *redis.Client, source Source, quizTTL, listTTL time.Duration) *QuizCache {
	return &QuizCache{
		rdb:     rdb,
		source:  source,
		quizTTL: quizTTL,
		listTTL: listTTL,
	}
}

// SetTTLs 配置热更新入口
func (c *QuizCache) SetTTLs(quizTTL, listTTL time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quizTTL = quizTTL
	c.listTTL = listTTL
}

func (c *QuizCache) ttls() (time.Duration, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quizTTL, c.listTTL
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID, authHeader string) (*model.Quiz, error) {
	key := quizKeyPrefix + quizID

	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var quiz model.Quiz
		if err := json.Unmarshal(data, &quiz); err == nil {
			monitoring.QuizCacheCounter.WithLabelValues("hit").Inc()
			return &quiz, nil
		}
	}
	monitoring.QuizCacheCounter.WithLabelValues("miss").Inc()

	// singleflight 合并并发未命中，避免击穿出题方
	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			var quiz model.Quiz
			if err := json.Unmarshal(data, &quiz); err == nil {
				return &quiz, nil
			}
		}

		quiz, err := c.source.GetQuiz(ctx, quizID, authHeader)
		if err != nil {
			return nil, err
		}

		c.store(ctx, key, quiz)
		return quiz, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.Quiz), nil
}

// GetBatch 先读缓存，只向来源请求未命中的部分
func (c *QuizCache) GetBatch(ctx context.Context, ids []string, authHeader string) (map[string]model.Quiz, error) {
	result := make(map[string]model.Quiz, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		data, err := c.rdb.Get(ctx, quizKeyPrefix+id).Bytes()
		if err != nil {
			missing = append(missing, id)
			continue
		}
		var quiz model.Quiz
		if err := json.Unmarshal(data, &quiz); err != nil {
			missing = append(missing, id)
			continue
		}
		result[id] = quiz
	}

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.source.GetBatch(ctx, missing, authHeader)
	if err != nil {
		return nil, err
	}
	for id, quiz := range fetched {
		q := quiz
		c.store(ctx, quizKeyPrefix+id, &q)
		result[id] = quiz
	}
	return result, nil
}

func (c *QuizCache) ListPublished(ctx context.Context, authHeader string) ([]model.Quiz, error) {
	if data, err := c.rdb.Get(ctx, publishedListKey).Bytes(); err == nil {
		var quizzes []model.Quiz
		if err := json.Unmarshal(data, &quizzes); err == nil {
			monitoring.QuizCacheCounter.WithLabelValues("hit").Inc()
			return quizzes, nil
		}
	}
	monitoring.QuizCacheCounter.WithLabelValues("miss").Inc()

	result, err, _ := c.sf.Do(publishedListKey, func() (interface{}, error) {
		quizzes, err := c.source.ListPublished(ctx, authHeader)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(quizzes); err == nil {
			_, listTTL := c.ttls()
			c.rdb.Set(ctx, publishedListKey, data, listTTL)
		}
		return quizzes, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]model.Quiz), nil
}

// Invalidate 测验创建/更新/删除/发布时调用，防止按过期答案评分
func (c *QuizCache) Invalidate(ctx context.Context, quizID string) {
	c.rdb.Del(ctx, quizKeyPrefix+quizID)
	c.rdb.Del(ctx, publishedListKey)
}

func (c *QuizCache) InvalidateList(ctx context.Context) {
	c.rdb.Del(ctx, publishedListKey)
}

func (c *QuizCache) store(ctx context.Context, key string, quiz *model.Quiz) {
	data, err := json.Marshal(quiz)
	if err != nil {
		return
	}
	quizTTL, _ := c.ttls()
	c.rdb.Set(ctx, key, data, quizTTL)
}
