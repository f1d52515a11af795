// Package queue 提供基于redis list的持久化评分任务队列。
// 入队方立即返回；worker 以 BRPOP 消费，投递语义为至少一次
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"qms_backend/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
)

// GradingJob 异步评分任务，以提交ID为主键
type GradingJob struct {
	SubmissionID string         `json:"submissionId"`
	QuizID       string         `json:"quizId"`
	Answers      []model.Answer `json:"answers"`
}

type GradingQueue struct {
	rdb *redis.Client
	key string
}

func NewGradingQueue(rdb *redis.Client, key string) *GradingQueue {
	if key == "" {
		key = "grading:jobs"
	}
	return &GradingQueue{rdb: rdb, key: key}
}

func (q *GradingQueue) Enqueue(ctx context.Context, job GradingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, data).Err()
}

// Dequeue 阻塞等待下一个任务。队列为空时在 ctx 取消前反复轮询
func (q *GradingQueue) Dequeue(ctx context.Context) (*GradingJob, error) {
	for {
		res, err := q.rdb.BRPop(ctx, 5*time.Second, q.key).Result()
		if errors.Is(err, redis.Nil) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			return nil, err
		}

		// BRPOP 返回 [key, value]
		if len(res) != 2 {
			continue
		}
		var job GradingJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			// 丢弃无法解析的任务，不让worker卡死
			continue
		}
		return &job, nil
	}
}

func (q *GradingQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
