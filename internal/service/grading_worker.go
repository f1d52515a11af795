package service

import (
	"context"
	"errors"
	"qms_backend/internal/queue"
	"qms_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
)

// GradingWorker 消费评分队列。单个worker串行处理，多实例可并行：
// 评分幂等，无需对提交加锁
type GradingWorker struct {
	queue   *queue.GradingQueue
	grading *GradingService
}

func NewGradingWorker(q *queue.GradingQueue, grading *GradingService) *GradingWorker {
	return &GradingWorker{queue: q, grading: grading}
}

// Run 阻塞消费直到 ctx 取消。任务失败不重试，终态由 ProcessJob 负责落库
func (w *GradingWorker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Log.Error("grading worker dequeue error", zap.Error(err))
			// redis故障时退避，避免空转刷日志
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		logger.Log.Info("processing grading job",
			zap.String("submissionId", job.SubmissionID),
			zap.String("quizId", job.QuizID))

		// 错误已在 ProcessJob 内落库并记录
		_ = w.grading.ProcessJob(ctx, job)
	}
}
