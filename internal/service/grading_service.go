package service

import (
	"context"
	"encoding/json"
	"math"
	"qms_backend/internal/model"
	"qms_backend/internal/queue"
	"qms_backend/internal/scoring"
	"qms_backend/internal/util"
	"qms_backend/pkg/logger"
	"qms_backend/pkg/monitoring"
	"time"

	"go.uber.org/zap"
)

// SubmissionStore 提交记录的持久化接口，注入具体实现便于测试
type SubmissionStore interface {
	Create(s *model.Submission) error
	Update(s *model.Submission) error
	FindByID(id string) (*model.Submission, error)
	FindDraft(userID uint, quizID string) (*model.Submission, error)
	UpsertDraft(userID uint, quizID string, answers json.RawMessage) (*model.Submission, error)
	DeleteDraft(userID uint, quizID string) error
	MarkGraded(id string, score float64, at time.Time) error
	MarkError(id string) error
	History(userID uint, statuses []string, limit int) ([]model.Submission, error)
	InstructorStats(quizIDs []string) (int64, float64, error)
	StudentStats(userID uint) (int64, int64, error)
}

// JobEnqueuer 异步评分任务的入队口
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job queue.GradingJob) error
}

const unknownQuizTitle = "Unknown Assessment"

// GradingService 评分子系统：同步提交、异步评分、草稿、历史与统计。
// 两条评分路径共用 scoring.Score，口径不会漂移
type GradingService struct {
	Submissions SubmissionStore
	Quizzes     QuizSource
	Queue       JobEnqueuer
}

func NewGradingService(submissions SubmissionStore, quizzes QuizSource, q JobEnqueuer) *GradingService {
	return &GradingService{
		Submissions: submissions,
		Quizzes:     quizzes,
		Queue:       q,
	}
}

type SubmitRequest struct {
	QuizID  string         `json:"quizId" binding:"required"`
	Answers []model.Answer `json:"answers" binding:"required"`
}

type SubmitResult struct {
	SubmissionID string  `json:"submissionId"`
	Score        float64 `json:"score"`
}

// validateAnswers 校验作答结构：题目ID必填，作答值必须是合法JSON值
func validateAnswers(answers []model.Answer) error {
	for _, a := range answers {
		if a.QuestionID == "" {
			return util.ErrValidation
		}
		if len(a.SelectedValue) == 0 || string(a.SelectedValue) == "null" {
			return util.ErrValidation
		}
	}
	return nil
}

// Submit 同步评分路径：取卷、评分、落库在本次请求内完成，调用方直接拿到分数。
// 取卷失败时整个操作失败，不落任何半成品记录
func (s *GradingService) Submit(ctx context.Context, userID uint, authHeader string, req SubmitRequest) (*SubmitResult, error) {
	if req.QuizID == "" {
		return nil, util.ErrValidation
	}
	if err := validateAnswers(req.Answers); err != nil {
		return nil, err
	}

	quiz, err := s.Quizzes.GetQuiz(ctx, req.QuizID, authHeader)
	if err != nil {
		return nil, err
	}

	score := scoring.Score(quiz.Questions, req.Answers)

	answersJSON, err := json.Marshal(req.Answers)
	if err != nil {
		return nil, util.ErrValidation
	}

	now := time.Now()
	submission := &model.Submission{
		UserID:      userID,
		QuizID:      req.QuizID,
		Answers:     answersJSON,
		Score:       &score,
		Status:      model.SubmissionSubmitted,
		SubmittedAt: &now,
	}

	if err := s.Submissions.Create(submission); err != nil {
		return nil, err
	}

	// 正式提交后草稿即被取代
	if err := s.Submissions.DeleteDraft(userID, req.QuizID); err != nil {
		logger.Log.Warn("failed to clean up draft after submit",
			zap.Uint("userId", userID), zap.String("quizId", req.QuizID), zap.Error(err))
	}

	monitoring.GradingCounter.WithLabelValues("inline", "graded").Inc()

	return &SubmitResult{SubmissionID: submission.ID, Score: score}, nil
}

// SaveDraft 草稿保存：同一 (学生, 测验) 只有一份草稿，重复保存原地覆盖。不评分
func (s *GradingService) SaveDraft(userID uint, req SubmitRequest) (*model.Submission, error) {
	if req.QuizID == "" {
		return nil, util.ErrValidation
	}
	if err := validateAnswers(req.Answers); err != nil {
		return nil, err
	}

	answersJSON, err := json.Marshal(req.Answers)
	if err != nil {
		return nil, util.ErrValidation
	}

	return s.Submissions.UpsertDraft(userID, req.QuizID, answersJSON)
}

// FinalizeDraft 异步评分路径的生产端：草稿转为占位的 Submitted（无分数），
// 入队后立即返回，由 worker 给出终态
func (s *GradingService) FinalizeDraft(ctx context.Context, userID uint, quizID string) (*model.Submission, error) {
	draft, err := s.Submissions.FindDraft(userID, quizID)
	if err != nil {
		return nil, util.ErrDraftNotFound
	}

	answers, err := draft.AnswerList()
	if err != nil {
		return nil, util.ErrValidation
	}

	now := time.Now()
	draft.Status = model.SubmissionSubmitted
	draft.SubmittedAt = &now
	if err := s.Submissions.Update(draft); err != nil {
		return nil, err
	}

	job := queue.GradingJob{
		SubmissionID: draft.ID,
		QuizID:       draft.QuizID,
		Answers:      answers,
	}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		// 入队失败回滚为草稿，否则记录卡在无任务的占位 Submitted 上，
		// 学生无法重新定稿
		draft.Status = model.SubmissionDraft
		draft.SubmittedAt = nil
		if revertErr := s.Submissions.Update(draft); revertErr != nil {
			logger.Log.Error("failed to revert submission to draft after enqueue failure",
				zap.String("submissionId", draft.ID), zap.Error(revertErr))
		}
		return nil, err
	}

	return draft, nil
}

// Regrade 将已有提交重新入队评分
func (s *GradingService) Regrade(ctx context.Context, submissionID string) error {
	submission, err := s.Submissions.FindByID(submissionID)
	if err != nil {
		return util.ErrSubmissionNotFound
	}

	answers, err := submission.AnswerList()
	if err != nil {
		return util.ErrValidation
	}

	return s.Queue.Enqueue(ctx, queue.GradingJob{
		SubmissionID: submission.ID,
		QuizID:       submission.QuizID,
		Answers:      answers,
	})
}

// ProcessJob 异步评分路径的消费端。任何失败都把提交置为 Error 终态，
// 不会静默丢弃任务。评分是纯函数且覆盖写，天然幂等：
// 同一任务重复投递收敛到同一分数
func (s *GradingService) ProcessJob(ctx context.Context, job *queue.GradingJob) error {
	quiz, err := s.Quizzes.GetQuiz(ctx, job.QuizID, "")
	if err != nil {
		logger.Log.Error("grading job failed to fetch quiz",
			zap.String("submissionId", job.SubmissionID),
			zap.String("quizId", job.QuizID),
			zap.Error(err))
		if markErr := s.Submissions.MarkError(job.SubmissionID); markErr != nil {
			logger.Log.Error("failed to mark submission as error",
				zap.String("submissionId", job.SubmissionID), zap.Error(markErr))
		}
		monitoring.GradingCounter.WithLabelValues("deferred", "error").Inc()
		return err
	}

	score := scoring.Score(quiz.Questions, job.Answers)

	if err := s.Submissions.MarkGraded(job.SubmissionID, score, time.Now()); err != nil {
		logger.Log.Error("failed to persist grade",
			zap.String("submissionId", job.SubmissionID), zap.Error(err))
		monitoring.GradingCounter.WithLabelValues("deferred", "error").Inc()
		return err
	}

	monitoring.GradingCounter.WithLabelValues("deferred", "graded").Inc()
	logger.Log.Info("submission graded",
		zap.String("submissionId", job.SubmissionID),
		zap.Float64("score", score))
	return nil
}

// History 最近的有效提交（草稿和失败记录除外），按提交时间倒序。
// 标题通过一次批量查询补充；查询失败降级为占位标题而不是整个请求失败
func (s *GradingService) History(ctx context.Context, userID uint, limit int, authHeader string) ([]model.Submission, error) {
	if limit <= 0 {
		limit = 5
	}

	statuses := []string{model.SubmissionSubmitted, model.SubmissionCompleted, model.SubmissionGraded}
	submissions, err := s.Submissions.History(userID, statuses, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	quizIDs := make([]string, 0, len(submissions))
	for _, sub := range submissions {
		if !seen[sub.QuizID] {
			seen[sub.QuizID] = true
			quizIDs = append(quizIDs, sub.QuizID)
		}
	}

	titles := make(map[string]string, len(quizIDs))
	if len(quizIDs) > 0 {
		quizzes, err := s.Quizzes.GetBatch(ctx, quizIDs, authHeader)
		if err != nil {
			logger.Log.Warn("quiz title enrichment failed, degrading to placeholder",
				zap.Error(err))
		} else {
			for id, quiz := range quizzes {
				titles[id] = quiz.Title
			}
		}
	}

	for i := range submissions {
		if title, ok := titles[submissions[i].QuizID]; ok && title != "" {
			submissions[i].QuizTitle = title
		} else {
			submissions[i].QuizTitle = unknownQuizTitle
		}
	}

	return submissions, nil
}

type InstructorStats struct {
	ActiveStudents int64 `json:"activeStudents"`
	AvgScore       int   `json:"avgScore"`
}

func (s *GradingService) GetInstructorStats(quizIDs []string) (*InstructorStats, error) {
	active, avg, err := s.Submissions.InstructorStats(quizIDs)
	if err != nil {
		return nil, err
	}
	return &InstructorStats{
		ActiveStudents: active,
		AvgScore:       int(math.Round(avg)),
	}, nil
}

type StudentStats struct {
	CompletedCount    int64 `json:"completedCount"`
	CertificatesCount int64 `json:"certificatesCount"`
}

func (s *GradingService) GetStudentStats(userID uint) (*StudentStats, error) {
	completed, certificates, err := s.Submissions.StudentStats(userID)
	if err != nil {
		return nil, err
	}
	return &StudentStats{
		CompletedCount:    completed,
		CertificatesCount: certificates,
	}, nil
}
