package service

import (
	"context"
	"errors"
	"qms_backend/internal/model"
	"qms_backend/internal/repository"
	"qms_backend/internal/util"

	"gorm.io/gorm"
)

// QuizSource 评分端获取标准答案的唯一入口。
// 部署拆分时为HTTP客户端，单体部署时直接读本地测验库；两者外面都套读穿缓存
type QuizSource interface {
	GetQuiz(ctx context.Context, quizID, authHeader string) (*model.Quiz, error)
	GetBatch(ctx context.Context, ids []string, authHeader string) (map[string]model.Quiz, error)
	ListPublished(ctx context.Context, authHeader string) ([]model.Quiz, error)
}

// LocalQuizSource 本地测验库适配器，authHeader 在进程内调用时不起作用
type LocalQuizSource struct {
	Repo *repository.QuizRepository
}

func NewLocalQuizSource(repo *repository.QuizRepository) *LocalQuizSource {
	return &LocalQuizSource{Repo: repo}
}

func (s *LocalQuizSource) GetQuiz(ctx context.Context, quizID, authHeader string) (*model.Quiz, error) {
	quiz, err := s.Repo.FindByID(quizID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}
	return quiz, nil
}

func (s *LocalQuizSource) GetBatch(ctx context.Context, ids []string, authHeader string) (map[string]model.Quiz, error) {
	quizzes, err := s.Repo.FindByIDs(ids)
	if err != nil {
		return nil, err
	}
	result := make(map[string]model.Quiz, len(quizzes))
	for _, q := range quizzes {
		result[q.ID] = q
	}
	return result, nil
}

func (s *LocalQuizSource) ListPublished(ctx context.Context, authHeader string) ([]model.Quiz, error) {
	return s.Repo.ListPublished()
}
