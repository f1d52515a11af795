package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"qms_backend/internal/model"
	"qms_backend/internal/repository"
	"qms_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

// CacheInvalidator 发布/修改测验后使缓存失效
type CacheInvalidator interface {
	Invalidate(ctx context.Context, quizID string)
	InvalidateList(ctx context.Context)
}

type QuizService struct {
	Repo  *repository.QuizRepository
	Cache CacheInvalidator
}

func NewQuizService(repo *repository.QuizRepository, cache CacheInvalidator) *QuizService {
	return &QuizService{Repo: repo, Cache: cache}
}

type QuestionRequest struct {
	Text          string          `json:"text" binding:"required"`
	Type          string          `json:"type" binding:"required"`
	Options       []string        `json:"options"`
	CorrectAnswer json.RawMessage `json:"correctAnswer" binding:"required"`
	Points        *int            `json:"points"`
	Order         int             `json:"order"`
}

type QuizRequest struct {
	Title       string            `json:"title" binding:"required"`
	Description string            `json:"description"`
	StartTime   *time.Time        `json:"startTime"`
	EndTime     *time.Time        `json:"endTime"`
	Duration    int               `json:"duration"`
	IsPublished bool              `json:"isPublished"`
	Questions   []QuestionRequest `json:"questions" binding:"required"`
}

// validateQuestion 检查题型与答案形状是否匹配。
// multi_select 的答案须为非空字符串数组，其余题型为单个字符串
func validateQuestion(q QuestionRequest) error {
	if !model.ValidQuestionType(q.Type) {
		return fmt.Errorf("%w: 未知题型 %s", util.ErrValidation, q.Type)
	}
	if q.Points != nil && *q.Points < 0 {
		return fmt.Errorf("%w: 分值不能为负", util.ErrValidation)
	}
	if q.Type == model.QuestionMultiSelect {
		var vals []string
		if err := json.Unmarshal(q.CorrectAnswer, &vals); err != nil || len(vals) == 0 {
			return fmt.Errorf("%w: 多选题答案须为非空字符串数组", util.ErrValidation)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(q.CorrectAnswer, &s); err != nil || s == "" {
		return fmt.Errorf("%w: 答案须为非空字符串", util.ErrValidation)
	}
	return nil
}

func buildQuestions(quizID string, reqs []QuestionRequest) ([]model.Question, error) {
	questions := make([]model.Question, 0, len(reqs))
	for i, qr := range reqs {
		if err := validateQuestion(qr); err != nil {
			return nil, err
		}
		points := 1
		if qr.Points != nil {
			points = *qr.Points
		}
		var options json.RawMessage
		if len(qr.Options) > 0 {
			options, _ = json.Marshal(qr.Options)
		}
		order := qr.Order
		if order == 0 {
			order = i
		}
		questions = append(questions, model.Question{
			QuizID:        quizID,
			Text:          qr.Text,
			Type:          qr.Type,
			Options:       options,
			CorrectAnswer: qr.CorrectAnswer,
			Points:        points,
			Order:         order,
		})
	}
	return questions, nil
}

func (s *QuizService) Create(ctx context.Context, instructorID uint, req QuizRequest) (*model.Quiz, error) {
	if len(req.Questions) == 0 {
		return nil, fmt.Errorf("%w: 测验至少包含一道题目", util.ErrValidation)
	}
	quiz := &model.Quiz{
		Title:        req.Title,
		Description:  req.Description,
		InstructorID: instructorID,
		IsPublished:  req.IsPublished,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Duration:     req.Duration,
	}
	quiz.ID = model.GenerateUUID()
	questions, err := buildQuestions(quiz.ID, req.Questions)
	if err != nil {
		return nil, err
	}
	quiz.Questions = questions

	if err := s.Repo.Create(quiz); err != nil {
		return nil, err
	}
	if req.IsPublished {
		s.Cache.InvalidateList(ctx)
	}
	return quiz, nil
}

func (s *QuizService) Get(id string) (*model.Quiz, error) {
	quiz, err := s.Repo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuizNotFound
	}
	return quiz, err
}

// GetTemplate 学生端获取答题模版，未发布的测验不可见
func (s *QuizService) GetTemplate(id string) (*model.QuizTemplate, error) {
	quiz, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !quiz.IsPublished {
		return nil, util.ErrQuizNotPublished
	}
	return quiz.Template(), nil
}

func (s *QuizService) ListPublished() ([]model.Quiz, error) {
	return s.Repo.ListPublished()
}

func (s *QuizService) ListByInstructor(instructorID uint) ([]model.Quiz, error) {
	return s.Repo.ListByInstructor(instructorID)
}

func (s *QuizService) GetBatch(ids []string) ([]model.Quiz, error) {
	return s.Repo.FindByIDs(ids)
}

// checkOwner 仅测验创建者（或管理员）可修改
func checkOwner(quiz *model.Quiz, instructorID uint, role model.UserRole) error {
	if role == model.Admin {
		return nil
	}
	if quiz.InstructorID != instructorID {
		return util.ErrPermissionDenied
	}
	return nil
}

func (s *QuizService) Update(ctx context.Context, instructorID uint, role model.UserRole, id string, req QuizRequest) (*model.Quiz, error) {
	quiz, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(quiz, instructorID, role); err != nil {
		return nil, err
	}
	questions, err := buildQuestions(id, req.Questions)
	if err != nil {
		return nil, err
	}

	quiz.Title = req.Title
	quiz.Description = req.Description
	quiz.StartTime = req.StartTime
	quiz.EndTime = req.EndTime
	quiz.Duration = req.Duration
	quiz.IsPublished = req.IsPublished
	quiz.Questions = questions

	if err := s.Repo.Update(quiz); err != nil {
		return nil, err
	}
	s.Cache.Invalidate(ctx, id)
	return quiz, nil
}

func (s *QuizService) Delete(ctx context.Context, instructorID uint, role model.UserRole, id string) error {
	quiz, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := checkOwner(quiz, instructorID, role); err != nil {
		return err
	}
	if err := s.Repo.Delete(id); err != nil {
		return err
	}
	s.Cache.Invalidate(ctx, id)
	return nil
}

func (s *QuizService) Publish(ctx context.Context, instructorID uint, role model.UserRole, id string) error {
	quiz, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := checkOwner(quiz, instructorID, role); err != nil {
		return err
	}
	if err := s.Repo.Publish(id); err != nil {
		return err
	}
	s.Cache.Invalidate(ctx, id)
	return nil
}

// ImportJSON 从导出的 JSON 批量导入测验，导入后默认未发布
func (s *QuizService) ImportJSON(ctx context.Context, instructorID uint, data []byte) ([]model.Quiz, error) {
	var reqs []QuizRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		// 兼容单个对象
		var single QuizRequest
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("%w: JSON 解析失败", util.ErrValidation)
		}
		reqs = []QuizRequest{single}
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: 导入内容为空", util.ErrValidation)
	}

	created := make([]model.Quiz, 0, len(reqs))
	for _, req := range reqs {
		req.IsPublished = false
		quiz, err := s.Create(ctx, instructorID, req)
		if err != nil {
			return nil, err
		}
		created = append(created, *quiz)
	}
	return created, nil
}
