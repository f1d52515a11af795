package repository

import (
	"encoding/json"
	"errors"
	"qms_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type SubmissionRepository struct {
	DB *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{DB: db}
}

func (r *SubmissionRepository) Create(s *model.Submission) error {
	return r.DB.Create(s).Error
}

func (r *SubmissionRepository) Update(s *model.Submission) error {
	return r.DB.Save(s).Error
}

func (r *SubmissionRepository) FindByID(id string) (*model.Submission, error) {
	var s model.Submission
	err := r.DB.First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubmissionRepository) FindDraft(userID uint, quizID string) (*model.Submission, error) {
	var s model.Submission
	err := r.DB.Where("user_id = ? AND quiz_id = ? AND status = ?",
		userID, quizID, model.SubmissionDraft).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertDraft 同一 (学生, 测验) 只保留一份草稿：存在则原地覆盖作答，否则新建
func (r *SubmissionRepository) UpsertDraft(userID uint, quizID string, answers json.RawMessage) (*model.Submission, error) {
	existing, err := r.FindDraft(userID, quizID)
	if err == nil {
		existing.Answers = answers
		if err := r.DB.Save(existing).Error; err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	draft := &model.Submission{
		UserID:  userID,
		QuizID:  quizID,
		Answers: answers,
		Status:  model.SubmissionDraft,
	}
	if err := r.DB.Create(draft).Error; err != nil {
		return nil, err
	}
	return draft, nil
}

func (r *SubmissionRepository) DeleteDraft(userID uint, quizID string) error {
	return r.DB.Where("user_id = ? AND quiz_id = ? AND status = ?",
		userID, quizID, model.SubmissionDraft).
		Delete(&model.Submission{}).Error
}

// MarkGraded 一次UPDATE写入分数/状态/时间戳，保证评分落库的原子性。
// 覆盖写：重复评分收敛到同一结果
func (r *SubmissionRepository) MarkGraded(id string, score float64, at time.Time) error {
	return r.DB.Model(&model.Submission{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"score":     score,
			"status":    model.SubmissionGraded,
			"graded_at": at,
		}).Error
}

func (r *SubmissionRepository) MarkError(id string) error {
	return r.DB.Model(&model.Submission{}).Where("id = ?", id).
		Update("status", model.SubmissionError).Error
}

func (r *SubmissionRepository) History(userID uint, statuses []string, limit int) ([]model.Submission, error) {
	var ss []model.Submission
	err := r.DB.Where("user_id = ? AND status IN ?", userID, statuses).
		Order("submitted_at desc").
		Limit(limit).
		Find(&ss).Error
	return ss, err
}

// InstructorStats 指定测验集合的活跃学生数与平均分（只统计 Submitted）
func (r *SubmissionRepository) InstructorStats(quizIDs []string) (int64, float64, error) {
	if len(quizIDs) == 0 {
		return 0, 0, nil
	}

	var activeStudents int64
	err := r.DB.Model(&model.Submission{}).
		Where("quiz_id IN ? AND status = ?", quizIDs, model.SubmissionSubmitted).
		Distinct("user_id").
		Count(&activeStudents).Error
	if err != nil {
		return 0, 0, err
	}

	var avg struct {
		AvgScore *float64
	}
	err = r.DB.Model(&model.Submission{}).
		Select("AVG(score) as avg_score").
		Where("quiz_id IN ? AND status = ?", quizIDs, model.SubmissionSubmitted).
		Scan(&avg).Error
	if err != nil {
		return 0, 0, err
	}

	avgScore := 0.0
	if avg.AvgScore != nil {
		avgScore = *avg.AvgScore
	}
	return activeStudents, avgScore, nil
}

// StudentStats 学生完成数与证书数（分数≥70 视为取得证书）
func (r *SubmissionRepository) StudentStats(userID uint) (int64, int64, error) {
	var completed int64
	err := r.DB.Model(&model.Submission{}).
		Where("user_id = ? AND status = ?", userID, model.SubmissionSubmitted).
		Count(&completed).Error
	if err != nil {
		return 0, 0, err
	}

	var certificates int64
	err = r.DB.Model(&model.Submission{}).
		Where("user_id = ? AND status = ? AND score >= ?", userID, model.SubmissionSubmitted, 70).
		Count(&certificates).Error
	if err != nil {
		return 0, 0, err
	}

	return completed, certificates, nil
}
