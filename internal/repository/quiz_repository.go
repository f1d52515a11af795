package repository

import (
	"qms_backend/internal/model"

	"gorm.io/gorm"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

func (r *QuizRepository) Create(quiz *model.Quiz) error {
	return r.DB.Create(quiz).Error
}

func (r *QuizRepository) FindByID(id string) (*model.Quiz, error) {
	var quiz model.Quiz
	err := r.DB.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("`order` asc, created_at asc")
	}).First(&quiz, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

// FindByIDs 批量查询，历史记录标题补充用
func (r *QuizRepository) FindByIDs(ids []string) ([]model.Quiz, error) {
	var quizzes []model.Quiz
	if len(ids) == 0 {
		return quizzes, nil
	}
	err := r.DB.Where("id IN ?", ids).Find(&quizzes).Error
	return quizzes, err
}

func (r *QuizRepository) ListPublished() ([]model.Quiz, error) {
	var quizzes []model.Quiz
	err := r.DB.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("`order` asc, created_at asc")
	}).Where("is_published = ?", true).
		Order("created_at desc").
		Find(&quizzes).Error
	return quizzes, err
}

func (r *QuizRepository) ListByInstructor(instructorID uint) ([]model.Quiz, error) {
	var quizzes []model.Quiz
	err := r.DB.Where("instructor_id = ?", instructorID).
		Order("created_at desc").
		Find(&quizzes).Error
	return quizzes, err
}

// Update 整体覆盖测验及其题目
func (r *QuizRepository) Update(quiz *model.Quiz) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("quiz_id = ?", quiz.ID).Delete(&model.Question{}).Error; err != nil {
			return err
		}
		return tx.Save(quiz).Error
	})
}

func (r *QuizRepository) Delete(id string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("quiz_id = ?", id).Delete(&model.Question{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Quiz{}, "id = ?", id).Error
	})
}

func (r *QuizRepository) Publish(id string) error {
	return r.DB.Model(&model.Quiz{}).Where("id = ?", id).
		Update("is_published", true).Error
}
