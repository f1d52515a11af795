package model

import (
	"encoding/json"
	"time"
)

// 题目类型
const (
	QuestionSingleChoice = "single_choice"
	QuestionMultiSelect  = "multi_select"
	QuestionTrueFalse    = "true_false"
	QuestionShortAnswer  = "short_answer"
)

func ValidQuestionType(t string) bool {
	switch t {
	case QuestionSingleChoice, QuestionMultiSelect, QuestionTrueFalse, QuestionShortAnswer:
		return true
	}
	return false
}

// swagger:model Quiz
type Quiz struct {
	UUIDBase
	Title        string     `gorm:"size:255;not null" json:"title"`
	Description  string     `gorm:"type:text" json:"description"`
	InstructorID uint       `gorm:"index;type:bigint unsigned" json:"instructorId"`
	IsPublished  bool       `gorm:"default:false" json:"isPublished"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Duration     int        `gorm:"default:0" json:"duration"` // Minutes
	Questions    []Question `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// Question 测验题目。CorrectAnswer 为混合类型：
// multi_select 存字符串数组，其余类型存单个字符串
// swagger:model Question
type Question struct {
	UUIDBase
	QuizID        string          `gorm:"index;type:varchar(36)" json:"quizId"`
	Text          string          `gorm:"type:text;not null" json:"text"`
	Type          string          `gorm:"size:50;not null" json:"type"`
	Options       json.RawMessage `gorm:"type:json" json:"options,omitempty"`
	CorrectAnswer json.RawMessage `gorm:"type:json" json:"correctAnswer,omitempty"`
	Points        int             `gorm:"default:1" json:"points"`
	Order         int             `gorm:"default:0" json:"order"`
}

func (Question) TableName() string {
	return "questions"
}

// CorrectText 解析单值类型的正确答案
func (q *Question) CorrectText() (string, bool) {
	var s string
	if err := json.Unmarshal(q.CorrectAnswer, &s); err != nil {
		return "", false
	}
	return s, true
}

// CorrectSet 解析 multi_select 的正确答案集合
func (q *Question) CorrectSet() ([]string, bool) {
	var vals []string
	if err := json.Unmarshal(q.CorrectAnswer, &vals); err != nil {
		return nil, false
	}
	return vals, true
}

// OptionList 解析选项列表（short_answer 为空）
func (q *Question) OptionList() []string {
	var opts []string
	if len(q.Options) == 0 {
		return opts
	}
	_ = json.Unmarshal(q.Options, &opts)
	return opts
}

// QuizTemplate 学生端测验模版，不含正确答案
type QuizTemplate struct {
	QuizID    string             `json:"quizId"`
	Title     string             `json:"title"`
	Questions []TemplateQuestion `json:"questions"`
}

type TemplateQuestion struct {
	QuestionID string          `json:"questionId"`
	Text       string          `json:"text"`
	Type       string          `json:"type"`
	Options    json.RawMessage `json:"options,omitempty"`
	Points     int             `json:"points"`
}

// Template 生成去除答案的模版
func (qz *Quiz) Template() *QuizTemplate {
	t := &QuizTemplate{
		QuizID:    qz.ID,
		Title:     qz.Title,
		Questions: make([]TemplateQuestion, len(qz.Questions)),
	}
	for i, q := range qz.Questions {
		t.Questions[i] = TemplateQuestion{
			QuestionID: q.ID,
			Text:       q.Text,
			Type:       q.Type,
			Options:    q.Options,
			Points:     q.Points,
		}
	}
	return t
}

// TotalPoints 测验总分
func (qz *Quiz) TotalPoints() int {
	total := 0
	for _, q := range qz.Questions {
		total += q.Points
	}
	return total
}
