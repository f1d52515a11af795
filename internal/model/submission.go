package model

import (
	"encoding/json"
	"time"
)

// 提交状态机：Draft → Submitted → Graded | Error
// 同步路径直接写入 Submitted（带分数）；异步路径先占位 Submitted 再由 worker 终结
const (
	SubmissionDraft     = "Draft"
	SubmissionSubmitted = "Submitted"
	SubmissionCompleted = "Completed"
	SubmissionGraded    = "Graded"
	SubmissionError     = "Error"
)

// Answer 单题作答。SelectedValue 为混合类型：
// multi_select 传字符串数组，其余类型传单个字符串
type Answer struct {
	QuestionID    string          `json:"questionId"`
	SelectedValue json.RawMessage `json:"selectedValue"`
}

// SelectedText 解析单值作答
func (a *Answer) SelectedText() (string, bool) {
	var s string
	if err := json.Unmarshal(a.SelectedValue, &s); err != nil {
		return "", false
	}
	return s, true
}

// SelectedSet 解析多选作答
func (a *Answer) SelectedSet() ([]string, bool) {
	var vals []string
	if err := json.Unmarshal(a.SelectedValue, &vals); err != nil {
		return nil, false
	}
	return vals, true
}

// swagger:model Submission
type Submission struct {
	UUIDBase
	UserID      uint            `gorm:"index;type:bigint unsigned" json:"userId"`
	QuizID      string          `gorm:"index;type:varchar(36)" json:"quizId"`
	Answers     json.RawMessage `gorm:"type:json" json:"answers"`
	Score       *float64        `json:"score,omitempty"` // 评分前为空，Draft 状态下恒为空
	Status      string          `gorm:"size:20;index;default:'Draft'" json:"status"`
	SubmittedAt *time.Time      `json:"submittedAt,omitempty"`
	GradedAt    *time.Time      `json:"gradedAt,omitempty"`

	// 历史记录查询时由批量测验查询补充，不落库
	QuizTitle string `gorm:"-" json:"quizTitle,omitempty"`
}

func (Submission) TableName() string {
	return "submissions"
}

// AnswerList 解析已存储的作答
func (s *Submission) AnswerList() ([]Answer, error) {
	var answers []Answer
	if len(s.Answers) == 0 {
		return answers, nil
	}
	err := json.Unmarshal(s.Answers, &answers)
	return answers, err
}
