// Package scoring 实现提交评分算法。同步提交与异步 worker 共用同一入口，
// 保证两条评分路径不会各自漂移。
package scoring

import (
	"math"
	"strings"

	"qms_backend/internal/model"
)

// Score 对一次作答计算原始得分（按题累加后保留一位小数）。
// 纯函数：无I/O、无副作用，对同一 (questions, answers) 输入结果恒定。
// 未作答的题目计0分；作答引用不存在的题目直接忽略；单题解析失败不影响整卷。
func Score(questions []model.Question, answers []model.Answer) float64 {
	byQuestion := make(map[string]*model.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}

	total := 0.0
	for i := range questions {
		q := &questions[i]
		ans, ok := byQuestion[q.ID]
		if !ok {
			continue
		}
		total += scoreQuestion(q, ans)
	}

	return math.Round(total*10) / 10
}

func scoreQuestion(q *model.Question, ans *model.Answer) float64 {
	points := q.Points
	if points < 0 {
		points = 0
	}

	switch q.Type {
	case model.QuestionSingleChoice, model.QuestionTrueFalse, model.QuestionShortAnswer:
		return scoreExact(q, ans, points)
	case model.QuestionMultiSelect:
		return scoreMultiSelect(q, ans, points)
	default:
		// 未知题型不让整卷失败
		return 0
	}
}

// scoreExact 精确匹配：忽略首尾空白和大小写，不做模糊匹配
func scoreExact(q *model.Question, ans *model.Answer, points int) float64 {
	correct, ok := q.CorrectText()
	if !ok {
		return 0
	}
	selected, ok := ans.SelectedText()
	if !ok {
		return 0
	}
	if normalize(selected) == normalize(correct) {
		return float64(points)
	}
	return 0
}

// scoreMultiSelect 部分给分：max(0, (命中数-误选数)/|正确集|) * points。
// 分母固定为正确集大小（而非正确∪所选），与线上评分口径保持一致。
func scoreMultiSelect(q *model.Question, ans *model.Answer, points int) float64 {
	correctVals, ok := q.CorrectSet()
	if !ok {
		return 0
	}
	selectedVals, ok := ans.SelectedSet()
	if !ok {
		return 0
	}

	correctSet := toSet(correctVals)
	if len(correctSet) == 0 {
		// 空正确集属于出题错误，避免除零
		return 0
	}
	userSet := toSet(selectedVals)

	matched := 0
	for v := range userSet {
		if _, hit := correctSet[v]; hit {
			matched++
		}
	}
	incorrect := len(userSet) - matched

	partial := float64(matched-incorrect) / float64(len(correctSet)) * float64(points)
	return math.Max(0, partial)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// toSet 归一化并去重
func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[normalize(v)] = struct{}{}
	}
	return set
}
