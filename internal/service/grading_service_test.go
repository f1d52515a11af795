package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"qms_backend/internal/model"
	"qms_backend/internal/queue"
	"qms_backend/internal/util"
	"qms_backend/pkg/logger"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

// fakeStore 内存版提交存储
type fakeStore struct {
	submissions map[string]*model.Submission
	drafts      map[string]*model.Submission // key: quizID（测试里单用户）
	nextID      int
	failCreate  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		submissions: make(map[string]*model.Submission),
		drafts:      make(map[string]*model.Submission),
	}
}

func (f *fakeStore) Create(s *model.Submission) error {
	if f.failCreate {
		return errors.New("db down")
	}
	f.nextID++
	s.ID = model.GenerateUUID()
	f.submissions[s.ID] = s
	return nil
}

func (f *fakeStore) Update(s *model.Submission) error {
	f.submissions[s.ID] = s
	return nil
}

func (f *fakeStore) FindByID(id string) (*model.Submission, error) {
	s, ok := f.submissions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func (f *fakeStore) FindDraft(userID uint, quizID string) (*model.Submission, error) {
	d, ok := f.drafts[quizID]
	// 真实存储按 status = Draft 过滤，已定稿的记录不再是草稿
	if !ok || d.Status != model.SubmissionDraft {
		return nil, errors.New("not found")
	}
	return d, nil
}

func (f *fakeStore) UpsertDraft(userID uint, quizID string, answers json.RawMessage) (*model.Submission, error) {
	if d, ok := f.drafts[quizID]; ok {
		d.Answers = answers
		return d, nil
	}
	d := &model.Submission{
		UserID:  userID,
		QuizID:  quizID,
		Answers: answers,
		Status:  model.SubmissionDraft,
	}
	d.ID = model.GenerateUUID()
	f.drafts[quizID] = d
	f.submissions[d.ID] = d
	return d, nil
}

func (f *fakeStore) DeleteDraft(userID uint, quizID string) error {
	delete(f.drafts, quizID)
	return nil
}

func (f *fakeStore) MarkGraded(id string, score float64, at time.Time) error {
	s, ok := f.submissions[id]
	if !ok {
		return errors.New("not found")
	}
	s.Score = &score
	s.Status = model.SubmissionGraded
	s.GradedAt = &at
	return nil
}

func (f *fakeStore) MarkError(id string) error {
	s, ok := f.submissions[id]
	if !ok {
		return errors.New("not found")
	}
	s.Status = model.SubmissionError
	return nil
}

func (f *fakeStore) History(userID uint, statuses []string, limit int) ([]model.Submission, error) {
	allowed := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}
	var out []model.Submission
	for _, s := range f.submissions {
		if s.UserID == userID && allowed[s.Status] {
			out = append(out, *s)
		}
	}
	// 与真实存储一致：submitted_at 倒序，再截断
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].SubmittedAt, out[j].SubmittedAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return ti.After(*tj)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) InstructorStats(quizIDs []string) (int64, float64, error) {
	return 3, 82.4, nil
}

func (f *fakeStore) StudentStats(userID uint) (int64, int64, error) {
	return 5, 2, nil
}

// fakeQuizzes 固定测验集
type fakeQuizzes struct {
	quizzes  map[string]*model.Quiz
	getCalls int
}

func (f *fakeQuizzes) GetQuiz(ctx context.Context, quizID, authHeader string) (*model.Quiz, error) {
	f.getCalls++
	q, ok := f.quizzes[quizID]
	if !ok {
		return nil, util.ErrQuizNotFound
	}
	return q, nil
}

func (f *fakeQuizzes) GetBatch(ctx context.Context, ids []string, authHeader string) (map[string]model.Quiz, error) {
	out := make(map[string]model.Quiz)
	for _, id := range ids {
		if q, ok := f.quizzes[id]; ok {
			out[id] = *q
		}
	}
	return out, nil
}

func (f *fakeQuizzes) ListPublished(ctx context.Context, authHeader string) ([]model.Quiz, error) {
	var out []model.Quiz
	for _, q := range f.quizzes {
		out = append(out, *q)
	}
	return out, nil
}

type fakeQueue struct {
	jobs []queue.GradingJob
	fail bool
}

func (f *fakeQueue) Enqueue(ctx context.Context, job queue.GradingJob) error {
	if f.fail {
		return errors.New("queue down")
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func testQuiz(t *testing.T) *model.Quiz {
	quiz := &model.Quiz{
		Title:       "Go基础测验",
		IsPublished: true,
		Questions: []model.Question{
			{Type: model.QuestionTrueFalse, CorrectAnswer: rawJSON(t, "true"), Points: 5},
			{Type: model.QuestionMultiSelect, CorrectAnswer: rawJSON(t, []string{"A", "B"}), Points: 10},
		},
	}
	quiz.ID = "quiz-1"
	quiz.Questions[0].ID = "q1"
	quiz.Questions[1].ID = "q2"
	return quiz
}

func newTestService(t *testing.T) (*GradingService, *fakeStore, *fakeQuizzes, *fakeQueue) {
	store := newFakeStore()
	quizzes := &fakeQuizzes{quizzes: map[string]*model.Quiz{"quiz-1": testQuiz(t)}}
	q := &fakeQueue{}
	return NewGradingService(store, quizzes, q), store, quizzes, q
}

func TestSubmitGradesInline(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	req := SubmitRequest{
		QuizID: "quiz-1",
		Answers: []model.Answer{
			{QuestionID: "q1", SelectedValue: rawJSON(t, "TRUE")},
			{QuestionID: "q2", SelectedValue: rawJSON(t, []string{"A"})},
		},
	}

	result, err := svc.Submit(context.Background(), 7, "", req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// 5 (判断题) + (1-0)/2*10 = 10.0
	if result.Score != 10.0 {
		t.Errorf("score = %v, want 10.0", result.Score)
	}

	saved := store.submissions[result.SubmissionID]
	if saved == nil {
		t.Fatal("submission not persisted")
	}
	if saved.Status != model.SubmissionSubmitted {
		t.Errorf("status = %s, want Submitted", saved.Status)
	}
	if saved.Score == nil || *saved.Score != 10.0 {
		t.Errorf("persisted score = %v, want 10.0", saved.Score)
	}
	if saved.SubmittedAt == nil {
		t.Error("submittedAt not set")
	}
}

func TestSubmitQuizLookupFailureLeavesNothing(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	req := SubmitRequest{
		QuizID:  "missing-quiz",
		Answers: []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "true")}},
	}

	_, err := svc.Submit(context.Background(), 7, "", req)
	if !errors.Is(err, util.ErrQuizNotFound) {
		t.Fatalf("err = %v, want ErrQuizNotFound", err)
	}
	if len(store.submissions) != 0 {
		t.Errorf("expected no persisted submissions, got %d", len(store.submissions))
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"空测验ID", SubmitRequest{Answers: []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "x")}}}},
		{"空题目ID", SubmitRequest{QuizID: "quiz-1", Answers: []model.Answer{{SelectedValue: rawJSON(t, "x")}}}},
		{"空作答值", SubmitRequest{QuizID: "quiz-1", Answers: []model.Answer{{QuestionID: "q1"}}}},
		{"null作答值", SubmitRequest{QuizID: "quiz-1", Answers: []model.Answer{{QuestionID: "q1", SelectedValue: json.RawMessage("null")}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Submit(context.Background(), 7, "", tc.req); !errors.Is(err, util.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSubmitDeletesDraft(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	req := SubmitRequest{
		QuizID:  "quiz-1",
		Answers: []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "true")}},
	}

	if _, err := svc.SaveDraft(7, req); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if _, err := svc.Submit(context.Background(), 7, "", req); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := store.drafts["quiz-1"]; ok {
		t.Error("draft should be removed after final submit")
	}
}

func TestSaveDraftUpserts(t *testing.T) {
	svc, store, quizzes, _ := newTestService(t)

	first := SubmitRequest{
		QuizID:  "quiz-1",
		Answers: []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "false")}},
	}
	second := SubmitRequest{
		QuizID:  "quiz-1",
		Answers: []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "true")}},
	}

	d1, err := svc.SaveDraft(7, first)
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	d2, err := svc.SaveDraft(7, second)
	if err != nil {
		t.Fatalf("SaveDraft twice: %v", err)
	}

	if d1.ID != d2.ID {
		t.Errorf("expected same draft record, got %s and %s", d1.ID, d2.ID)
	}
	if len(store.drafts) != 1 {
		t.Errorf("draft count = %d, want 1", len(store.drafts))
	}
	if d2.Score != nil {
		t.Error("draft must not carry a score")
	}
	// 草稿保存不触发取卷和评分
	if quizzes.getCalls != 0 {
		t.Errorf("draft save fetched quiz %d times, want 0", quizzes.getCalls)
	}

	answers, _ := store.drafts["quiz-1"].AnswerList()
	if got, _ := answers[0].SelectedText(); got != "true" {
		t.Errorf("draft answers not overwritten, got %q", got)
	}
}

func TestFinalizeDraftEnqueuesPlaceholder(t *testing.T) {
	svc, _, _, q := newTestService(t)

	req := SubmitRequest{
		QuizID:  "quiz-1",
		Answers: []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "true")}},
	}
	if _, err := svc.SaveDraft(7, req); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}

	sub, err := svc.FinalizeDraft(context.Background(), 7, "quiz-1")
	if err != nil {
		t.Fatalf("FinalizeDraft: %v", err)
	}

	if sub.Status != model.SubmissionSubmitted {
		t.Errorf("status = %s, want Submitted", sub.Status)
	}
	if sub.Score != nil {
		t.Error("placeholder submission must not have a score yet")
	}
	if sub.SubmittedAt == nil {
		t.Error("submittedAt not set")
	}
	if len(q.jobs) != 1 {
		t.Fatalf("queued jobs = %d, want 1", len(q.jobs))
	}
	if q.jobs[0].SubmissionID != sub.ID || q.jobs[0].QuizID != "quiz-1" {
		t.Errorf("job = %+v", q.jobs[0])
	}

	// 没有草稿时报 ErrDraftNotFound
	if _, err := svc.FinalizeDraft(context.Background(), 7, "other-quiz"); !errors.Is(err, util.ErrDraftNotFound) {
		t.Errorf("err = %v, want ErrDraftNotFound", err)
	}
}

func TestFinalizeDraftEnqueueFailureRestoresDraft(t *testing.T) {
	svc, store, _, q := newTestService(t)

	req := SubmitRequest{
		QuizID:  "quiz-1",
		Answers: []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "true")}},
	}
	if _, err := svc.SaveDraft(7, req); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}

	q.fail = true
	if _, err := svc.FinalizeDraft(context.Background(), 7, "quiz-1"); err == nil {
		t.Fatal("expected enqueue failure to surface")
	}

	// 记录必须回到草稿态，不能卡在无任务的占位 Submitted 上
	draft := store.drafts["quiz-1"]
	if draft.Status != model.SubmissionDraft {
		t.Errorf("status = %s, want Draft", draft.Status)
	}
	if draft.SubmittedAt != nil {
		t.Error("submittedAt should be cleared on rollback")
	}
	if len(q.jobs) != 0 {
		t.Errorf("queued jobs = %d, want 0", len(q.jobs))
	}

	// 队列恢复后可以重新定稿
	q.fail = false
	sub, err := svc.FinalizeDraft(context.Background(), 7, "quiz-1")
	if err != nil {
		t.Fatalf("FinalizeDraft retry: %v", err)
	}
	if sub.Status != model.SubmissionSubmitted {
		t.Errorf("status = %s, want Submitted", sub.Status)
	}
	if len(q.jobs) != 1 {
		t.Errorf("queued jobs after retry = %d, want 1", len(q.jobs))
	}
}

func TestProcessJobGrades(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	sub := &model.Submission{
		UserID: 7,
		QuizID: "quiz-1",
		Status: model.SubmissionSubmitted,
	}
	store.Create(sub)

	job := &queue.GradingJob{
		SubmissionID: sub.ID,
		QuizID:       "quiz-1",
		Answers: []model.Answer{
			{QuestionID: "q1", SelectedValue: rawJSON(t, "true")},
			{QuestionID: "q2", SelectedValue: rawJSON(t, []string{"A", "B"})},
		},
	}

	if err := svc.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	if sub.Status != model.SubmissionGraded {
		t.Errorf("status = %s, want Graded", sub.Status)
	}
	if sub.Score == nil || *sub.Score != 15.0 {
		t.Errorf("score = %v, want 15.0", sub.Score)
	}
	if sub.GradedAt == nil {
		t.Error("gradedAt not set")
	}
}

func TestProcessJobIdempotent(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	sub := &model.Submission{UserID: 7, QuizID: "quiz-1", Status: model.SubmissionSubmitted}
	store.Create(sub)

	job := &queue.GradingJob{
		SubmissionID: sub.ID,
		QuizID:       "quiz-1",
		Answers:      []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "true")}},
	}

	// 同一任务重复投递收敛到同一分数
	for i := 0; i < 3; i++ {
		if err := svc.ProcessJob(context.Background(), job); err != nil {
			t.Fatalf("ProcessJob #%d: %v", i, err)
		}
	}

	if sub.Score == nil || *sub.Score != 5.0 {
		t.Errorf("score = %v, want 5.0", sub.Score)
	}
	if sub.Status != model.SubmissionGraded {
		t.Errorf("status = %s, want Graded", sub.Status)
	}
}

func TestProcessJobQuizLookupFailureMarksError(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	sub := &model.Submission{UserID: 7, QuizID: "gone-quiz", Status: model.SubmissionSubmitted}
	store.Create(sub)

	job := &queue.GradingJob{
		SubmissionID: sub.ID,
		QuizID:       "gone-quiz",
		Answers:      []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "true")}},
	}

	if err := svc.ProcessJob(context.Background(), job); err == nil {
		t.Fatal("expected error")
	}
	if sub.Status != model.SubmissionError {
		t.Errorf("status = %s, want Error", sub.Status)
	}
	if sub.Score != nil {
		t.Error("failed submission must not carry a score")
	}
}

func TestRegradeEnqueues(t *testing.T) {
	svc, store, _, q := newTestService(t)

	score := 5.0
	sub := &model.Submission{
		UserID:  7,
		QuizID:  "quiz-1",
		Status:  model.SubmissionGraded,
		Score:   &score,
		Answers: rawJSON(t, []model.Answer{{QuestionID: "q1", SelectedValue: rawJSON(t, "true")}}),
	}
	store.Create(sub)

	if err := svc.Regrade(context.Background(), sub.ID); err != nil {
		t.Fatalf("Regrade: %v", err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("queued jobs = %d, want 1", len(q.jobs))
	}

	if err := svc.Regrade(context.Background(), "no-such-id"); !errors.Is(err, util.ErrSubmissionNotFound) {
		t.Errorf("err = %v, want ErrSubmissionNotFound", err)
	}
}

func TestHistoryEnrichesTitles(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	now := time.Now()
	for _, quizID := range []string{"quiz-1", "quiz-gone"} {
		score := 8.0
		sub := &model.Submission{
			UserID:      7,
			QuizID:      quizID,
			Status:      model.SubmissionGraded,
			Score:       &score,
			SubmittedAt: &now,
		}
		store.Create(sub)
	}
	// 草稿不应出现在历史里
	store.UpsertDraft(7, "quiz-1", rawJSON(t, []model.Answer{}))

	history, err := svc.History(context.Background(), 7, 5, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}

	titles := map[string]string{}
	for _, h := range history {
		titles[h.QuizID] = h.QuizTitle
	}
	if titles["quiz-1"] != "Go基础测验" {
		t.Errorf("quiz-1 title = %q", titles["quiz-1"])
	}
	// 查不到的测验降级为占位标题
	if titles["quiz-gone"] != "Unknown Assessment" {
		t.Errorf("quiz-gone title = %q", titles["quiz-gone"])
	}
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	base := time.Now()
	t1 := base
	t2 := base.Add(time.Hour)
	t3 := base.Add(2 * time.Hour)

	// 乱序写入，排序不能依赖插入顺序
	for _, at := range []time.Time{t2, t3, t1} {
		submittedAt := at
		score := 7.0
		sub := &model.Submission{
			UserID:      7,
			QuizID:      "quiz-1",
			Status:      model.SubmissionGraded,
			Score:       &score,
			SubmittedAt: &submittedAt,
		}
		store.Create(sub)
	}

	history, err := svc.History(context.Background(), 7, 2, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	// 最新的在前：[T3, T2]
	if !history[0].SubmittedAt.Equal(t3) {
		t.Errorf("history[0].submittedAt = %v, want %v", history[0].SubmittedAt, t3)
	}
	if !history[1].SubmittedAt.Equal(t2) {
		t.Errorf("history[1].submittedAt = %v, want %v", history[1].SubmittedAt, t2)
	}
}

func TestStats(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	is, err := svc.GetInstructorStats([]string{"quiz-1"})
	if err != nil {
		t.Fatalf("GetInstructorStats: %v", err)
	}
	if is.ActiveStudents != 3 {
		t.Errorf("activeStudents = %d, want 3", is.ActiveStudents)
	}
	// 82.4 四舍五入为 82
	if is.AvgScore != 82 {
		t.Errorf("avgScore = %d, want 82", is.AvgScore)
	}

	ss, err := svc.GetStudentStats(7)
	if err != nil {
		t.Fatalf("GetStudentStats: %v", err)
	}
	if ss.CompletedCount != 5 || ss.CertificatesCount != 2 {
		t.Errorf("student stats = %+v", ss)
	}
}
