package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"qms_backend/internal/model"
	"qms_backend/internal/util"
	"testing"
	"time"
)

func writeEnvelope(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    200,
		"message": "success",
		"data":    data,
	})
}

func TestGetQuiz(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/quizzes/quiz-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		quiz := model.Quiz{Title: "远程测验"}
		quiz.ID = "quiz-1"
		writeEnvelope(w, quiz)
	}))
	defer srv.Close()

	c := NewQuizClient(srv.URL, 5*time.Second)
	quiz, err := c.GetQuiz(context.Background(), "quiz-1", "Bearer token-xyz")
	if err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	if quiz.Title != "远程测验" {
		t.Errorf("title = %q", quiz.Title)
	}
	// 调用方的授权上下文要原样转发
	if gotAuth != "Bearer token-xyz" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestGetQuizNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewQuizClient(srv.URL, 5*time.Second)
	if _, err := c.GetQuiz(context.Background(), "nope", ""); !errors.Is(err, util.ErrQuizNotFound) {
		t.Errorf("err = %v, want ErrQuizNotFound", err)
	}
}

func TestGetQuizServerErrorMapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewQuizClient(srv.URL, 5*time.Second)
	if _, err := c.GetQuiz(context.Background(), "quiz-1", ""); !errors.Is(err, util.ErrQuizServiceUnavailable) {
		t.Errorf("err = %v, want ErrQuizServiceUnavailable", err)
	}
}

func TestGetQuizNetworkErrorMapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 立即关掉，模拟网络故障

	c := NewQuizClient(srv.URL, time.Second)
	if _, err := c.GetQuiz(context.Background(), "quiz-1", ""); !errors.Is(err, util.ErrQuizServiceUnavailable) {
		t.Errorf("err = %v, want ErrQuizServiceUnavailable", err)
	}
}

func TestGetBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/quizzes/batch" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "a,b" {
			t.Errorf("ids = %q", got)
		}
		qa := model.Quiz{Title: "A"}
		qa.ID = "a"
		qb := model.Quiz{Title: "B"}
		qb.ID = "b"
		writeEnvelope(w, []model.Quiz{qa, qb})
	}))
	defer srv.Close()

	c := NewQuizClient(srv.URL, 5*time.Second)
	result, err := c.GetBatch(context.Background(), []string{"a", "b"}, "")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(result) != 2 || result["a"].Title != "A" || result["b"].Title != "B" {
		t.Errorf("result = %+v", result)
	}
}

func TestGetBatchEmptyIDsSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewQuizClient(srv.URL, 5*time.Second)
	result, err := c.GetBatch(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(result) != 0 || called {
		t.Error("empty id set must not hit the wire")
	}
}

func TestListPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/quizzes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := model.Quiz{Title: "已发布", IsPublished: true}
		q.ID = "p1"
		writeEnvelope(w, []model.Quiz{q})
	}))
	defer srv.Close()

	c := NewQuizClient(srv.URL, 5*time.Second)
	quizzes, err := c.ListPublished(context.Background(), "")
	if err != nil {
		t.Fatalf("ListPublished: %v", err)
	}
	if len(quizzes) != 1 || quizzes[0].ID != "p1" {
		t.Errorf("quizzes = %+v", quizzes)
	}
}
