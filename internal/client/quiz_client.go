// Package client 封装对出题方（测验服务）的HTTP访问。
// 评分端的标准答案全部经由这里获取
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"qms_backend/internal/model"
	"qms_backend/internal/util"
	"strings"
	"time"
)

type QuizClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewQuizClient(baseURL string, timeout time.Duration) *QuizClient {
	return &QuizClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// envelope 测验服务的统一响应结构
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *QuizClient) GetQuiz(ctx context.Context, quizID, authHeader string) (*model.Quiz, error) {
	var quiz model.Quiz
	if err := c.get(ctx, "/api/quizzes/"+url.PathEscape(quizID), authHeader, &quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}

// GetBatch 按ID集合批量查询，替代旧的"拉全量再查找"回退逻辑
func (c *QuizClient) GetBatch(ctx context.Context, ids []string, authHeader string) (map[string]model.Quiz, error) {
	result := make(map[string]model.Quiz, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var quizzes []model.Quiz
	path := "/api/quizzes/batch?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.get(ctx, path, authHeader, &quizzes); err != nil {
		return nil, err
	}

	for _, q := range quizzes {
		result[q.ID] = q
	}
	return result, nil
}

func (c *QuizClient) ListPublished(ctx context.Context, authHeader string) ([]model.Quiz, error) {
	var quizzes []model.Quiz
	if err := c.get(ctx, "/api/quizzes", authHeader, &quizzes); err != nil {
		return nil, err
	}
	return quizzes, nil
}

func (c *QuizClient) get(ctx context.Context, path, authHeader string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	// 转发调用方的授权上下文
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrQuizServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return util.ErrQuizNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", util.ErrQuizServiceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("quiz service returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode response: %v", util.ErrQuizServiceUnavailable, err)
	}

	return json.Unmarshal(env.Data, out)
}
