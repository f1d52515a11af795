package controller

import (
	"encoding/json"
	"errors"
	"io"
	"qms_backend/internal/model"
	"qms_backend/internal/service"
	"qms_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type SubmissionController struct {
	Grading *service.GradingService
	Quizzes *service.QuizService
}

func NewSubmissionController(grading *service.GradingService, quizzes *service.QuizService) *SubmissionController {
	return &SubmissionController{Grading: grading, Quizzes: quizzes}
}

// handleServiceError 评分子系统错误到HTTP状态码的统一映射
func handleServiceError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrValidation):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrQuizNotFound),
		errors.Is(err, util.ErrSubmissionNotFound),
		errors.Is(err, util.ErrDraftNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrQuizNotPublished):
		util.Error(ctx, 403, "测验尚未发布")
	case errors.Is(err, util.ErrQuizServiceUnavailable):
		util.ServiceUnavailable(ctx, "测验服务暂不可用，请稍后重试")
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	default:
		util.LogInternalError(ctx, err)
	}
}

// @Summary 提交测验答案（同步评分）
// @Tags 测验提交
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.SubmitRequest true "答卷"
// @Success 201 {object} util.Response
// @Router /api/submissions [post]
func (c *SubmissionController) Submit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Grading.Submit(ctx.Request.Context(), user.UserID, ctx.GetHeader("Authorization"), req)
	if err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Created(ctx, result)
}

// @Summary 保存答题草稿
// @Tags 测验提交
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.SubmitRequest true "草稿内容"
// @Success 200 {object} util.Response
// @Router /api/submissions/draft [post]
func (c *SubmissionController) SaveDraft(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	draft, err := c.Grading.SaveDraft(user.UserID, req)
	if err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Success(ctx, draft)
}

type finalizeRequest struct {
	QuizID string `json:"quizId" binding:"required"`
}

// @Summary 定稿草稿并排队异步评分
// @Tags 测验提交
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body finalizeRequest true "测验ID"
// @Success 202 {object} util.Response
// @Router /api/submissions/finalize [post]
func (c *SubmissionController) FinalizeDraft(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req finalizeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	submission, err := c.Grading.FinalizeDraft(ctx.Request.Context(), user.UserID, req.QuizID)
	if err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Accepted(ctx, submission)
}

// @Summary 上传离线答卷文件（JSON）
// @Tags 测验提交
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "离线答卷JSON文件"
// @Success 201 {object} util.Response
// @Router /api/submissions/upload [post]
func (c *SubmissionController) UploadSubmission(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "缺少答卷文件")
		return
	}
	if file.Size > 1<<20 {
		util.BadRequest(ctx, "答卷文件过大")
		return
	}

	f, err := file.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	var req service.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		util.BadRequest(ctx, "答卷文件不是合法的JSON")
		return
	}

	result, err := c.Grading.Submit(ctx.Request.Context(), user.UserID, ctx.GetHeader("Authorization"), req)
	if err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Created(ctx, result)
}

// @Summary 获取学生最近的测验记录
// @Tags 测验提交
// @Produce json
// @Security BearerAuth
// @Param userId path int true "学生ID"
// @Param limit query int false "条数上限，默认5"
// @Success 200 {object} util.Response
// @Router /api/submissions/history/{userId} [get]
func (c *SubmissionController) History(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	targetID, err := strconv.Atoi(ctx.Param("userId"))
	if err != nil {
		util.BadRequest(ctx, "invalid userId")
		return
	}

	// 学生只能查看自己的记录
	if user.UserID != uint(targetID) && user.Role != model.Teacher && user.Role != model.Admin {
		util.Forbidden(ctx)
		return
	}

	limit := 5
	if limitStr := ctx.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			limit = n
		}
	}

	history, err := c.Grading.History(ctx.Request.Context(), uint(targetID), limit, ctx.GetHeader("Authorization"))
	if err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Success(ctx, history)
}

// @Summary 学生学习统计
// @Tags 测验提交
// @Produce json
// @Security BearerAuth
// @Param userId path int true "学生ID"
// @Success 200 {object} util.Response
// @Router /api/submissions/stats/student/{userId} [get]
func (c *SubmissionController) StudentStats(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	targetID, err := strconv.Atoi(ctx.Param("userId"))
	if err != nil {
		util.BadRequest(ctx, "invalid userId")
		return
	}

	if user.UserID != uint(targetID) && user.Role != model.Teacher && user.Role != model.Admin {
		util.Forbidden(ctx)
		return
	}

	stats, err := c.Grading.GetStudentStats(uint(targetID))
	if err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Success(ctx, stats)
}

// @Summary 教师端：名下测验的整体统计
// @Tags 测验提交
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/teacher/submissions/stats [get]
func (c *SubmissionController) InstructorStats(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	quizzes, err := c.Quizzes.ListByInstructor(user.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	quizIDs := make([]string, len(quizzes))
	for i, q := range quizzes {
		quizIDs[i] = q.ID
	}

	stats, err := c.Grading.GetInstructorStats(quizIDs)
	if err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Success(ctx, stats)
}

// @Summary 教师端：重新评分
// @Tags 测验提交
// @Produce json
// @Security BearerAuth
// @Param id path string true "提交ID"
// @Success 202 {object} util.Response
// @Router /api/teacher/submissions/{id}/regrade [post]
func (c *SubmissionController) Regrade(ctx *gin.Context) {
	id := ctx.Param("id")
	if id == "" {
		util.BadRequest(ctx, "invalid id")
		return
	}

	if err := c.Grading.Regrade(ctx.Request.Context(), id); err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Accepted(ctx, gin.H{"submissionId": id})
}
