package controller

import (
	"io"
	"qms_backend/internal/service"
	"qms_backend/internal/util"
	"strings"

	"github.com/gin-gonic/gin"
)

type QuizController struct {
	Service *service.QuizService
}

func NewQuizController(svc *service.QuizService) *QuizController {
	return &QuizController{Service: svc}
}

// @Summary 创建测验
// @Tags 测验管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.QuizRequest true "测验内容"
// @Success 201 {object} util.Response
// @Router /api/teacher/quizzes [post]
func (c *QuizController) Create(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.QuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	quiz, err := c.Service.Create(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		handleServiceError(ctx, err)
		return
	}

	util.Created(ctx, quiz)
}

// @Summary 获取已发布测验列表
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/quizzes [get]
func (c *QuizController) ListPublished(ctx *gin.Context) {
	quizzes, err := c.Service.ListPublished()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, quizzes)
}

// @Summary 教师端：获取名下测验列表
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes [get]
func (c *QuizController) ListMine(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	quizzes, err := c.Service.ListByInstructor(user.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, quizzes)
}

// @Summary 获取测验详情（含答案，仅教师）
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id} [get]
func (c *QuizController) Get(ctx *gin.Context) {
	quiz, err := c.Service.Get(ctx.Param("id"))
	if err != nil {
		handleServiceError(ctx, err)
		return
	}
	util.Success(ctx, quiz)
}

// @Summary 批量获取测验
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param ids query string true "逗号分隔的测验ID"
// @Success 200 {object} util.Response
// @Router /api/quizzes/batch [get]
func (c *QuizController) GetBatch(ctx *gin.Context) {
	idsParam := ctx.Query("ids")
	if idsParam == "" {
		util.BadRequest(ctx, "ids 参数不能为空")
		return
	}

	ids := make([]string, 0)
	for _, id := range strings.Split(idsParam, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	quizzes, err := c.Service.GetBatch(ids)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, quizzes)
}

// @Summary 学生端：获取答题模版（不含答案）
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/quizzes/{id}/template [get]
func (c *QuizController) GetTemplate(ctx *gin.Context) {
	template, err := c.Service.GetTemplate(ctx.Param("id"))
	if err != nil {
		handleServiceError(ctx, err)
		return
	}
	util.Success(ctx, template)
}

// @Summary 更新测验
// @Tags 测验管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param body body service.QuizRequest true "测验内容"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id} [put]
func (c *QuizController) Update(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.QuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	quiz, err := c.Service.Update(ctx.Request.Context(), user.UserID, user.Role, ctx.Param("id"), req)
	if err != nil {
		handleServiceError(ctx, err)
		return
	}
	util.Success(ctx, quiz)
}

// @Summary 删除测验
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id} [delete]
func (c *QuizController) Delete(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.Service.Delete(ctx.Request.Context(), user.UserID, user.Role, ctx.Param("id")); err != nil {
		handleServiceError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 发布测验
// @Tags 测验管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/quizzes/{id}/publish [post]
func (c *QuizController) Publish(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.Service.Publish(ctx.Request.Context(), user.UserID, user.Role, ctx.Param("id")); err != nil {
		handleServiceError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 从JSON文件导入测验
// @Tags 测验管理
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "测验JSON文件"
// @Success 201 {object} util.Response
// @Router /api/teacher/quizzes/import [post]
func (c *QuizController) Import(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "缺少测验文件")
		return
	}
	if file.Size > 5<<20 {
		util.BadRequest(ctx, "测验文件过大")
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

	quizzes, err := c.Service.ImportJSON(ctx.Request.Context(), user.UserID, data)
	if err != nil {
		handleServiceError(ctx, err)
		return
	}
	util.Created(ctx, quizzes)
}
