package controller

import (
	"elevenplus_backend/internal/service"
	"elevenplus_backend/internal/util"
	"errors"

	"github.com/gin-gonic/gin"
)

type AnswerController struct {
	AnswerService *service.AnswerService
}

func NewAnswerController(answerService *service.AnswerService) *AnswerController {
	return &AnswerController{AnswerService: answerService}
}

// SubmitAnswer godoc
// @Summary 提交答案
// @Description 记录作答并识别误区；缓存命中直接返回解释，否则进入解释生成队列
// @Tags 作答
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.SubmitAnswerRequest true "作答信息"
// @Success 200 {object} util.Response{data=service.SubmitAnswerResult}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 403 {object} util.Response "无权代他人作答"
// @Failure 404 {object} util.Response "题目不存在"
// @Router /api/answers [post]
func (c *AnswerController) SubmitAnswer(ctx *gin.Context) {
	var req service.SubmitAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if !util.GetUserFromContext(ctx).CanActFor(req.StudentID) {
		util.Forbidden(ctx)
		return
	}

	result, err := c.AnswerService.SubmitAnswer(ctx.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrQuestionNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrInvalidConfidence):
			util.BadRequest(ctx, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, result)
}
