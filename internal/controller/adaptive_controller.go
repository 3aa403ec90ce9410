package controller

import (
	"elevenplus_backend/internal/service"
	"elevenplus_backend/internal/util"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
)

type AdaptiveController struct {
	WeightingService *service.AdaptiveWeightingService
}

func NewAdaptiveController(weightingService *service.AdaptiveWeightingService) *AdaptiveController {
	return &AdaptiveController{WeightingService: weightingService}
}

// WeightedQuestions godoc
// @Summary 自适应选题
// @Description 根据学生的正确率与信心画像为候选题加权排序
// @Tags 自适应
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.WeightingRequest true "选题参数"
// @Success 200 {object} util.Response{data=service.WeightingResult}
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/adaptive/questions [post]
func (c *AdaptiveController) WeightedQuestions(ctx *gin.Context) {
	var req service.WeightingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if !util.GetUserFromContext(ctx).CanActFor(req.StudentID) {
		util.Forbidden(ctx)
		return
	}

	result, err := c.WeightingService.GetConfidenceWeightedQuestions(ctx.Request.Context(), req)
	if err != nil {
		if errors.Is(err, util.ErrInvalidConfidence) || errors.Is(err, util.ErrInvalidStudentID) {
			util.BadRequest(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// StudentProfile godoc
// @Summary 学生信心画像
// @Description 教师查看学生各知识点的正确率、信心以及过度自信/信心不足的知识点
// @Tags 自适应
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "学生ID"
// @Success 200 {object} util.Response{data=service.StudentProfile}
// @Failure 400 {object} util.Response "学生ID无效"
// @Router /api/teacher/students/{id}/profile [get]
func (c *AdaptiveController) StudentProfile(ctx *gin.Context) {
	studentID, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil || studentID == 0 {
		util.BadRequest(ctx, util.ErrInvalidStudentID.Error())
		return
	}

	profile, err := c.WeightingService.StudentProfile(ctx.Request.Context(), uint(studentID))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, profile)
}
