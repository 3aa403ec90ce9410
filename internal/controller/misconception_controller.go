package controller

import (
	"elevenplus_backend/internal/service"
	"elevenplus_backend/internal/util"
	"elevenplus_backend/pkg/logger"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MisconceptionController 这三个接口直接返回约定的 JSON 结构，不套统一响应
type MisconceptionController struct {
	Processor   *service.QueueProcessorService
	Analyzer    *service.PatternAnalyzerService
	Explanation *service.ExplanationService
}

func NewMisconceptionController(
	processor *service.QueueProcessorService,
	analyzer *service.PatternAnalyzerService,
	explanation *service.ExplanationService,
) *MisconceptionController {
	return &MisconceptionController{
		Processor:   processor,
		Analyzer:    analyzer,
		Explanation: explanation,
	}
}

// ProcessQueue godoc
// @Summary 处理误区解释队列
// @Description 认领一批待处理项并生成解释，供定时任务调用
// @Tags 误区
// @Produce json
// @Param X-Cron-Token header string false "定时任务令牌"
// @Success 200 {object} service.ProcessResult
// @Failure 500 {object} object
// @Router /api/internal/misconceptions/process-queue [post]
func (c *MisconceptionController) ProcessQueue(ctx *gin.Context) {
	result, err := c.Processor.ProcessBatch(ctx.Request.Context())
	if err != nil {
		logger.Log.Error("Queue processing failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// swagger:model PatternRequest
type PatternRequest struct {
	StudentID uint `json:"student_id" binding:"required"`
	Threshold int  `json:"threshold"`
}

// AnalyzePatterns godoc
// @Summary 误区模式分析
// @Description 汇总学生历史误区，按频次分级并给出建议
// @Tags 误区
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body PatternRequest true "学生与阈值，阈值默认 3"
// @Success 200 {object} service.PatternAnalysis
// @Failure 400 {object} object
// @Router /api/misconceptions/patterns [post]
func (c *MisconceptionController) AnalyzePatterns(ctx *gin.Context) {
	var req PatternRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !util.GetUserFromContext(ctx).CanActFor(req.StudentID) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	analysis, err := c.Analyzer.Analyze(ctx.Request.Context(), req.StudentID, req.Threshold)
	if err != nil {
		if errors.Is(err, util.ErrInvalidThreshold) || errors.Is(err, util.ErrInvalidStudentID) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Log.Error("Pattern analysis failed", zap.Uint("studentID", req.StudentID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Pattern analysis failed"})
		return
	}
	ctx.JSON(http.StatusOK, analysis)
}

// swagger:model ExplainRequest
type ExplainRequest struct {
	StudentID uint `json:"student_id"`
	service.MistakeContext
}

// Explain godoc
// @Summary 生成误区解释
// @Description 传 student_id 时总结该学生的常见误区，否则针对单道错题解释
// @Tags 误区
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body ExplainRequest true "学生或错题信息"
// @Success 200 {object} service.ExplanationResult
// @Failure 500 {object} object "所有模型均失败时附带兜底文案"
// @Router /api/misconceptions/explain [post]
func (c *MisconceptionController) Explain(ctx *gin.Context) {
	var req ExplainRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		result *service.ExplanationResult
		err    error
	)
	if req.StudentID != 0 {
		if !util.GetUserFromContext(ctx).CanActFor(req.StudentID) {
			ctx.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		result, err = c.Explanation.ExplainStudent(ctx.Request.Context(), req.StudentID)
	} else {
		result, err = c.Explanation.ExplainMistake(ctx.Request.Context(), req.MistakeContext)
	}

	if err != nil {
		if errors.Is(err, util.ErrMissingAnswers) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Log.Error("Explanation generation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"error":       "Failed to generate explanation",
			"explanation": util.FallbackExplanation,
			"apiUsed":     service.APIUsedFallback,
		})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// QueueStats godoc
// @Summary 队列监控
// @Description 各状态数量、最老待处理项等待时长、缓存条目数
// @Tags 误区
// @Produce json
// @Success 200 {object} util.Response{data=service.QueueStats}
// @Router /api/internal/misconceptions/queue-stats [get]
func (c *MisconceptionController) QueueStats(ctx *gin.Context) {
	stats, err := c.Processor.Stats(ctx.Request.Context())
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}
