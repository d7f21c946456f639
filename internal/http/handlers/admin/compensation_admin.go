package admin

import (
	"errors"
	"strings"

	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/http/response"
	"github.com/stockpilot/internal/worker"

	"github.com/gin-gonic/gin"
)

// RunCompensationRequest 手动补偿请求，task 为空时执行两类订单补偿
type RunCompensationRequest struct {
	Task string `json:"task"`
}

// RunCompensation 手动触发补偿
func (h *Handler) RunCompensation(c *gin.Context) {
	var req RunCompensationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, response.CodeBadRequest, "请求参数错误", err)
			return
		}
	}
	tasks := []string{constants.ReconcileTaskUnpaidOrders, constants.ReconcileTaskPaidUndeducted}
	if task := strings.TrimSpace(req.Task); task != "" {
		tasks = []string{task}
	}
	results := make(map[string]interface{}, len(tasks))
	for _, task := range tasks {
		if !h.runTask(c, task, results) {
			return
		}
	}
	requestLog(c).Infow("admin_compensation_run", "operator", getOperator(c), "tasks", tasks)
	response.Success(c, results)
}

// ListReconcileTasks 对账任务列表
func (h *Handler) ListReconcileTasks(c *gin.Context) {
	if h.Reconciler == nil {
		response.Success(c, []string{})
		return
	}
	response.Success(c, h.Reconciler.TaskNames())
}

// RunReconcileTask 手动执行任一对账任务
func (h *Handler) RunReconcileTask(c *gin.Context) {
	task := strings.TrimSpace(c.Param("task"))
	results := make(map[string]interface{}, 1)
	if !h.runTask(c, task, results) {
		return
	}
	requestLog(c).Infow("admin_reconcile_task_run", "operator", getOperator(c), "task", task)
	response.Success(c, results)
}

func (h *Handler) runTask(c *gin.Context, task string, results map[string]interface{}) bool {
	if h.Reconciler == nil {
		respondError(c, response.CodeServiceUnavailable, "对账调度未初始化", nil)
		return false
	}
	result, err := h.Reconciler.RunTask(c.Request.Context(), task)
	if err != nil {
		if errors.Is(err, worker.ErrUnknownTask) {
			respondError(c, response.CodeBadRequest, "未知的对账任务: "+task, nil)
			return false
		}
		respondServiceError(c, err)
		return false
	}
	results[task] = result
	return true
}
