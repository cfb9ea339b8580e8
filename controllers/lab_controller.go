// file: controllers/lab_controller.go
package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/dto"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/services"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

// LabController 处理实验容器的启停与查询。
type LabController struct {
	labs       *services.LabService
	reconciler *services.Reconciler
}

func NewLabController(labs *services.LabService, reconciler *services.Reconciler) *LabController {
	return &LabController{labs: labs, reconciler: reconciler}
}

// Start 启动实验容器
func (lc *LabController) Start(c *gin.Context) {
	var req dto.StartLabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "参数无效: "+err.Error())
		return
	}

	info, err := lc.labs.StartLab(c.Request.Context(), currentUserID(c), req.LabType)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, "实验启动成功", info)
}

// Stop 停止实验容器
func (lc *LabController) Stop(c *gin.Context) {
	var req dto.StopLabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "参数无效: "+err.Error())
		return
	}

	if err := lc.labs.StopLab(c.Request.Context(), currentUserID(c), req.PodName); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, "实验已停止", nil)
}

// Active 查询当前用户的活跃实验。先对账，保证返回的记录都对应真实 Pod。
func (lc *LabController) Active(c *gin.Context) {
	userID := currentUserID(c)
	lc.reconciler.PruneUserLabs(c.Request.Context(), userID)

	infos, err := lc.labs.ActiveLabs(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, "查询成功", gin.H{"labs": infos})
}
