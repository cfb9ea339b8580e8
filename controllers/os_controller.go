// file: controllers/os_controller.go
package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/dto"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/services"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

// OSController 处理桌面 (pwnbox) 容器的启停、重启与状态查询。
type OSController struct {
	labs       *services.LabService
	reconciler *services.Reconciler
}

func NewOSController(labs *services.LabService, reconciler *services.Reconciler) *OSController {
	return &OSController{labs: labs, reconciler: reconciler}
}

// Start 启动桌面容器（会先驱逐该用户的全部旧桌面）
func (oc *OSController) Start(c *gin.Context) {
	var req dto.StartOSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "参数无效: "+err.Error())
		return
	}

	info, err := oc.labs.StartOS(c.Request.Context(), currentUserID(c), req.OSType)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, "桌面容器启动成功", info)
}

// Stop 停止桌面容器
func (oc *OSController) Stop(c *gin.Context) {
	var req dto.StopOSRequest
	// podName 可为空（停止全部），body 缺失也容忍
	_ = c.ShouldBindJSON(&req)

	if err := oc.labs.StopOS(c.Request.Context(), currentUserID(c), req.PodName); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, "桌面容器已停止", nil)
}

// Restart 重启桌面容器，返回新一代容器信息
func (oc *OSController) Restart(c *gin.Context) {
	var req dto.RestartOSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "参数无效: "+err.Error())
		return
	}

	info, err := oc.labs.RestartOS(c.Request.Context(), currentUserID(c), req.OSType)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, "桌面容器已重启", info)
}

// Status 查询当前用户的桌面容器。先对账再读记录。
func (oc *OSController) Status(c *gin.Context) {
	userID := currentUserID(c)
	oc.reconciler.PruneUserOS(c.Request.Context(), userID)

	infos, err := oc.labs.ActiveOS(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, "查询成功", gin.H{"containers": infos})
}
