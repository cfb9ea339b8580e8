// file: controllers/admin_controller.go
package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/database"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/dto"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/services"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

// AdminController 管理端接口：超时配置、全量对账与活跃容器总览。
type AdminController struct {
	settings   *services.SettingsService
	reconciler *services.Reconciler
	store      *database.Store
}

func NewAdminController(settings *services.SettingsService, reconciler *services.Reconciler, store *database.Store) *AdminController {
	return &AdminController{settings: settings, reconciler: reconciler, store: store}
}

// GetTimeouts 查询当前超时配置
func (ad *AdminController) GetTimeouts(c *gin.Context) {
	utils.Success(c, "查询成功", dto.TimeoutSettingsResponse{
		LabTimeoutMinutes: ad.settings.LabTimeoutMinutes(),
		OSTimeoutMinutes:  ad.settings.OSTimeoutMinutes(),
	})
}

// UpdateTimeouts 更新超时配置，只更新传入的非零字段
func (ad *AdminController) UpdateTimeouts(c *gin.Context) {
	var req dto.UpdateTimeoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "参数无效: "+err.Error())
		return
	}
	if req.LabTimeoutMinutes == 0 && req.OSTimeoutMinutes == 0 {
		utils.Error(c, 1001, "至少提供一个超时字段")
		return
	}

	if req.LabTimeoutMinutes != 0 {
		if err := ad.settings.SetLabTimeoutMinutes(req.LabTimeoutMinutes); err != nil {
			respondServiceError(c, err)
			return
		}
	}
	if req.OSTimeoutMinutes != 0 {
		if err := ad.settings.SetOSTimeoutMinutes(req.OSTimeoutMinutes); err != nil {
			respondServiceError(c, err)
			return
		}
	}
	utils.Success(c, "配置已更新", nil)
}

// Reconcile 手动触发一次全量对账
func (ad *AdminController) Reconcile(c *gin.Context) {
	ad.reconciler.PruneAll(c.Request.Context())
	utils.Success(c, "对账完成", nil)
}

// ListActive 列出全平台的活跃实验与桌面容器
func (ad *AdminController) ListActive(c *gin.Context) {
	labs, err := ad.store.AllLabs()
	if err != nil {
		utils.Error(c, 5000, "数据库错误: "+err.Error())
		return
	}
	os, err := ad.store.AllOS()
	if err != nil {
		utils.Error(c, 5000, "数据库错误: "+err.Error())
		return
	}
	utils.Success(c, "查询成功", gin.H{"labs": labs, "osContainers": os})
}
