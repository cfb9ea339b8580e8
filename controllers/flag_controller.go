// file: controllers/flag_controller.go
package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/dto"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/services"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

// FlagController 处理 flag 提交与进度查询。
type FlagController struct {
	flags *services.FlagService
}

func NewFlagController(flags *services.FlagService) *FlagController {
	return &FlagController{flags: flags}
}

// Validate 提交 flag
func (fc *FlagController) Validate(c *gin.Context) {
	var req dto.ValidateFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "参数无效: "+err.Error())
		return
	}

	result, err := fc.flags.SubmitFlag(c.Request.Context(), currentUserID(c), services.FlagSubmission{
		LabID:      req.LabID,
		Difficulty: req.Difficulty,
		Flag:       req.Flag,
		PodName:    req.PodName,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, result.Message, result)
}

// Progress 查询某实验的解题进度
func (fc *FlagController) Progress(c *gin.Context) {
	labID, err := strconv.Atoi(c.Param("labId"))
	if err != nil || labID <= 0 {
		utils.Error(c, 1001, "无效的 labId")
		return
	}

	result, err := fc.flags.Progress(currentUserID(c), labID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.Success(c, "查询成功", result)
}
