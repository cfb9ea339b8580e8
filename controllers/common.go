// file: controllers/common.go
package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/services"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

// currentUserID 从 JWT 中间件写入的上下文取出用户业务 ID。
func currentUserID(c *gin.Context) string {
	idAny, _ := c.Get("user_id")
	id, _ := idAny.(string)
	return id
}

// respondServiceError 把服务层错误翻译成统一的响应码：
// 1xxx 参数问题，4xxx 资源不存在，5xxx 后端失败，7xxx 生命周期失败。
func respondServiceError(c *gin.Context, err error) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		utils.Error(c, 1001, ve.Msg)
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		utils.Error(c, 4004, "资源不存在")
		return
	}
	var ee *services.ExecError
	if errors.As(err, &ee) {
		utils.Error(c, 5000, "无法读取容器内的 flag: "+ee.Error())
		return
	}
	var oe *services.OrchestratorError
	if errors.As(err, &oe) {
		if oe.Transient {
			utils.Error(c, 7002, "容器尚未就绪，请稍后重试: "+oe.Error())
			return
		}
		utils.Error(c, 7001, "容器编排失败: "+oe.Error())
		return
	}
	utils.Error(c, 5000, "内部错误: "+err.Error())
}
