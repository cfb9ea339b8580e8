// file: routes/router.go
package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/controllers"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/middlewares"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/models"
)

// Controllers 汇集路由需要的全部控制器。
type Controllers struct {
	Auth  *controllers.AuthController
	Lab   *controllers.LabController
	OS    *controllers.OSController
	Flag  *controllers.FlagController
	Admin *controllers.AdminController
}

func SetupRouter(ctrl Controllers) *gin.Engine {
	r := gin.Default()

	apiV1 := r.Group("/api/v1")
	{
		// --- 注册 / 登录（限流防爆破）---
		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/register", middlewares.RateLimitMiddleware("register", 5, time.Minute), ctrl.Auth.Register)
			authRoutes.POST("/login", middlewares.RateLimitMiddleware("login", 10, time.Minute), ctrl.Auth.Login)
		}

		// --- 实验容器 ---
		labRoutes := apiV1.Group("/labs")
		labRoutes.Use(middlewares.JWTAuthMiddleware())
		{
			labRoutes.POST("/start", middlewares.RateLimitMiddleware("lab_start", 10, time.Minute), ctrl.Lab.Start)
			labRoutes.POST("/stop", ctrl.Lab.Stop)
			labRoutes.GET("/status", ctrl.Lab.Active)
			labRoutes.POST("/validate-flag", middlewares.RateLimitMiddleware("validate_flag", 20, time.Minute), ctrl.Flag.Validate)
			labRoutes.GET("/:labId/progress", ctrl.Flag.Progress)
		}

		// --- 桌面 (OS) 容器 ---
		osRoutes := apiV1.Group("/os")
		osRoutes.Use(middlewares.JWTAuthMiddleware())
		{
			osRoutes.POST("/start", middlewares.RateLimitMiddleware("os_start", 10, time.Minute), ctrl.OS.Start)
			osRoutes.POST("/stop", ctrl.OS.Stop)
			osRoutes.POST("/restart", middlewares.RateLimitMiddleware("os_start", 10, time.Minute), ctrl.OS.Restart)
			osRoutes.GET("/status", ctrl.OS.Status)
		}

		// --- 管理端 ---
		adminRoutes := apiV1.Group("/admin")
		adminRoutes.Use(middlewares.JWTAuthMiddleware(), middlewares.RoleAuthMiddleware(models.RoleAdmin))
		{
			adminRoutes.GET("/settings", ctrl.Admin.GetTimeouts)
			adminRoutes.PUT("/settings", ctrl.Admin.UpdateTimeouts)
			adminRoutes.GET("/labs", ctrl.Admin.ListActive)
			adminRoutes.POST("/reconcile", ctrl.Admin.Reconcile)
		}
	}

	return r
}
