// file: controllers/auth_controller.go
package controllers

import (
	"errors"
	"log"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/database"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/dto"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/models"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

// AuthController 处理注册与登录。
type AuthController struct {
	store *database.Store
}

func NewAuthController(store *database.Store) *AuthController {
	return &AuthController{store: store}
}

// Register 用户注册
func (ac *AuthController) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "参数无效: "+err.Error())
		return
	}

	if _, err := ac.store.GetUserByID(req.UserID); err == nil {
		utils.Error(c, 2001, "用户已存在")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(c, 5000, "数据库错误: "+err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.Error(c, 5000, "密码加密失败")
		return
	}

	user := models.User{
		UserID:       req.UserID,
		Name:         req.Name,
		Role:         models.RoleUser,
		PasswordHash: string(hash),
	}
	if err := ac.store.CreateUser(&user); err != nil {
		utils.Error(c, 5000, "创建用户失败: "+err.Error())
		return
	}

	log.Printf("User registered: %s", user.UserID)
	utils.Success(c, "注册成功", gin.H{"userId": user.UserID})
}

// Login 用户登录
func (ac *AuthController) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "参数无效: "+err.Error())
		return
	}

	user, err := ac.store.GetUserByID(req.UserID)
	if err != nil {
		utils.Error(c, 2002, "用户名或密码错误")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		utils.Error(c, 2002, "用户名或密码错误")
		return
	}

	token, err := utils.GenerateToken(*user)
	if err != nil {
		utils.Error(c, 5000, "生成 Token 失败")
		return
	}

	if err := ac.store.TouchUserActivity(user.UserID, c.ClientIP()); err != nil {
		log.Printf("Update user activity failed: %v", err)
	}

	utils.Success(c, "登录成功", dto.LoginResponse{
		Token:  token,
		UserID: user.UserID,
		Name:   user.Name,
		Role:   string(user.Role),
	})
}
