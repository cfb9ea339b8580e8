// file: dto/user_dto.go
package dto

// RegisterRequest 用户注册
type RegisterRequest struct {
	UserID   string `json:"userId" binding:"required,min=3,max=64"`
	Name     string `json:"name" binding:"required,min=1,max=64"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// LoginRequest 用户登录
type LoginRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录成功后返回的 Token 与用户信息
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}
