package handler

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/cardforge/connector/internal/config"
	"github.com/cardforge/connector/internal/utils"
)

// AuthHandler issues operator tokens for the admin endpoints.
type AuthHandler struct {
	operator config.OperatorConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(operator config.OperatorConfig) *AuthHandler {
	return &AuthHandler{operator: operator}
}

type loginBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /v1/admin/login
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Email and password are required")
		return
	}

	if h.operator.Email == "" || body.Email != h.operator.Email {
		utils.Error(c, 401, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.operator.PasswordHash), []byte(body.Password)); err != nil {
		utils.Error(c, 401, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	token, err := utils.GenerateJWT(1, h.operator.Email, h.operator.TokenTTL)
	if err != nil {
		utils.Error(c, 500, "INTERNAL_ERROR", "Could not issue token")
		return
	}

	utils.Success(c, 200, "Login successful", gin.H{
		"token":     token,
		"expiresIn": int(h.operator.TokenTTL.Seconds()),
	})
}
