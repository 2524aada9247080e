package handlers

import (
	"log"
	"time"

	"github.com/amirphl/segment-engine/app/dto"
	"github.com/amirphl/segment-engine/app/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// AuthHandlerInterface defines the contract for token endpoints
type AuthHandlerInterface interface {
	Refresh(c fiber.Ctx) error
}

// AuthHandler rotates tenant tokens
type AuthHandler struct {
	tokens    services.TokenService
	accessTTL time.Duration
	validator *validator.Validate
	logger    *log.Logger
}

func NewAuthHandler(tokens services.TokenService, accessTTL time.Duration, logger *log.Logger) *AuthHandler {
	return &AuthHandler{
		tokens:    tokens,
		accessTTL: accessTTL,
		validator: validator.New(),
		logger:    logger,
	}
}

// Refresh issues a new token pair for a valid refresh token
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	access, refresh, err := h.tokens.RefreshToken(req.RefreshToken)
	if err != nil {
		h.logger.Printf("token refresh rejected: %v", err)
		return errorResponse(c, fiber.StatusUnauthorized, "Invalid or expired refresh token", "INVALID_REFRESH_TOKEN", nil)
	}

	return successResponse(c, fiber.StatusOK, "Tokens refreshed", dto.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.accessTTL.Seconds()),
	})
}
