package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/model"
	"github.com/hierenlab/hieren-api/utils/middleware"
	"github.com/hierenlab/hieren-api/utils/response"
)

// UpdateProfileRequest is the body of PUT /profile
type UpdateProfileRequest struct {
	Name string `json:"name" validate:"omitempty,min=2,max=100"`
}

// GetProfile answers with the authenticated user's account
func (h *AuthHandler) GetProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}

	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		return response.NotFound(c, "User not found")
	}

	return response.Success(c, newUserResponse(&user))
}

// UpdateProfile changes the mutable account fields. Email and role are
// fixed after registration.
func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}

	var req UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		return response.NotFound(c, "User not found")
	}

	if req.Name != "" {
		user.Name = req.Name
	}
	if err := h.db.Save(&user).Error; err != nil {
		return response.InternalServerError(c, "Failed to update profile")
	}

	return response.Success(c, newUserResponse(&user))
}
