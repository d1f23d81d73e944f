package delivery

import (
	"errors"

	"chat-delivery/internal/presence"
	"chat-delivery/internal/store"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) handleGetUserPresence(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "User ID is required",
		})
	}

	record, err := s.presence.Status(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to get presence",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Presence retrieved successfully",
		"data":    record,
	})
}

func (s *Server) handleGetConversationPresence(c *fiber.Ctx) error {
	conversationID := c.Params("conversation_id")
	if conversationID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Conversation ID is required",
		})
	}

	conversation, err := s.conversations.FindByID(c.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Conversation not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to load conversation",
			"error":   err.Error(),
		})
	}

	summary, err := s.presence.ConversationPresence(c.Context(), conversationID, conversation.ParticipantIDs())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to get conversation presence",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Conversation presence retrieved successfully",
		"data":    summary,
	})
}

type presenceBatchRequest struct {
	UserIDs []string `json:"userIds"`
}

func (s *Server) handleGetPresenceBatch(c *fiber.Ctx) error {
	var req presenceBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if len(req.UserIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "userIds is required",
		})
	}
	if len(req.UserIDs) > presence.MaxBatchSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Too many user IDs in one request",
		})
	}

	records, err := s.presence.StatusBatch(c.Context(), req.UserIDs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to get presence batch",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Presence batch retrieved successfully",
		"data":    records,
	})
}
