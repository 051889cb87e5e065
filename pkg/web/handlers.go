// Package web exposes book executions over a REST API.
package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/inkwell/pkg/coordinator"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/regeneration"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	coordinator *coordinator.Coordinator
	regenerator *regeneration.Controller
	health      HealthChecker
	validator   *validator.Validate
}

func NewAPIHandlers(
	coordinator *coordinator.Coordinator,
	regenerator *regeneration.Controller,
	health HealthChecker,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		coordinator: coordinator,
		regenerator: regenerator,
		health:      health,
		validator:   validator,
	}
}

// engineKey reads the key from "Authorization: Bearer" or X-API-Key.
func engineKey(c fiber.Ctx) string {
	if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
		if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}

	return c.Get("X-API-Key")
}

func (h *APIHandlers) SubmitExecution(c fiber.Ctx) error {
	key := engineKey(c)
	if key == "" {
		return unauthorized(c, "missing engine key")
	}

	var req SubmitExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	id, err := h.coordinator.Submit(c.Context(), coordinator.SubmitRequest{
		EngineID:         req.EngineID,
		UserID:           req.UserID,
		APIKey:           key,
		Inputs:           req.Inputs,
		ExecutionContext: req.ExecutionContext,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderLocation, "/executions/"+id)

	return c.Status(fiber.StatusAccepted).JSON(SubmitExecutionResponse{
		ExecutionID: id,
		Status:      models.ExecutionStatusRunning,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	record, err := h.coordinator.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newExecutionResponse(record))
}

func (h *APIHandlers) GetExecutionProgress(c fiber.Ctx) error {
	snapshot, err := h.coordinator.Progress(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) StopExecution(c fiber.Ctx) error {
	key := engineKey(c)
	if key == "" {
		return unauthorized(c, "missing engine key")
	}

	if _, err := h.coordinator.Authorize(c.Context(), key, c.Params("id"), ""); err != nil {
		return handleServiceError(c, err)
	}

	if err := h.coordinator.Stop(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) RegenerateNode(c fiber.Ctx) error {
	key := engineKey(c)
	if key == "" {
		return unauthorized(c, "missing engine key")
	}

	var req RegenerateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Validation failed: "+err.Error())
	}

	if _, err := h.coordinator.Authorize(c.Context(), key, c.Params("id"), req.UserID); err != nil {
		return handleServiceError(c, err)
	}

	result, err := h.regenerator.Regenerate(c.Context(), regeneration.Request{
		ExecutionID:     c.Params("id"),
		NodeID:          req.NodeID,
		ValidationError: req.ValidationError,
		UserID:          req.UserID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Inkwell API is healthy"
	httpStatus := http.StatusOK
	repositoryCheck := "ok"

	if err := h.health.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Inkwell API is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		repositoryCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"active_executions": len(h.coordinator.Active()),
		"timestamp":         time.Now().UTC(),
	})
}
