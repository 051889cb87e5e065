package web

import (
	"errors"

	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/dukex/inkwell/pkg/regeneration"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusUnauthorized, "unauthorized", detail)
}

// handleServiceError maps orchestration errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case orchestration.IsCapacityExceeded(err):
		return problem(c, fiber.StatusTooManyRequests, "capacity_exceeded", err.Error())

	case orchestration.IsAuthorizationFailure(err):
		return problem(c, fiber.StatusForbidden, "authorization_failure", "engine not accessible with this key")

	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")

	case persistence.IsEngineNotFound(err):
		return problem(c, fiber.StatusNotFound, "engine_not_found", "engine not found")

	case errors.Is(err, orchestration.ErrExecutionNotActive):
		return problem(c, fiber.StatusConflict, "execution_not_active", err.Error())

	case errors.Is(err, regeneration.ErrExecutionBusy):
		return problem(c, fiber.StatusConflict, "execution_busy", err.Error())

	case orchestration.IsRegenerationLimitExceeded(err):
		return problem(c, fiber.StatusConflict, "regeneration_limit_exceeded", err.Error())

	case errors.Is(err, orchestration.ErrInvalidRequest), errors.Is(err, regeneration.ErrNoCheckpoint):
		return badRequest(c, err.Error())

	case orchestration.IsQualityGateFailure(err):
		return problem(c, fiber.StatusUnprocessableEntity, "quality_gate_failure", err.Error())

	case orchestration.IsProviderError(err):
		return problem(c, fiber.StatusBadGateway, "provider_error", err.Error())

	default:
		p := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}
