// Package web provides HTTP handlers and REST API endpoints for job run
// management.
package web

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/missiond/missiond/pkg/ledger"
	"github.com/missiond/missiond/pkg/models"
)

type APIHandlers struct {
	ledger    *ledger.Ledger
	validator *validator.Validate
}

func NewAPIHandlers(jobLedger *ledger.Ledger, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		ledger:    jobLedger,
		validator: validate,
	}
}

// CreateJobRun enqueues a pending job run.
func (h *APIHandlers) CreateJobRun(c fiber.Ctx) error {
	var req models.EnqueueInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.ledger.Enqueue(c.Context(), req)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if !result.OK {
		return conflict(c, result.Reason)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformJobRunResponse(result.Run))
}

// GetJobRun returns one job run by id.
func (h *APIHandlers) GetJobRun(c fiber.Ctx) error {
	run, err := h.ledger.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(TransformJobRunResponse(run))
}

// CancelJobRun cancels a pending run owned by the requesting user.
func (h *APIHandlers) CancelJobRun(c fiber.Ctx) error {
	var req CancelJobRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	cancelled, err := h.ledger.CancelRun(c.Context(), c.Params("id"), req.UserID)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if !cancelled {
		return conflict(c, "job run is not pending or not owned by this user")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetJobRunAudit returns the audit trail of one job run.
func (h *APIHandlers) GetJobRunAudit(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.ledger.GetRun(c.Context(), id); err != nil {
		return handlePersistenceError(c, err)
	}

	events, err := h.ledger.AuditTrail(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	responses := make([]AuditEventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, AuditEventResponse{
			ID:        event.ID,
			JobRunID:  event.JobRunID,
			Event:     event.Event,
			Actor:     event.Actor,
			Metadata:  event.Metadata,
			CreatedAt: event.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"job_run_id": id,
		"events":     responses,
	})
}

// HealthCheck reports process liveness.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
