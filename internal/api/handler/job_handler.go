package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/genstudio-credit-ledger/internal/domain/job"
	"github.com/genstudio-credit-ledger/internal/orchestrator"
)

// JobService is the slice of the orchestrator the HTTP layer uses
type JobService interface {
	StartJob(ctx context.Context, accountID uuid.UUID, kind string, cost int64, parameters map[string]string) (*job.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error)
}

// JobHandler handles HTTP requests for generation jobs
type JobHandler struct {
	jobService JobService
	logger     *slog.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(logger *slog.Logger, jobService JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// Start validates the request, reserves credits and submits the job. The
// response is 202: the job continues processing after this request returns.
func (h *JobHandler) Start(c *gin.Context) {
	var req StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		RespondBadRequest(c, "Invalid account ID")
		return
	}

	j, err := h.jobService.StartJob(c.Request.Context(), accountID, req.Kind, req.Cost, req.Parameters)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInsufficientCredits) {
			RespondInsufficientCredits(c, "Not enough credits to start this job")
			return
		}
		var running orchestrator.ErrJobAlreadyRunning
		if errors.As(err, &running) {
			RespondJobAlreadyRunning(c,
				"A "+running.JobKind+" job is already running for this account",
				int(running.RetryAfter.Seconds()),
			)
			return
		}
		h.logger.Error("Failed to start job", "account_id", req.AccountID, "kind", req.Kind, "error", err)
		RespondInternalError(c)
		return
	}

	RespondAccepted(c, mapJobToResponse(j))
}

// GetByID returns the job record, terminal or not
func (h *JobHandler) GetByID(c *gin.Context) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		RespondBadRequest(c, "Invalid job ID")
		return
	}

	j, err := h.jobService.GetJob(c.Request.Context(), id)
	if err != nil {
		var notFound job.ErrJobNotFound
		if errors.As(err, &notFound) {
			RespondNotFound(c, "Job not found")
			return
		}
		h.logger.Error("Failed to get job", "job_id", idParam, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapJobToResponse(j))
}

// mapJobToResponse maps a job record to its response DTO
func mapJobToResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:              j.ID.String(),
		AccountID:       j.AccountID.String(),
		Kind:            j.Kind,
		Status:          string(j.Status),
		CreditsReserved: j.CreditsReserved,
		CreditsSettled:  j.CreditsSettled,
		Parameters:      j.Parameters,
		ResultRef:       j.ResultRef,
		FailureReason:   j.FailureReason,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.Format(time.RFC3339),
	}
}
