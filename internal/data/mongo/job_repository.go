// Package mongo provides the MongoDB implementation of generation job
// persistence. Job records carry free-form provider parameters and result
// metadata, which maps naturally onto documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/genstudio-credit-ledger/internal/domain/job"
)

const (
	// JobCollectionName is the name of the generation jobs collection
	JobCollectionName = "generation_jobs"
)

// JobRepository implements the job.Repository interface for MongoDB
type JobRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewJobRepository creates a new MongoDB job repository
func NewJobRepository(logger *slog.Logger, db *mongo.Database) job.Repository {
	return &JobRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a new job record.
func (r *JobRepository) Create(ctx context.Context, j *job.Job) error {
	collection := r.db.Collection(JobCollectionName)

	_, err := collection.InsertOne(ctx, j)
	if err != nil {
		r.logger.Error("Failed to create job record",
			"job_id", j.ID.String(),
			"error", err)
		return fmt.Errorf("failed to create job record: %w", err)
	}

	return nil
}

// GetByID retrieves a job record by its ID.
// Returns ErrJobNotFound if no record exists.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	collection := r.db.Collection(JobCollectionName)

	filter := bson.M{"_id": id}
	var j job.Job
	err := collection.FindOne(ctx, filter).Decode(&j)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, job.ErrJobNotFound{JobID: id}
		}
		r.logger.Error("Failed to get job record",
			"job_id", id.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}

	return &j, nil
}

// MarkProcessing records the provider task handle and moves the job to
// processing.
func (r *JobRepository) MarkProcessing(ctx context.Context, id uuid.UUID, providerTaskID string) error {
	collection := r.db.Collection(JobCollectionName)

	filter := bson.M{"_id": id}
	update := bson.M{"$set": bson.M{
		"status":           job.StatusProcessing,
		"provider_task_id": providerTaskID,
		"updated_at":       time.Now(),
	}}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to mark job processing",
			"job_id", id.String(),
			"error", err)
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	if result.MatchedCount == 0 {
		return job.ErrJobNotFound{JobID: id}
	}

	return nil
}

// Settle moves the job to a terminal status. The filter excludes jobs that
// are already terminal, so a second settlement attempt (orchestrator retry
// or the sweeper) matches nothing and changes nothing.
func (r *JobRepository) Settle(ctx context.Context, id uuid.UUID, status job.Status, creditsSettled int64, resultRef string, failureReason string) error {
	collection := r.db.Collection(JobCollectionName)

	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": []job.Status{job.StatusPending, job.StatusProcessing}},
	}
	set := bson.M{
		"status":          status,
		"credits_settled": creditsSettled,
		"updated_at":      time.Now(),
	}
	if resultRef != "" {
		set["result_ref"] = resultRef
	}
	if failureReason != "" {
		set["failure_reason"] = failureReason
	}

	_, err := collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		r.logger.Error("Failed to settle job record",
			"job_id", id.String(),
			"status", string(status),
			"error", err)
		return fmt.Errorf("failed to settle job record: %w", err)
	}

	return nil
}
