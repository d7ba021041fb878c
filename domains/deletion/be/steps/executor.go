package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/staffbridge/staffbridge-saas/platform/go/persistence"
)

type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type stepLogAppender interface {
	AppendStepLog(ctx context.Context, rec persistence.StepLogRecord) error
}

// Outcome is the durable result of one step attempt.
type Outcome struct {
	Records  int64
	Duration time.Duration
	Err      error
}

// Executor runs one registry entry inside its own transaction and records the
// outcome to the step log. Success or failure of a step is independent of all
// others: a failed step rolls back only its own writes.
type Executor struct {
	db     txBeginner
	log    stepLogAppender
	logger *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(db txBeginner, log stepLogAppender, logger *zap.Logger) (*Executor, error) {
	if db == nil {
		return nil, fmt.Errorf("tx beginner is required")
	}
	if log == nil {
		return nil, fmt.Errorf("step log appender is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Executor{db: db, log: log, logger: logger}, nil
}

// Run executes the step and appends a step-log row for both success and
// failure. The returned Outcome carries the handler error, if any; log-write
// failures are logged but never mask the handler result.
func (e *Executor) Run(ctx context.Context, step Step, tenantID, queueID uuid.UUID) Outcome {
	start := time.Now()
	records, err := e.runInTx(ctx, step, tenantID, queueID)
	duration := time.Since(start)

	status := "success"
	var errMsg *string
	if err != nil {
		status = "failed"
		msg := err.Error()
		errMsg = &msg
		records = 0
	}

	rec := persistence.StepLogRecord{
		ID:             uuid.New(),
		QueueID:        queueID,
		StepName:       step.Name,
		Status:         status,
		RecordsDeleted: records,
		DurationMS:     duration.Milliseconds(),
		ErrorMessage:   errMsg,
		ExecutedAt:     start.UTC(),
	}
	if logErr := e.log.AppendStepLog(ctx, rec); logErr != nil {
		e.logger.Error("appending step log failed",
			zap.String("step", step.Name),
			zap.String("queue_id", queueID.String()),
			zap.Error(logErr),
		)
	}

	if err != nil {
		e.logger.Warn("deletion step failed",
			zap.String("step", step.Name),
			zap.String("tenant_id", tenantID.String()),
			zap.Bool("critical", step.Critical),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	} else {
		e.logger.Info("deletion step completed",
			zap.String("step", step.Name),
			zap.String("tenant_id", tenantID.String()),
			zap.Int64("records", records),
			zap.Duration("duration", duration),
		)
	}

	return Outcome{Records: records, Duration: duration, Err: err}
}

func (e *Executor) runInTx(ctx context.Context, step Step, tenantID, queueID uuid.UUID) (int64, error) {
	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	records, err := step.Handler(ctx, tx, tenantID, queueID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit %s: %w", step.Name, err)
	}
	return records, nil
}
