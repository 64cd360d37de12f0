package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/model"
)

// InstrumentedRepository wraps a model.Repository with spans, metrics, and
// debug logs around every operation.
type InstrumentedRepository struct {
	next    model.Repository
	logger  *zap.Logger
	metrics *Metrics
}

// InstrumentRepository decorates repo. A nil logger or metrics disables that
// concern.
func InstrumentRepository(repo model.Repository, logger *zap.Logger, metrics *Metrics) *InstrumentedRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedRepository{next: repo, logger: logger, metrics: metrics}
}

// Unwrap returns the decorated repository.
func (r *InstrumentedRepository) Unwrap() model.Repository { return r.next }

func (r *InstrumentedRepository) EntityType() string { return r.next.EntityType() }

func (r *InstrumentedRepository) Metadata() model.EntityMetadata { return r.next.Metadata() }

func (r *InstrumentedRepository) Find(ctx context.Context, opts model.FindOptions) ([]model.Entity, error) {
	ctx, done := r.begin(ctx, "find", AttrFingerprint.String(opts.Fingerprint()))
	items, err := r.next.Find(ctx, opts)
	done(err, AttrResultCount.Int(len(items)))
	return items, err
}

func (r *InstrumentedRepository) FindFirst(ctx context.Context, filter *model.Filter) (model.Entity, bool, error) {
	ctx, done := r.begin(ctx, "find_first")
	item, ok, err := r.next.FindFirst(ctx, filter)
	done(err)
	return item, ok, err
}

func (r *InstrumentedRepository) Count(ctx context.Context, filter *model.Filter) (int, error) {
	ctx, done := r.begin(ctx, "count")
	n, err := r.next.Count(ctx, filter)
	done(err, AttrResultCount.Int(n))
	return n, err
}

func (r *InstrumentedRepository) Insert(ctx context.Context, data model.Entity) (model.Entity, error) {
	ctx, done := r.begin(ctx, "insert")
	r.logWrite(ctx, "insert", data)
	created, err := r.next.Insert(ctx, data)
	done(err, AttrEntityID.String(created.ID()))
	return created, err
}

func (r *InstrumentedRepository) Update(ctx context.Context, id string, patch model.Entity) (model.Entity, error) {
	ctx, done := r.begin(ctx, "update", AttrEntityID.String(id))
	r.logWrite(ctx, "update", patch)
	updated, err := r.next.Update(ctx, id, patch)
	done(err)
	return updated, err
}

func (r *InstrumentedRepository) Delete(ctx context.Context, id string) error {
	ctx, done := r.begin(ctx, "delete", AttrEntityID.String(id))
	err := r.next.Delete(ctx, id)
	done(err)
	return err
}

func (r *InstrumentedRepository) Subscribe(ctx context.Context, opts model.FindOptions, h model.LiveHandler) (func(), error) {
	ctx, done := r.begin(ctx, "subscribe", AttrFingerprint.String(opts.Fingerprint()))
	cancel, err := r.next.Subscribe(ctx, opts, h)
	done(err)
	return cancel, err
}

func (r *InstrumentedRepository) logWrite(ctx context.Context, op string, body model.Entity) {
	if ce := RequestLogger(ctx, r.logger).Check(zap.DebugLevel, "repository write"); ce != nil {
		ce.Write(
			zap.String("entity", r.next.EntityType()),
			zap.String("operation", op),
			zap.Any("body", RedactBody(body, nil)),
		)
	}
}

func (r *InstrumentedRepository) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error, ...attribute.KeyValue)) {
	entity := r.next.EntityType()
	start := time.Now()
	attrs = append(attrs, AttrEntity.String(entity), AttrOperation.String(op))
	ctx, span := StartSpan(ctx, "repository."+op, attrs...)

	return ctx, func(err error, extra ...attribute.KeyValue) {
		elapsed := time.Since(start)
		if len(extra) > 0 {
			span.SetAttributes(extra...)
		}
		EndSpanWithError(span, err)
		r.metrics.RecordRepositoryOp(entity, op, err, elapsed)

		logger := RequestLogger(ctx, r.logger)
		switch {
		case err == nil:
			logger.Debug("repository operation",
				zap.String("entity", entity),
				zap.String("operation", op),
				zap.Duration("duration", elapsed),
			)
		case model.CodeOf(err) == model.ErrBackendUnavailable:
			logger.Error("repository operation failed",
				zap.String("entity", entity),
				zap.String("operation", op),
				zap.Duration("duration", elapsed),
				zap.Error(err),
			)
		default:
			logger.Warn("repository operation rejected",
				zap.String("entity", entity),
				zap.String("operation", op),
				zap.String("code", model.CodeOf(err)),
			)
		}
	}
}

var _ model.Repository = (*InstrumentedRepository)(nil)
