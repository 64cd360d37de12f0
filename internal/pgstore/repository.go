package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/changefeed"
	"github.com/pitabwire/entitystore/model"
)

const insertSQL = `
	WITH next AS (
		INSERT INTO entity_sequences (entity_type, last_id) VALUES ($1, 1)
		ON CONFLICT (entity_type) DO UPDATE SET last_id = entity_sequences.last_id + 1
		RETURNING last_id
	)
	INSERT INTO entity_documents (entity_type, id, data)
	SELECT $1, last_id, $2 FROM next
	RETURNING id, data`

const getSQL = `SELECT data FROM entity_documents WHERE entity_type = $1 AND id = $2`

const updateSQL = `
	UPDATE entity_documents SET data = data || $3::jsonb, updated_at = now()
	WHERE entity_type = $1 AND id = $2
	RETURNING id, data`

const deleteSQL = `DELETE FROM entity_documents WHERE entity_type = $1 AND id = $2`

// Repository is the collection of one entity type.
type Repository struct {
	store *Store
	meta  model.EntityMetadata
}

func (r *Repository) EntityType() string { return r.meta.Name }

func (r *Repository) Metadata() model.EntityMetadata { return r.meta }

func (r *Repository) Find(ctx context.Context, opts model.FindOptions) ([]model.Entity, error) {
	q, args, err := selectSQL(r.meta.Name, opts)
	if err != nil {
		return nil, model.NewBadRequestError(err.Error())
	}

	rows, err := r.store.db.Query(ctx, q, args...)
	if err != nil {
		return nil, model.NewTransportError("find", err)
	}
	defer rows.Close()

	items := []model.Entity{}
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, model.NewTransportError("find", err)
		}
		e, err := decode(id, data)
		if err != nil {
			return nil, model.NewTransportError("find", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewTransportError("find", err)
	}
	return items, nil
}

func (r *Repository) FindFirst(ctx context.Context, filter *model.Filter) (model.Entity, bool, error) {
	items, err := r.Find(ctx, model.FindOptions{Filter: filter, Limit: 1})
	if err != nil || len(items) == 0 {
		return nil, false, err
	}
	return items[0], true, nil
}

func (r *Repository) Count(ctx context.Context, filter *model.Filter) (int, error) {
	q, args, err := countSQL(r.meta.Name, filter)
	if err != nil {
		return 0, model.NewBadRequestError(err.Error())
	}
	var n int64
	if err := r.store.db.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, model.NewTransportError("count", err)
	}
	return int(n), nil
}

func (r *Repository) Insert(ctx context.Context, data model.Entity) (model.Entity, error) {
	record := prepare(data, r.meta)
	if err := r.validate(ctx, record); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("encoding record: %v", err))
	}

	created, err := r.scanOne(r.store.db.QueryRow(ctx, insertSQL, r.meta.Name, payload))
	if err != nil {
		return nil, model.NewTransportError("insert", err)
	}
	r.publish(ctx, changefeed.OpInsert, created.ID())
	return created, nil
}

// Update merges patch into the stored record after validating the merged
// result.
func (r *Repository) Update(ctx context.Context, id string, patch model.Entity) (model.Entity, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, notFound(r.meta.Name, id)
	}
	patch = prepare(patch, r.meta)

	var current []byte
	err := r.store.db.QueryRow(ctx, getSQL, r.meta.Name, n).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(r.meta.Name, id)
	}
	if err != nil {
		return nil, model.NewTransportError("update", err)
	}
	existing, err := decode(n, current)
	if err != nil {
		return nil, model.NewTransportError("update", err)
	}
	if err := r.validate(ctx, existing.Merge(patch)); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("encoding patch: %v", err))
	}
	updated, err := r.scanOne(r.store.db.QueryRow(ctx, updateSQL, r.meta.Name, n, payload))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(r.meta.Name, id)
	}
	if err != nil {
		return nil, model.NewTransportError("update", err)
	}
	r.publish(ctx, changefeed.OpUpdate, id)
	return updated, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	n, ok := parseID(id)
	if !ok {
		return notFound(r.meta.Name, id)
	}
	tag, err := r.store.db.Exec(ctx, deleteSQL, r.meta.Name, n)
	if err != nil {
		return model.NewTransportError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(r.meta.Name, id)
	}
	r.publish(ctx, changefeed.OpDelete, id)
	return nil
}

// Subscribe runs opts now and after every change event for this entity
// type, including changes made by other processes sharing the feed.
func (r *Repository) Subscribe(ctx context.Context, opts model.FindOptions, h model.LiveHandler) (func(), error) {
	cancel, err := changefeed.Requery(ctx, r.store.feed, r.meta.Name, func(ctx context.Context) ([]model.Entity, error) {
		return r.Find(ctx, opts)
	}, h)
	if err != nil {
		return nil, model.NewTransportError("subscribe", err)
	}
	return cancel, nil
}

func (r *Repository) scanOne(row pgx.Row) (model.Entity, error) {
	var (
		id   int64
		data []byte
	)
	if err := row.Scan(&id, &data); err != nil {
		return nil, err
	}
	return decode(id, data)
}

func (r *Repository) validate(ctx context.Context, record model.Entity) error {
	if r.store.validator == nil {
		return nil
	}
	return r.store.validator.Validate(ctx, r.meta.Name, record)
}

func (r *Repository) publish(ctx context.Context, op, id string) {
	ev := changefeed.Event{EntityType: r.meta.Name, Op: op, ID: id}
	if err := r.store.feed.Publish(context.WithoutCancel(ctx), ev); err != nil {
		r.store.logger.Warn("change event not published",
			zap.String("entity", r.meta.Name),
			zap.String("op", op),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

// prepare copies data without the identifier and computed fields, which
// are never stored in the document.
func prepare(data model.Entity, meta model.EntityMetadata) model.Entity {
	out := data.Clone()
	if out == nil {
		out = model.Entity{}
	}
	delete(out, model.IDField)
	for _, f := range meta.Fields {
		if f.Computed {
			delete(out, f.Name)
		}
	}
	return out
}

func decode(id int64, data []byte) (model.Entity, error) {
	e := model.Entity{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding document %d: %w", id, err)
		}
	}
	e[model.IDField] = strconv.FormatInt(id, 10)
	return e, nil
}

func notFound(entityType, id string) error {
	return model.NewNotFoundError(fmt.Sprintf("%s %q not found", entityType, id))
}

var _ model.Repository = (*Repository)(nil)
