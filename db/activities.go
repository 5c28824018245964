package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/google/uuid"
)

const (
	objectContent  = "content"
	objectActor    = "actor"
	objectURL      = "url"
	objectActivity = "activity"
)

const (
	activityColumns = `id, ap_id, kind, actor_type, actor_id, object_type, object_kind, object_ref,
		target, audience_id, summary, expires, cached_json, created_at`

	sqlSelectActivityById = `SELECT ` + activityColumns + ` FROM activities WHERE id = ?`
	sqlInsertActivity     = `INSERT INTO activities(` + activityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	// a replayed remote activity keeps the row, and the id, it was stored with
	sqlUpsertActivity = sqlInsertActivity + `
		ON CONFLICT(id) DO UPDATE SET cached_json = COALESCE(activities.cached_json, excluded.cached_json)
		ON CONFLICT(ap_id) DO UPDATE SET cached_json = COALESCE(activities.cached_json, excluded.cached_json)
		RETURNING id`
	sqlInsertInnerActivity = sqlInsertActivity + ` ON CONFLICT DO NOTHING`
	sqlStoreCachedJSON     = `UPDATE activities SET cached_json = ? WHERE id = ? AND cached_json IS NULL`
)

type activityRow struct {
	a                                 domain.Activity
	apId                              sql.NullString
	actorType, objectType, objectKind string
	actorId                           uuid.UUID
	objectRef, target, summary        string
	audienceId                        uuid.NullUUID
	expires                           sql.NullTime
}

// SaveActivity stores a and the activity it wraps. A remote activity seen
// again takes the UUID it was first stored under.
func (db *DB) SaveActivity(ctx context.Context, a *domain.Activity) error {
	if a.Actor == nil {
		return fmt.Errorf("activity %s has no actor", a.UUID)
	}
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if inner := a.InnerActivity(); inner != nil {
			if err := saveInnerActivity(ctx, tx, inner); err != nil {
				return err
			}
		}
		args, err := activityArgs(a)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, sqlUpsertActivity, args...).Scan(&a.UUID)
	})
}

func saveInnerActivity(ctx context.Context, tx *sql.Tx, a *domain.Activity) error {
	if a.Actor == nil {
		return fmt.Errorf("activity %s has no actor", a.UUID)
	}
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	args, err := activityArgs(a)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, sqlInsertInnerActivity, args...)
	return err
}

func activityArgs(a *domain.Activity) ([]any, error) {
	objectType, objectKind, objectRef, err := encodeObject(a.Object)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", a.UUID, err)
	}
	var cached []byte
	if len(a.CachedJSON) > 0 {
		cached = a.CachedJSON
	}
	return []any{
		a.UUID,
		nullString(a.ApId),
		string(a.Kind),
		string(a.Actor.ActorType()),
		a.Actor.ActorID(),
		objectType,
		objectKind,
		objectRef,
		a.Target,
		nullID(magazineID(a.Audience)),
		a.Summary,
		nullTime(a.Expires),
		cached,
		a.CreatedAt,
	}, nil
}

func encodeObject(o domain.Object) (objectType, kind, ref string, err error) {
	switch v := o.(type) {
	case domain.ContentObject:
		if v.Content == nil {
			return "", "", "", fmt.Errorf("nil content object")
		}
		return objectContent, string(v.Content.Kind), v.Content.Id.String(), nil
	case domain.ActorObject:
		if v.Actor == nil {
			return "", "", "", fmt.Errorf("nil actor object")
		}
		return objectActor, string(v.Actor.ActorType()), v.Actor.ActorID().String(), nil
	case domain.URLObject:
		return objectURL, "", v.URL, nil
	case domain.ActivityObject:
		if v.Activity == nil {
			return "", "", "", fmt.Errorf("nil activity object")
		}
		return objectActivity, "", v.Activity.UUID.String(), nil
	}
	return "", "", "", fmt.Errorf("unsupported object %T", o)
}

func (db *DB) FindActivity(ctx context.Context, id uuid.UUID) (*domain.Activity, error) {
	var r activityRow
	var cached []byte
	err := db.db.QueryRowContext(ctx, sqlSelectActivityById, id).Scan(
		&r.a.UUID, &r.apId, &r.a.Kind, &r.actorType, &r.actorId, &r.objectType, &r.objectKind,
		&r.objectRef, &r.target, &r.audienceId, &r.summary, &r.expires, &cached, &r.a.CreatedAt)
	if err != nil {
		return nil, notFound(err, "activity "+id.String())
	}

	a := r.a
	a.ApId = r.apId.String
	a.Target = r.target
	a.Summary = r.summary
	a.Expires = timePtr(r.expires)
	if len(cached) > 0 {
		a.CachedJSON = cached
	}

	if a.Actor, err = db.findActor(ctx, domain.ActorType(r.actorType), r.actorId); err != nil {
		return nil, fmt.Errorf("failed to load actor of activity %s: %w", id, err)
	}
	if r.audienceId.Valid {
		if a.Audience, err = db.FindMagazineByID(ctx, r.audienceId.UUID); err != nil {
			return nil, fmt.Errorf("failed to load audience of activity %s: %w", id, err)
		}
	}
	if a.Object, err = db.decodeObject(ctx, r.objectType, r.objectKind, r.objectRef); err != nil {
		return nil, fmt.Errorf("failed to load object of activity %s: %w", id, err)
	}
	return &a, nil
}

func (db *DB) decodeObject(ctx context.Context, objectType, kind, ref string) (domain.Object, error) {
	switch objectType {
	case objectURL:
		return domain.URLObject{URL: ref}, nil
	case objectContent, objectActor, objectActivity:
	default:
		return nil, fmt.Errorf("unknown object type %q", objectType)
	}

	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid object reference %q: %w", ref, err)
	}
	switch objectType {
	case objectContent:
		c, err := db.FindContent(ctx, domain.ContentKind(kind), id)
		if err != nil {
			return nil, err
		}
		return domain.ContentObject{Content: c}, nil
	case objectActor:
		actor, err := db.findActor(ctx, domain.ActorType(kind), id)
		if err != nil {
			return nil, err
		}
		return domain.ActorObject{Actor: actor}, nil
	default:
		inner, err := db.FindActivity(ctx, id)
		if err != nil {
			return nil, err
		}
		return domain.ActivityObject{Activity: inner}, nil
	}
}

func (db *DB) findActor(ctx context.Context, kind domain.ActorType, id uuid.UUID) (domain.Actor, error) {
	switch kind {
	case domain.ActorTypeUser:
		u, err := db.FindUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return u, nil
	case domain.ActorTypeMagazine:
		m, err := db.FindMagazineByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown actor type %q", kind)
}

// StoreCachedJSON keeps the first document built for an activity.
func (db *DB) StoreCachedJSON(ctx context.Context, id uuid.UUID, doc []byte) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlStoreCachedJSON, doc, id)
		return err
	})
}
