package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/google/uuid"
)

const (
	contentColumns = `id, kind, ap_id, author_id, magazine_id, parent_id, root_id, title, body, url, lang,
		sensitive, tags, mentions, attachments, poll, visibility, is_locked, favourites, dislikes, shares,
		created_at, edited_at`

	sqlSelectContentById   = `SELECT ` + contentColumns + ` FROM contents WHERE id = ?`
	sqlSelectContent       = `SELECT ` + contentColumns + ` FROM contents WHERE id = ? AND kind = ?`
	sqlSelectContentByApId = `SELECT ` + contentColumns + ` FROM contents WHERE ap_id = ?`
	sqlUpsertContent       = `INSERT INTO contents(` + contentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			url = excluded.url,
			lang = excluded.lang,
			sensitive = excluded.sensitive,
			tags = excluded.tags,
			mentions = excluded.mentions,
			attachments = excluded.attachments,
			poll = excluded.poll,
			visibility = excluded.visibility,
			is_locked = excluded.is_locked,
			favourites = excluded.favourites,
			dislikes = excluded.dislikes,
			shares = excluded.shares,
			edited_at = excluded.edited_at`
)

// contentRow holds a contents row before its references are loaded.
type contentRow struct {
	c                             domain.Content
	apId                          sql.NullString
	authorId                      uuid.UUID
	magazineId, parentId, rootId  uuid.NullUUID
	tags, mentions, attachs, poll string
	editedAt                      sql.NullTime
}

func scanContent(row scanner) (*contentRow, error) {
	var r contentRow
	err := row.Scan(&r.c.Id, &r.c.Kind, &r.apId, &r.authorId, &r.magazineId, &r.parentId, &r.rootId,
		&r.c.Title, &r.c.Body, &r.c.Url, &r.c.Lang, &r.c.Sensitive, &r.tags, &r.mentions, &r.attachs,
		&r.poll, &r.c.Visibility, &r.c.IsLocked, &r.c.Favourites, &r.c.Dislikes, &r.c.Shares,
		&r.c.CreatedAt, &r.editedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) FindContent(ctx context.Context, kind domain.ContentKind, id uuid.UUID) (*domain.Content, error) {
	r, err := scanContent(db.db.QueryRowContext(ctx, sqlSelectContent, id, string(kind)))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("%s %s", kind, id))
	}
	return db.hydrateContent(ctx, r)
}

func (db *DB) FindContentByApID(ctx context.Context, apId string) (*domain.Content, error) {
	r, err := scanContent(db.db.QueryRowContext(ctx, sqlSelectContentByApId, apId))
	if err != nil {
		return nil, notFound(err, "content "+apId)
	}
	return db.hydrateContent(ctx, r)
}

func (db *DB) findContentByID(ctx context.Context, id uuid.UUID) (*domain.Content, error) {
	r, err := scanContent(db.db.QueryRowContext(ctx, sqlSelectContentById, id))
	if err != nil {
		return nil, notFound(err, "content "+id.String())
	}
	return db.hydrateContent(ctx, r)
}

// hydrateContent loads the author, the magazine and the reply chain.
func (db *DB) hydrateContent(ctx context.Context, r *contentRow) (*domain.Content, error) {
	c := r.c
	c.ApId = r.apId.String
	if r.editedAt.Valid {
		t := r.editedAt.Time
		c.EditedAt = &t
	}
	if err := decodeList(r.tags, &c.Tags); err != nil {
		return nil, err
	}
	if err := decodeList(r.mentions, &c.Mentions); err != nil {
		return nil, err
	}
	if err := decodeList(r.attachs, &c.Attachments); err != nil {
		return nil, err
	}
	if err := decodeList(r.poll, &c.Poll); err != nil {
		return nil, err
	}

	var err error
	if c.Author, err = db.FindUserByID(ctx, r.authorId); err != nil {
		return nil, fmt.Errorf("failed to load author of %s: %w", c.Id, err)
	}
	if r.magazineId.Valid {
		if c.Magazine, err = db.FindMagazineByID(ctx, r.magazineId.UUID); err != nil {
			return nil, fmt.Errorf("failed to load magazine of %s: %w", c.Id, err)
		}
	}
	if r.rootId.Valid {
		if c.Root, err = db.findContentByID(ctx, r.rootId.UUID); err != nil {
			return nil, fmt.Errorf("failed to load root of %s: %w", c.Id, err)
		}
	}
	if r.parentId.Valid {
		if c.Parent, err = db.findContentByID(ctx, r.parentId.UUID); err != nil {
			return nil, fmt.Errorf("failed to load parent of %s: %w", c.Id, err)
		}
	}
	return &c, nil
}

// SaveContent inserts c or updates its mutable fields. The author, the
// magazine and the reply chain must already be stored.
func (db *DB) SaveContent(ctx context.Context, c *domain.Content) error {
	if c.Author == nil {
		return fmt.Errorf("content %s has no author", c.Id)
	}
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Visibility == "" {
		c.Visibility = domain.VisibilityPublic
	}

	tags, err := encodeList(c.Tags)
	if err != nil {
		return err
	}
	mentions, err := encodeList(c.Mentions)
	if err != nil {
		return err
	}
	attachments, err := encodeList(c.Attachments)
	if err != nil {
		return err
	}
	poll, err := encodeList(c.Poll)
	if err != nil {
		return err
	}

	what := "content " + c.Id.String()
	if c.ApId != "" {
		what = "content " + c.ApId
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertContent,
			c.Id,
			string(c.Kind),
			nullString(c.ApId),
			c.Author.Id,
			nullID(magazineID(c.Magazine)),
			nullID(contentID(c.Parent)),
			nullID(contentID(c.Root)),
			c.Title,
			c.Body,
			c.Url,
			c.Lang,
			c.Sensitive,
			tags,
			mentions,
			attachments,
			poll,
			string(c.Visibility),
			c.IsLocked,
			c.Favourites,
			c.Dislikes,
			c.Shares,
			c.CreatedAt,
			nullTime(c.EditedAt),
		)
		return duplicate(err, what)
	})
}

func contentID(c *domain.Content) uuid.UUID {
	if c == nil {
		return uuid.Nil
	}
	return c.Id
}

func magazineID(m *domain.Magazine) uuid.UUID {
	if m == nil {
		return uuid.Nil
	}
	return m.Id
}

func nullID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func encodeList(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func decodeList(raw string, dst any) error {
	if raw == "" || raw == "[]" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}
