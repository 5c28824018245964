package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Remote actors
const (
	remoteColumns = `r.id, r.profile_id, r.type, r.username, r.public_key_pem, r.inbox_url,
		r.shared_inbox_url, r.followers_url, r.last_fetched_at, r.deleted_at, r.timeout_at`

	sqlSelectRemoteActor        = `SELECT ` + remoteColumns + ` FROM remote_actors r WHERE r.profile_id = ?`
	sqlSelectRemoteActorByInbox = `SELECT ` + remoteColumns + ` FROM remote_actors r WHERE r.inbox_url = ? LIMIT 1`
	sqlUpsertRemoteActor        = `INSERT INTO remote_actors(id, profile_id, type, username, public_key_pem, inbox_url,
		shared_inbox_url, followers_url, last_fetched_at, deleted_at, timeout_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			type = excluded.type,
			username = excluded.username,
			public_key_pem = excluded.public_key_pem,
			inbox_url = excluded.inbox_url,
			shared_inbox_url = excluded.shared_inbox_url,
			followers_url = excluded.followers_url,
			last_fetched_at = excluded.last_fetched_at,
			deleted_at = excluded.deleted_at,
			timeout_at = excluded.timeout_at
		RETURNING id`
	sqlUpdateRemoteMarkers = `UPDATE remote_actors SET last_fetched_at = ?, deleted_at = ?, timeout_at = ? WHERE id = ?`
)

// Users
const (
	userColumns = `u.id, u.username, u.public_key, u.private_key, u.is_banned, u.deleted_at,
		u.trashed_at, u.created_at, ` + remoteColumns
	sqlSelectUser = `SELECT ` + userColumns + ` FROM users u
		LEFT JOIN remote_actors r ON r.id = u.remote_actor_id`
	sqlSelectUserById            = sqlSelectUser + ` WHERE u.id = ?`
	sqlSelectUserByUsername      = sqlSelectUser + ` WHERE u.username = ?`
	sqlSelectLocalUserByUsername = sqlSelectUser + ` WHERE u.username = ? AND u.remote_actor_id IS NULL`
	sqlSelectUserByProfileId     = sqlSelectUser + ` WHERE r.profile_id = ?`
	sqlUpsertUser                = `INSERT INTO users(id, username, remote_actor_id, public_key, private_key,
		is_banned, deleted_at, trashed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			remote_actor_id = excluded.remote_actor_id,
			public_key = excluded.public_key,
			private_key = excluded.private_key,
			is_banned = excluded.is_banned,
			deleted_at = excluded.deleted_at,
			trashed_at = excluded.trashed_at`
)

// Magazines
const (
	magazineColumns = `m.id, m.name, m.title, m.public_key, m.private_key,
		m.posting_restricted_to_mods, m.created_at, ` + remoteColumns
	sqlSelectMagazine = `SELECT ` + magazineColumns + ` FROM magazines m
		LEFT JOIN remote_actors r ON r.id = m.remote_actor_id`
	sqlSelectMagazineById        = sqlSelectMagazine + ` WHERE m.id = ?`
	sqlSelectMagazineByName      = sqlSelectMagazine + ` WHERE m.name = ?`
	sqlSelectLocalMagazineByName = sqlSelectMagazine + ` WHERE m.name = ? AND m.remote_actor_id IS NULL`
	sqlSelectMagazineByProfileId = sqlSelectMagazine + ` WHERE r.profile_id = ?`
	sqlUpsertMagazine            = `INSERT INTO magazines(id, name, title, remote_actor_id, public_key, private_key,
		posting_restricted_to_mods, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			title = excluded.title,
			remote_actor_id = excluded.remote_actor_id,
			public_key = excluded.public_key,
			private_key = excluded.private_key,
			posting_restricted_to_mods = excluded.posting_restricted_to_mods`
)

// Follows and moderators
const (
	sqlInsertFollow = `INSERT INTO follows(followed_type, followed_id, follower_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlDeleteFollow        = `DELETE FROM follows WHERE followed_type = ? AND followed_id = ? AND follower_id = ?`
	sqlSelectFollowerBoxes = `SELECT DISTINCT r.inbox_url, r.shared_inbox_url FROM follows f
		INNER JOIN users u ON u.id = f.follower_id
		INNER JOIN remote_actors r ON r.id = u.remote_actor_id
		WHERE f.followed_type = ? AND f.followed_id = ?`
	sqlInsertModerator     = `INSERT INTO moderators(magazine_id, user_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlSelectModeratorBoxes = `SELECT DISTINCT r.inbox_url, r.shared_inbox_url FROM moderators mo
		INNER JOIN users u ON u.id = mo.user_id
		INNER JOIN remote_actors r ON r.id = u.remote_actor_id
		WHERE mo.magazine_id = ?`
	sqlSelectIsModerator = `SELECT EXISTS(SELECT 1 FROM moderators WHERE magazine_id = ? AND user_id = ?)`
	sqlSelectModerators  = sqlSelectUser + ` INNER JOIN moderators mo ON mo.user_id = u.id
		WHERE mo.magazine_id = ? ORDER BY mo.created_at, mo.rowid`
	sqlCountFollowers = `SELECT COUNT(*) FROM follows WHERE followed_type = ? AND followed_id = ?`
)

// Instance policy
const (
	sqlInsertBannedInstance = `INSERT INTO banned_instances(host, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`
	sqlSelectBannedInstance = `SELECT EXISTS(SELECT 1 FROM banned_instances WHERE host = ?)`
	sqlInsertBannedTag      = `INSERT INTO banned_tags(tag, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`
	sqlSelectBannedTag      = `SELECT EXISTS(SELECT 1 FROM banned_tags WHERE tag = ?)`
)

// remoteRow receives the LEFT JOINed remote_actors columns.
type remoteRow struct {
	id                                                       uuid.NullUUID
	profileId, kind, username, pem, inbox, shared, followers sql.NullString
	lastFetched, deletedAt, timeoutAt                        sql.NullTime
}

func (r *remoteRow) dest() []any {
	return []any{&r.id, &r.profileId, &r.kind, &r.username, &r.pem, &r.inbox,
		&r.shared, &r.followers, &r.lastFetched, &r.deletedAt, &r.timeoutAt}
}

func (r *remoteRow) record() *domain.RemoteActor {
	if !r.id.Valid {
		return nil
	}
	return &domain.RemoteActor{
		Id:             r.id.UUID,
		ProfileId:      r.profileId.String,
		Type:           r.kind.String,
		Username:       r.username.String,
		PublicKeyPem:   r.pem.String,
		InboxUrl:       r.inbox.String,
		SharedInboxUrl: r.shared.String,
		FollowersUrl:   r.followers.String,
		LastFetchedAt:  r.lastFetched.Time,
		DeletedAt:      timePtr(r.deletedAt),
		TimeoutAt:      timePtr(r.timeoutAt),
	}
}

func scanRemoteActor(row scanner) (*domain.RemoteActor, error) {
	var r remoteRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.record(), nil
}

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	var deletedAt, trashedAt sql.NullTime
	var r remoteRow
	dest := append([]any{&u.Id, &u.Username, &u.PublicKey, &u.PrivateKey, &u.IsBanned,
		&deletedAt, &trashedAt, &u.CreatedAt}, r.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	u.DeletedAt = timePtr(deletedAt)
	u.TrashedAt = timePtr(trashedAt)
	u.Remote = r.record()
	return &u, nil
}

func scanMagazine(row scanner) (*domain.Magazine, error) {
	var m domain.Magazine
	var r remoteRow
	dest := append([]any{&m.Id, &m.Name, &m.Title, &m.PublicKey, &m.PrivateKey,
		&m.PostingRestrictedToMods, &m.CreatedAt}, r.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.Remote = r.record()
	return &m, nil
}

func (db *DB) FindRemoteActor(ctx context.Context, profileURL string) (*domain.RemoteActor, error) {
	r, err := scanRemoteActor(db.db.QueryRowContext(ctx, sqlSelectRemoteActor, profileURL))
	return r, notFound(err, "remote actor "+profileURL)
}

func (db *DB) FindRemoteActorByInbox(ctx context.Context, inbox string) (*domain.RemoteActor, error) {
	r, err := scanRemoteActor(db.db.QueryRowContext(ctx, sqlSelectRemoteActorByInbox, inbox))
	return r, notFound(err, "remote actor with inbox "+inbox)
}

func (db *DB) UpsertRemoteActor(ctx context.Context, r *domain.RemoteActor) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		return upsertRemoteActor(ctx, tx, r)
	})
}

// upsertRemoteActor keeps the id of an existing record for the same profile.
func upsertRemoteActor(ctx context.Context, tx *sql.Tx, r *domain.RemoteActor) error {
	if r.Id == uuid.Nil {
		r.Id = uuid.New()
	}
	var lastFetched sql.NullTime
	if !r.LastFetchedAt.IsZero() {
		lastFetched = sql.NullTime{Time: r.LastFetchedAt, Valid: true}
	}
	err := tx.QueryRowContext(ctx, sqlUpsertRemoteActor,
		r.Id,
		r.ProfileId,
		r.Type,
		r.Username,
		r.PublicKeyPem,
		r.InboxUrl,
		r.SharedInboxUrl,
		r.FollowersUrl,
		lastFetched,
		nullTime(r.DeletedAt),
		nullTime(r.TimeoutAt),
	).Scan(&r.Id)
	if err != nil {
		return fmt.Errorf("failed to upsert remote actor %s: %w", r.ProfileId, err)
	}
	return nil
}

func (db *DB) MarkRemoteActor(ctx context.Context, profileURL string, m domain.Marker) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		r, err := scanRemoteActor(tx.QueryRowContext(ctx, sqlSelectRemoteActor, profileURL))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		m.Apply(r)

		var lastFetched sql.NullTime
		if !r.LastFetchedAt.IsZero() {
			lastFetched = sql.NullTime{Time: r.LastFetchedAt, Valid: true}
		}
		_, err = tx.ExecContext(ctx, sqlUpdateRemoteMarkers, lastFetched, nullTime(r.DeletedAt), nullTime(r.TimeoutAt), r.Id)
		return err
	})
}

func (db *DB) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, err := scanUser(db.db.QueryRowContext(ctx, sqlSelectUserById, id))
	return u, notFound(err, "user "+id.String())
}

func (db *DB) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(db.db.QueryRowContext(ctx, sqlSelectUserByUsername, username))
	return u, notFound(err, "user "+username)
}

// FindUserByProfileURL resolves local /u/name URLs as well as remote profiles.
func (db *DB) FindUserByProfileURL(ctx context.Context, profileURL string) (*domain.User, error) {
	if db.inst.IsLocalURL(profileURL) {
		name, ok := db.localName(profileURL, "/u/")
		if !ok {
			return nil, fmt.Errorf("user %s: %w", profileURL, domain.ErrNotFound)
		}
		u, err := scanUser(db.db.QueryRowContext(ctx, sqlSelectLocalUserByUsername, name))
		return u, notFound(err, "user "+profileURL)
	}
	u, err := scanUser(db.db.QueryRowContext(ctx, sqlSelectUserByProfileId, profileURL))
	return u, notFound(err, "user "+profileURL)
}

// SaveUser inserts or updates u together with its remote actor record.
func (db *DB) SaveUser(ctx context.Context, u *domain.User) error {
	if u.Id == uuid.Nil {
		u.Id = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var remoteId uuid.NullUUID
		if u.Remote != nil {
			if err := upsertRemoteActor(ctx, tx, u.Remote); err != nil {
				return err
			}
			remoteId = uuid.NullUUID{UUID: u.Remote.Id, Valid: true}
		}
		_, err := tx.ExecContext(ctx, sqlUpsertUser,
			u.Id,
			u.Username,
			remoteId,
			u.PublicKey,
			u.PrivateKey,
			u.IsBanned,
			nullTime(u.DeletedAt),
			nullTime(u.TrashedAt),
			u.CreatedAt,
		)
		return duplicate(err, "user "+u.Username)
	})
}

func (db *DB) FindMagazineByID(ctx context.Context, id uuid.UUID) (*domain.Magazine, error) {
	m, err := scanMagazine(db.db.QueryRowContext(ctx, sqlSelectMagazineById, id))
	return m, notFound(err, "magazine "+id.String())
}

func (db *DB) FindMagazineByName(ctx context.Context, name string) (*domain.Magazine, error) {
	m, err := scanMagazine(db.db.QueryRowContext(ctx, sqlSelectMagazineByName, name))
	return m, notFound(err, "magazine "+name)
}

func (db *DB) FindMagazineByProfileURL(ctx context.Context, profileURL string) (*domain.Magazine, error) {
	if db.inst.IsLocalURL(profileURL) {
		name, ok := db.localName(profileURL, "/m/")
		if !ok {
			return nil, fmt.Errorf("magazine %s: %w", profileURL, domain.ErrNotFound)
		}
		m, err := scanMagazine(db.db.QueryRowContext(ctx, sqlSelectLocalMagazineByName, name))
		return m, notFound(err, "magazine "+profileURL)
	}
	m, err := scanMagazine(db.db.QueryRowContext(ctx, sqlSelectMagazineByProfileId, profileURL))
	return m, notFound(err, "magazine "+profileURL)
}

func (db *DB) SaveMagazine(ctx context.Context, m *domain.Magazine) error {
	if m.Id == uuid.Nil {
		m.Id = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var remoteId uuid.NullUUID
		if m.Remote != nil {
			if err := upsertRemoteActor(ctx, tx, m.Remote); err != nil {
				return err
			}
			remoteId = uuid.NullUUID{UUID: m.Remote.Id, Valid: true}
		}
		_, err := tx.ExecContext(ctx, sqlUpsertMagazine,
			m.Id,
			m.Name,
			m.Title,
			remoteId,
			m.PublicKey,
			m.PrivateKey,
			m.PostingRestrictedToMods,
			m.CreatedAt,
		)
		return duplicate(err, "magazine "+m.Name)
	})
}

// EnsureMagazine returns the local magazine called name, creating it with
// the given key pair when it does not exist yet.
func (db *DB) EnsureMagazine(ctx context.Context, name, title, publicKey, privateKey string) (*domain.Magazine, error) {
	m, err := db.FindMagazineByName(ctx, name)
	if err == nil {
		return m, nil
	}
	m = &domain.Magazine{
		Name:       name,
		Title:      title,
		PublicKey:  publicKey,
		PrivateKey: privateKey,
	}
	if err := db.SaveMagazine(ctx, m); err != nil {
		return nil, err
	}
	db.log.Info("DB: Created magazine", zap.String("name", name))
	return m, nil
}

func (db *DB) AddFollower(ctx context.Context, followed domain.Actor, follower *domain.User) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertFollow, string(followed.ActorType()), followed.ActorID(), follower.Id, time.Now().UTC())
		return err
	})
}

func (db *DB) RemoveFollower(ctx context.Context, followed domain.Actor, follower *domain.User) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteFollow, string(followed.ActorType()), followed.ActorID(), follower.Id)
		return err
	})
}

// FollowerInboxes returns the preferred inbox of every remote follower of actor.
func (db *DB) FollowerInboxes(ctx context.Context, actor domain.Actor) ([]string, error) {
	return db.inboxes(ctx, sqlSelectFollowerBoxes, string(actor.ActorType()), actor.ActorID())
}

// SubscriberInboxes returns the preferred inbox of every remote subscriber of m.
func (db *DB) SubscriberInboxes(ctx context.Context, m *domain.Magazine) ([]string, error) {
	return db.inboxes(ctx, sqlSelectFollowerBoxes, string(domain.ActorTypeMagazine), m.Id)
}

func (db *DB) ModeratorInboxes(ctx context.Context, m *domain.Magazine) ([]string, error) {
	return db.inboxes(ctx, sqlSelectModeratorBoxes, m.Id)
}

func (db *DB) inboxes(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	inboxes := []string{}
	for rows.Next() {
		var inbox, shared string
		if err := rows.Scan(&inbox, &shared); err != nil {
			return inboxes, err
		}
		if shared != "" {
			inbox = shared
		}
		if inbox != "" && !seen[inbox] {
			seen[inbox] = true
			inboxes = append(inboxes, inbox)
		}
	}
	return inboxes, rows.Err()
}

func (db *DB) AddModerator(ctx context.Context, m *domain.Magazine, u *domain.User) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertModerator, m.Id, u.Id, time.Now().UTC())
		return err
	})
}

func (db *DB) IsModerator(ctx context.Context, m *domain.Magazine, u *domain.User) (bool, error) {
	var mod bool
	err := db.db.QueryRowContext(ctx, sqlSelectIsModerator, m.Id, u.Id).Scan(&mod)
	return mod, err
}

// Moderators lists the moderators of m, oldest first.
func (db *DB) Moderators(ctx context.Context, m *domain.Magazine) ([]*domain.User, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectModerators, m.Id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mods []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return mods, err
		}
		mods = append(mods, u)
	}
	return mods, rows.Err()
}

func (db *DB) CountFollowers(ctx context.Context, actor domain.Actor) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountFollowers, string(actor.ActorType()), actor.ActorID()).Scan(&n)
	return n, err
}

func (db *DB) BanInstance(ctx context.Context, host string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertBannedInstance, strings.ToLower(host), time.Now().UTC())
		return err
	})
}

func (db *DB) IsBannedInstance(ctx context.Context, host string) (bool, error) {
	var banned bool
	err := db.db.QueryRowContext(ctx, sqlSelectBannedInstance, strings.ToLower(host)).Scan(&banned)
	return banned, err
}

func (db *DB) BanTag(ctx context.Context, tag string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertBannedTag, strings.ToLower(tag), time.Now().UTC())
		return err
	})
}

func (db *DB) IsBannedTag(ctx context.Context, tag string) (bool, error) {
	var banned bool
	err := db.db.QueryRowContext(ctx, sqlSelectBannedTag, strings.ToLower(tag)).Scan(&banned)
	return banned, err
}
