package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

const (
	sqlCreateRemoteActorsTable = `CREATE TABLE IF NOT EXISTS remote_actors (
		id uuid NOT NULL PRIMARY KEY,
		profile_id TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		username TEXT NOT NULL,
		public_key_pem TEXT NOT NULL DEFAULT '',
		inbox_url TEXT NOT NULL,
		shared_inbox_url TEXT NOT NULL DEFAULT '',
		followers_url TEXT NOT NULL DEFAULT '',
		last_fetched_at timestamp,
		deleted_at timestamp,
		timeout_at timestamp
	)`

	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		id uuid NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		remote_actor_id uuid REFERENCES remote_actors(id),
		public_key TEXT NOT NULL DEFAULT '',
		private_key TEXT NOT NULL DEFAULT '',
		is_banned INTEGER NOT NULL DEFAULT 0,
		deleted_at timestamp,
		trashed_at timestamp,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateMagazinesTable = `CREATE TABLE IF NOT EXISTS magazines (
		id uuid NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		remote_actor_id uuid REFERENCES remote_actors(id),
		public_key TEXT NOT NULL DEFAULT '',
		private_key TEXT NOT NULL DEFAULT '',
		posting_restricted_to_mods INTEGER NOT NULL DEFAULT 0,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		followed_type TEXT NOT NULL,
		followed_id uuid NOT NULL,
		follower_id uuid NOT NULL REFERENCES users(id),
		created_at timestamp DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (followed_type, followed_id, follower_id)
	)`

	sqlCreateModeratorsTable = `CREATE TABLE IF NOT EXISTS moderators (
		magazine_id uuid NOT NULL REFERENCES magazines(id),
		user_id uuid NOT NULL REFERENCES users(id),
		created_at timestamp DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (magazine_id, user_id)
	)`

	sqlCreateContentsTable = `CREATE TABLE IF NOT EXISTS contents (
		id uuid NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		ap_id TEXT UNIQUE,
		author_id uuid NOT NULL REFERENCES users(id),
		magazine_id uuid REFERENCES magazines(id),
		parent_id uuid REFERENCES contents(id),
		root_id uuid REFERENCES contents(id),
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		lang TEXT NOT NULL DEFAULT '',
		sensitive INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		mentions TEXT NOT NULL DEFAULT '[]',
		attachments TEXT NOT NULL DEFAULT '[]',
		poll TEXT NOT NULL DEFAULT '[]',
		visibility TEXT NOT NULL DEFAULT 'public',
		is_locked INTEGER NOT NULL DEFAULT 0,
		favourites INTEGER NOT NULL DEFAULT 0,
		dislikes INTEGER NOT NULL DEFAULT 0,
		shares INTEGER NOT NULL DEFAULT 0,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP,
		edited_at timestamp
	)`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id uuid NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE,
		kind TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		actor_id uuid NOT NULL,
		object_type TEXT NOT NULL,
		object_kind TEXT NOT NULL DEFAULT '',
		object_ref TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		audience_id uuid REFERENCES magazines(id),
		summary TEXT NOT NULL DEFAULT '',
		expires timestamp,
		cached_json BLOB,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateBannedInstancesTable = `CREATE TABLE IF NOT EXISTS banned_instances (
		host TEXT NOT NULL PRIMARY KEY,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateBannedTagsTable = `CREATE TABLE IF NOT EXISTS banned_tags (
		tag TEXT NOT NULL PRIMARY KEY,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_actors_inbox_url ON remote_actors(inbox_url);
		CREATE INDEX IF NOT EXISTS idx_users_remote_actor_id ON users(remote_actor_id);
		CREATE INDEX IF NOT EXISTS idx_magazines_remote_actor_id ON magazines(remote_actor_id);
		CREATE INDEX IF NOT EXISTS idx_follows_follower_id ON follows(follower_id);
		CREATE INDEX IF NOT EXISTS idx_contents_root_id ON contents(root_id);
		CREATE INDEX IF NOT EXISTS idx_contents_magazine_id ON contents(magazine_id);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`
)

var tables = []struct {
	name string
	sql  string
}{
	{"remote_actors", sqlCreateRemoteActorsTable},
	{"users", sqlCreateUsersTable},
	{"magazines", sqlCreateMagazinesTable},
	{"follows", sqlCreateFollowsTable},
	{"moderators", sqlCreateModeratorsTable},
	{"contents", sqlCreateContentsTable},
	{"activities", sqlCreateActivitiesTable},
	{"banned_instances", sqlCreateBannedInstancesTable},
	{"banned_tags", sqlCreateBannedTagsTable},
}

// RunMigrations creates every table and index that does not exist yet.
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.sql, t.name); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(sqlCreateIndices); err != nil {
			db.log.Warn("DB: Failed to create indices", zap.Error(err))
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	if _, err := tx.Exec(createSQL); err != nil {
		db.log.Error("DB: Error creating table", zap.String("table", tableName), zap.Error(err))
		return err
	}
	db.log.Debug("DB: Table created or already exists", zap.String("table", tableName))
	return nil
}
