package store

// SQL schema constants for the provenance store's persisted tables.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL DEFAULT '',
    security_key TEXT NOT NULL,
    profile_picture TEXT NOT NULL DEFAULT '',
    bio TEXT NOT NULL DEFAULT '',
    warning INTEGER NOT NULL DEFAULT 0 CHECK (warning <= 3),
    following_count INTEGER NOT NULL DEFAULT 0,
    followers_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

const schemaPosts = `
CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(user_id),
    media_url TEXT NOT NULL UNIQUE,
    caption TEXT NOT NULL DEFAULT '',
    media_type TEXT NOT NULL CHECK (media_type IN ('image','video')),
    likes_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id);
`

const schemaDMM = `
CREATE TABLE IF NOT EXISTS dmm (
    dmm_id TEXT PRIMARY KEY,
    video_id TEXT NOT NULL REFERENCES posts(id),
    hash_value TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dmm_video ON dmm(video_id);
`

const schemaActivities = `
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    receiver_name TEXT NOT NULL REFERENCES users(username),
    sender_name TEXT NOT NULL REFERENCES users(username),
    media_type TEXT NOT NULL,
    liked_post_id TEXT,
    liked_post_url TEXT,
    liked_user_profile_picture TEXT,
    followed_profile_picture TEXT,
    detected_post_id TEXT,
    detected_post_url TEXT,
    detected_user_profile_picture TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_receiver ON activities(receiver_name);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout. Foreign keys reference
// tables earlier in this list, so order matters.
var allSchemas = []string{
	schemaUsers,
	schemaPosts,
	schemaDMM,
	schemaActivities,
	schemaMigrations,
}
