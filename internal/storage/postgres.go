package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
)

const pqUniqueViolation = "23505"

// Schema is the DDL applied by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS postcard_drafts (
	id                TEXT PRIMARY KEY,
	platform          TEXT NOT NULL,
	source_message_id TEXT NOT NULL UNIQUE,
	source_author     TEXT NOT NULL DEFAULT '',
	source_text       TEXT NOT NULL DEFAULT '',
	source_url        TEXT NOT NULL DEFAULT '',
	topic             TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	reply_text        TEXT NOT NULL DEFAULT '',
	image_url         TEXT NOT NULL DEFAULT '',
	verdict           JSONB,
	campaign_type     TEXT NOT NULL DEFAULT '',
	strategy          TEXT NOT NULL DEFAULT '',
	action_type       TEXT NOT NULL DEFAULT 'reply',
	score             INTEGER NOT NULL,
	status            TEXT NOT NULL,
	publish_attempts  INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT NOT NULL DEFAULT '',
	next_retry_at     TIMESTAMPTZ,
	platform_post_id  TEXT NOT NULL DEFAULT '',
	published_at      TIMESTAMPTZ,
	likes             INTEGER NOT NULL DEFAULT 0,
	retweets          INTEGER NOT NULL DEFAULT 0,
	replies           INTEGER NOT NULL DEFAULT 0,
	impressions       INTEGER NOT NULL DEFAULT 0,
	last_synced_at    TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS postcard_drafts_status_score_idx ON postcard_drafts (status, score DESC);

CREATE TABLE IF NOT EXISTS campaigns (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	platforms   TEXT[] NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	owner_id    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id              TEXT PRIMARY KEY,
	content         TEXT NOT NULL,
	platforms       TEXT[] NOT NULL DEFAULT '{}',
	platform_data   JSONB NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL,
	campaign_id     TEXT NOT NULL DEFAULT '',
	source_draft_id TEXT NOT NULL DEFAULT '',
	media_urls      TEXT[] NOT NULL DEFAULT '{}',
	scheduled_at    TIMESTAMPTZ,
	published_at    TIMESTAMPTZ,
	last_synced_at  TIMESTAMPTZ,
	deleted_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_status_idx ON posts (status);

CREATE TABLE IF NOT EXISTS platform_connections (
	platform       TEXT PRIMARY KEY,
	credentials    JSONB NOT NULL DEFAULT '{}',
	connected      BOOLEAN NOT NULL DEFAULT FALSE,
	status         TEXT NOT NULL DEFAULT '',
	last_error     TEXT NOT NULL DEFAULT '',
	last_tested_at TIMESTAMPTZ,
	updated_at     TIMESTAMPTZ NOT NULL
);
`

const draftColumns = `id, platform, source_message_id, source_author, source_text, source_url, topic, location,
	reply_text, image_url, verdict, campaign_type, strategy, action_type, score, status,
	publish_attempts, last_error, next_retry_at, platform_post_id, published_at,
	likes, retweets, replies, impressions, last_synced_at, created_at, updated_at`

const postColumns = `id, content, platforms, platform_data, status, campaign_id, source_draft_id, media_urls,
	scheduled_at, published_at, last_synced_at, deleted_at, created_at, updated_at`

const campaignColumns = `id, name, description, platforms, status, owner_id, created_at, updated_at`

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	db *sql.DB
}

// NewPostgreSQLStorage opens and pings a pooled connection.
func NewPostgreSQLStorage(ctx context.Context, cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	if cfg.PostgresURI == "" {
		return nil, fmt.Errorf("postgres URI is required")
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgreSQLStorage{db: db}, nil
}

// NewPostgreSQLStorageFromDB wraps an existing handle.
func NewPostgreSQLStorageFromDB(db *sql.DB) *PostgreSQLStorage {
	return &PostgreSQLStorage{db: db}
}

// Migrate applies Schema.
func (s *PostgreSQLStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func platformStrings(ps []models.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func stringPlatforms(ss []string) []models.Platform {
	out := make([]models.Platform, len(ss))
	for i, s := range ss {
		out[i] = models.Platform(s)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func scanDraft(row rowScanner) (*models.Draft, error) {
	var (
		d                                    models.Draft
		verdict                              []byte
		nextRetry, publishedAt, lastSyncedAt sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.Platform, &d.SourceMessageID, &d.SourceAuthor, &d.SourceText, &d.SourceURL, &d.Topic, &d.Location,
		&d.ReplyText, &d.ImageURL, &verdict, &d.CampaignType, &d.Strategy, &d.ActionType, &d.Score, &d.Status,
		&d.PublishAttempts, &d.LastError, &nextRetry, &d.PlatformPostID, &publishedAt,
		&d.Engagement.Likes, &d.Engagement.Retweets, &d.Engagement.Replies, &d.Engagement.Impressions,
		&lastSyncedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(verdict) > 0 {
		var v models.Verdict
		if err := json.Unmarshal(verdict, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
		}
		d.Verdict = &v
	}
	d.NextRetryAt = timePtr(nextRetry)
	d.PublishedAt = timePtr(publishedAt)
	d.LastSyncedAt = timePtr(lastSyncedAt)
	return &d, nil
}

func verdictValue(v *models.Verdict) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return b, nil
}

// CreateDraft inserts a draft; a repeated source message yields ErrDuplicate.
func (s *PostgreSQLStorage) CreateDraft(ctx context.Context, d *models.Draft) error {
	verdict, err := verdictValue(d.Verdict)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO postcard_drafts (`+draftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`,
		d.ID, d.Platform, d.SourceMessageID, d.SourceAuthor, d.SourceText, d.SourceURL, d.Topic, d.Location,
		d.ReplyText, d.ImageURL, verdict, d.CampaignType, d.Strategy, d.ActionType, d.Score, d.Status,
		d.PublishAttempts, d.LastError, nullTime(d.NextRetryAt), d.PlatformPostID, nullTime(d.PublishedAt),
		d.Engagement.Likes, d.Engagement.Retweets, d.Engagement.Replies, d.Engagement.Impressions,
		nullTime(d.LastSyncedAt), d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert draft %s: %w", d.ID, err)
	}
	return nil
}

// GetDraft retrieves a draft by ID.
func (s *PostgreSQLStorage) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	d, err := scanDraft(s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM postcard_drafts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft %s: %w", id, err)
	}
	return d, nil
}

// GetDraftBySource retrieves the draft generated for a source message.
func (s *PostgreSQLStorage) GetDraftBySource(ctx context.Context, sourceMessageID string) (*models.Draft, error) {
	d, err := scanDraft(s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM postcard_drafts WHERE source_message_id = $1`, sourceMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft for source %s: %w", sourceMessageID, err)
	}
	return d, nil
}

// ListDrafts returns drafts matching f.
func (s *PostgreSQLStorage) ListDrafts(ctx context.Context, f DraftFilter) ([]models.Draft, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(pq.Array(statuses))+")")
	}
	if f.MinScore > 0 {
		where = append(where, "score >= "+arg(f.MinScore))
	}
	if f.MaxScore > 0 {
		where = append(where, "score < "+arg(f.MaxScore))
	}
	if f.CampaignType != "" {
		where = append(where, "campaign_type = "+arg(f.CampaignType))
	}
	if f.DueBefore != nil {
		where = append(where, "next_retry_at <= "+arg(*f.DueBefore))
	}
	if f.Published {
		where = append(where, "platform_post_id <> ''")
	}

	query := `SELECT ` + draftColumns + ` FROM postcard_drafts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.OrderByScore {
		query += " ORDER BY score DESC, created_at DESC"
	} else {
		query += " ORDER BY created_at DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	drafts := []models.Draft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

// UpdateDraft replaces a draft if its stored status equals expect.
func (s *PostgreSQLStorage) UpdateDraft(ctx context.Context, d *models.Draft, expect models.DraftStatus) error {
	verdict, err := verdictValue(d.Verdict)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE postcard_drafts SET
		reply_text = $2, image_url = $3, verdict = $4, score = $5, status = $6,
		publish_attempts = $7, last_error = $8, next_retry_at = $9, platform_post_id = $10, published_at = $11,
		likes = $12, retweets = $13, replies = $14, impressions = $15, last_synced_at = $16, updated_at = $17
		WHERE id = $1 AND status = $18`,
		d.ID, d.ReplyText, d.ImageURL, verdict, d.Score, d.Status,
		d.PublishAttempts, d.LastError, nullTime(d.NextRetryAt), d.PlatformPostID, nullTime(d.PublishedAt),
		d.Engagement.Likes, d.Engagement.Retweets, d.Engagement.Replies, d.Engagement.Impressions,
		nullTime(d.LastSyncedAt), d.UpdatedAt, expect,
	)
	if err != nil {
		return fmt.Errorf("failed to update draft %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM postcard_drafts WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check draft %s: %w", d.ID, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// DeleteDraft removes a draft.
func (s *PostgreSQLStorage) DeleteDraft(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM postcard_drafts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDraftsBelow removes unpublished drafts scoring below score.
func (s *PostgreSQLStorage) DeleteDraftsBelow(ctx context.Context, score int) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM postcard_drafts WHERE score < $1 AND status <> $2`, score, models.DraftPublished)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up drafts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		p                                                 models.Post
		platforms, media                                  pq.StringArray
		scheduledAt, publishedAt, lastSyncedAt, deletedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Content, &platforms, &p.PlatformData, &p.Status, &p.CampaignID, &p.SourceDraftID, &media,
		&scheduledAt, &publishedAt, &lastSyncedAt, &deletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Platforms = stringPlatforms(platforms)
	p.MediaURLs = []string(media)
	p.ScheduledAt = timePtr(scheduledAt)
	p.PublishedAt = timePtr(publishedAt)
	p.LastSyncedAt = timePtr(lastSyncedAt)
	p.DeletedAt = timePtr(deletedAt)
	return &p, nil
}

// CreatePost inserts a post.
func (s *PostgreSQLStorage) CreatePost(ctx context.Context, p *models.Post) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO posts (`+postColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.Content, pq.Array(platformStrings(p.Platforms)), p.PlatformData, p.Status, p.CampaignID, p.SourceDraftID,
		pq.Array(p.MediaURLs), nullTime(p.ScheduledAt), nullTime(p.PublishedAt), nullTime(p.LastSyncedAt),
		nullTime(p.DeletedAt), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert post %s: %w", p.ID, err)
	}
	return nil
}

// GetPost retrieves a post by ID, including soft-deleted ones.
func (s *PostgreSQLStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return p, nil
}

// ListPosts returns posts matching f, newest first.
func (s *PostgreSQLStorage) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if f.CampaignID != "" {
		where = append(where, "campaign_id = "+arg(f.CampaignID))
	}
	if f.Platform != "" {
		where = append(where, arg(string(f.Platform))+" = ANY(platforms)")
	}
	if f.ScheduledUntil != nil {
		where = append(where, "scheduled_at <= "+arg(*f.ScheduledUntil))
	}

	query := `SELECT ` + postColumns + ` FROM posts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// UpdatePost replaces a post.
func (s *PostgreSQLStorage) UpdatePost(ctx context.Context, p *models.Post) error {
	return s.updatePost(ctx, p, "")
}

// UpdatePostIf replaces a live post if its stored status equals expect.
func (s *PostgreSQLStorage) UpdatePostIf(ctx context.Context, p *models.Post, expect models.PostStatus) error {
	return s.updatePost(ctx, p, expect)
}

func (s *PostgreSQLStorage) updatePost(ctx context.Context, p *models.Post, expect models.PostStatus) error {
	query := `UPDATE posts SET
		content = $2, platforms = $3, platform_data = $4, status = $5, campaign_id = $6, media_urls = $7,
		scheduled_at = $8, published_at = $9, last_synced_at = $10, updated_at = $11
		WHERE id = $1`
	args := []interface{}{
		p.ID, p.Content, pq.Array(platformStrings(p.Platforms)), p.PlatformData, p.Status, p.CampaignID,
		pq.Array(p.MediaURLs), nullTime(p.ScheduledAt), nullTime(p.PublishedAt), nullTime(p.LastSyncedAt), p.UpdatedAt,
	}
	if expect != "" {
		query += ` AND status = $12 AND deleted_at IS NULL`
		args = append(args, expect)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update post %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if expect == "" {
		return ErrNotFound
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1 AND deleted_at IS NULL)`, p.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check post %s: %w", p.ID, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// SoftDeletePost stamps deleted_at once.
func (s *PostgreSQLStorage) SoftDeletePost(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to delete post %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return false, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check post %s: %w", id, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return true, nil
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		c         models.Campaign
		platforms pq.StringArray
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &platforms, &c.Status, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Platforms = stringPlatforms(platforms)
	return &c, nil
}

// CreateCampaign inserts a campaign.
func (s *PostgreSQLStorage) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO campaigns (`+campaignColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.Name, c.Description, pq.Array(platformStrings(c.Platforms)), c.Status, c.OwnerID, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert campaign %s: %w", c.ID, err)
	}
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (s *PostgreSQLStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return c, nil
}

// ListCampaigns returns all campaigns, newest first.
func (s *PostgreSQLStorage) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// UpdateCampaign replaces a campaign.
func (s *PostgreSQLStorage) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET name = $2, description = $3, platforms = $4, status = $5, updated_at = $6 WHERE id = $1`,
		c.ID, c.Name, c.Description, pq.Array(platformStrings(c.Platforms)), c.Status, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update campaign %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCampaign removes a campaign.
func (s *PostgreSQLStorage) DeleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnection(row rowScanner) (*models.PlatformConnection, error) {
	var (
		c      models.PlatformConnection
		creds  []byte
		tested sql.NullTime
	)
	if err := row.Scan(&c.Platform, &creds, &c.Connected, &c.Status, &c.LastError, &tested, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &c.Credentials); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
		}
	}
	c.LastTestedAt = timePtr(tested)
	return &c, nil
}

// GetConnection retrieves the connection row for a platform.
func (s *PostgreSQLStorage) GetConnection(ctx context.Context, p models.Platform) (*models.PlatformConnection, error) {
	c, err := scanConnection(s.db.QueryRowContext(ctx,
		`SELECT platform, credentials, connected, status, last_error, last_tested_at, updated_at FROM platform_connections WHERE platform = $1`, p))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection %s: %w", p, err)
	}
	return c, nil
}

// UpsertConnection creates or replaces the connection row for a platform.
func (s *PostgreSQLStorage) UpsertConnection(ctx context.Context, c *models.PlatformConnection) error {
	creds, err := json.Marshal(c.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO platform_connections (platform, credentials, connected, status, last_error, last_tested_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (platform) DO UPDATE SET credentials = EXCLUDED.credentials, connected = EXCLUDED.connected,
			status = EXCLUDED.status, last_error = EXCLUDED.last_error, last_tested_at = EXCLUDED.last_tested_at,
			updated_at = EXCLUDED.updated_at`,
		c.Platform, creds, c.Connected, c.Status, c.LastError, nullTime(c.LastTestedAt), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert connection %s: %w", c.Platform, err)
	}
	return nil
}

// ListConnections returns all connection rows.
func (s *PostgreSQLStorage) ListConnections(ctx context.Context) ([]models.PlatformConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, credentials, connected, status, last_error, last_tested_at, updated_at FROM platform_connections ORDER BY platform`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	conns := []models.PlatformConnection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

// Ping checks the pool.
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}
