package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
)

// MongoDBStorage implements Storage using MongoDB collections.
type MongoDBStorage struct {
	client      *mongo.Client
	drafts      *mongo.Collection
	posts       *mongo.Collection
	campaigns   *mongo.Collection
	connections *mongo.Collection
}

// NewMongoDBStorage connects, pings and ensures indexes.
func NewMongoDBStorage(ctx context.Context, cfg config.StorageConfig) (*MongoDBStorage, error) {
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("mongodb URI is required")
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.MongoDBURI).
		SetMaxPoolSize(uint64(cfg.MaxOpenConns)).
		SetMaxConnIdleTime(cfg.ConnMaxLifetime))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	s := &MongoDBStorage{
		client:      client,
		drafts:      db.Collection(cfg.TablePrefix + "postcard_drafts"),
		posts:       db.Collection(cfg.TablePrefix + "posts"),
		campaigns:   db.Collection(cfg.TablePrefix + "campaigns"),
		connections: db.Collection(cfg.TablePrefix + "platform_connections"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoDBStorage) ensureIndexes(ctx context.Context) error {
	_, err := s.drafts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sourceMessageId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "score", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create draft indexes: %w", err)
	}
	_, err = s.posts.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}}})
	if err != nil {
		return fmt.Errorf("failed to create post indexes: %w", err)
	}
	return nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M) (*T, error) {
	var out T
	err := coll.FindOne(ctx, filter).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func exists(ctx context.Context, coll *mongo.Collection, id interface{}) (bool, error) {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	return n > 0, err
}

func findOptions(sort bson.D, limit, offset int) *options.FindOptions {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	return opts
}

// CreateDraft inserts a draft; the unique source index yields ErrDuplicate.
func (s *MongoDBStorage) CreateDraft(ctx context.Context, d *models.Draft) error {
	_, err := s.drafts.InsertOne(ctx, d)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert draft %s: %w", d.ID, err)
	}
	return nil
}

// GetDraft retrieves a draft by ID.
func (s *MongoDBStorage) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	d, err := findOne[models.Draft](ctx, s.drafts, bson.M{"_id": id})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get draft %s: %w", id, err)
	}
	return d, err
}

// GetDraftBySource retrieves the draft generated for a source message.
func (s *MongoDBStorage) GetDraftBySource(ctx context.Context, sourceMessageID string) (*models.Draft, error) {
	d, err := findOne[models.Draft](ctx, s.drafts, bson.M{"sourceMessageId": sourceMessageID})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get draft for source %s: %w", sourceMessageID, err)
	}
	return d, err
}

func draftQuery(f DraftFilter) bson.M {
	q := bson.M{}
	if len(f.Statuses) > 0 {
		q["status"] = bson.M{"$in": f.Statuses}
	}
	score := bson.M{}
	if f.MinScore > 0 {
		score["$gte"] = f.MinScore
	}
	if f.MaxScore > 0 {
		score["$lt"] = f.MaxScore
	}
	if len(score) > 0 {
		q["score"] = score
	}
	if f.CampaignType != "" {
		q["campaignType"] = f.CampaignType
	}
	if f.DueBefore != nil {
		q["nextRetryAt"] = bson.M{"$lte": *f.DueBefore}
	}
	if f.Published {
		q["platformPostId"] = bson.M{"$exists": true, "$ne": ""}
	}
	return q
}

// ListDrafts returns drafts matching f.
func (s *MongoDBStorage) ListDrafts(ctx context.Context, f DraftFilter) ([]models.Draft, error) {
	sort := bson.D{{Key: "createdAt", Value: -1}}
	if f.OrderByScore {
		sort = bson.D{{Key: "score", Value: -1}, {Key: "createdAt", Value: -1}}
	}
	drafts, err := findAll[models.Draft](ctx, s.drafts, draftQuery(f), findOptions(sort, f.Limit, f.Offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// UpdateDraft replaces a draft if its stored status equals expect.
func (s *MongoDBStorage) UpdateDraft(ctx context.Context, d *models.Draft, expect models.DraftStatus) error {
	res, err := s.drafts.ReplaceOne(ctx, bson.M{"_id": d.ID, "status": expect}, d)
	if err != nil {
		return fmt.Errorf("failed to update draft %s: %w", d.ID, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	ok, err := exists(ctx, s.drafts, d.ID)
	if err != nil {
		return fmt.Errorf("failed to check draft %s: %w", d.ID, err)
	}
	if !ok {
		return ErrNotFound
	}
	return ErrConflict
}

// DeleteDraft removes a draft.
func (s *MongoDBStorage) DeleteDraft(ctx context.Context, id string) error {
	res, err := s.drafts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDraftsBelow removes unpublished drafts scoring below score.
func (s *MongoDBStorage) DeleteDraftsBelow(ctx context.Context, score int) (int, error) {
	res, err := s.drafts.DeleteMany(ctx, bson.M{
		"score":  bson.M{"$lt": score},
		"status": bson.M{"$ne": models.DraftPublished},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up drafts: %w", err)
	}
	return int(res.DeletedCount), nil
}

// CreatePost inserts a post.
func (s *MongoDBStorage) CreatePost(ctx context.Context, p *models.Post) error {
	_, err := s.posts.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert post %s: %w", p.ID, err)
	}
	return nil
}

// GetPost retrieves a post by ID, including soft-deleted ones.
func (s *MongoDBStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	p, err := findOne[models.Post](ctx, s.posts, bson.M{"_id": id})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return p, err
}

// ListPosts returns posts matching f, newest first.
func (s *MongoDBStorage) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, error) {
	q := bson.M{}
	if !f.IncludeDeleted {
		q["deletedAt"] = bson.M{"$exists": false}
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.CampaignID != "" {
		q["campaignId"] = f.CampaignID
	}
	if f.Platform != "" {
		q["platforms"] = f.Platform
	}
	if f.ScheduledUntil != nil {
		q["scheduledAt"] = bson.M{"$lte": *f.ScheduledUntil}
	}

	posts, err := findAll[models.Post](ctx, s.posts, q, findOptions(bson.D{{Key: "createdAt", Value: -1}}, f.Limit, f.Offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// UpdatePost replaces a post.
func (s *MongoDBStorage) UpdatePost(ctx context.Context, p *models.Post) error {
	res, err := s.posts.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return fmt.Errorf("failed to update post %s: %w", p.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePostIf replaces a live post if its stored status equals expect.
func (s *MongoDBStorage) UpdatePostIf(ctx context.Context, p *models.Post, expect models.PostStatus) error {
	res, err := s.posts.ReplaceOne(ctx, bson.M{"_id": p.ID, "status": expect, "deletedAt": bson.M{"$exists": false}}, p)
	if err != nil {
		return fmt.Errorf("failed to update post %s: %w", p.ID, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	_, err = findOne[models.Post](ctx, s.posts, bson.M{"_id": p.ID, "deletedAt": bson.M{"$exists": false}})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check post %s: %w", p.ID, err)
	}
	return ErrConflict
}

// SoftDeletePost stamps deletedAt once.
func (s *MongoDBStorage) SoftDeletePost(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.posts.UpdateOne(ctx,
		bson.M{"_id": id, "deletedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"deletedAt": at, "updatedAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete post %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return false, nil
	}
	ok, err := exists(ctx, s.posts, id)
	if err != nil {
		return false, fmt.Errorf("failed to check post %s: %w", id, err)
	}
	if !ok {
		return false, ErrNotFound
	}
	return true, nil
}

// CreateCampaign inserts a campaign.
func (s *MongoDBStorage) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := s.campaigns.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert campaign %s: %w", c.ID, err)
	}
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (s *MongoDBStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := findOne[models.Campaign](ctx, s.campaigns, bson.M{"_id": id})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return c, err
}

// ListCampaigns returns all campaigns, newest first.
func (s *MongoDBStorage) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	campaigns, err := findAll[models.Campaign](ctx, s.campaigns, bson.M{}, findOptions(bson.D{{Key: "createdAt", Value: -1}}, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// UpdateCampaign replaces a campaign.
func (s *MongoDBStorage) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	res, err := s.campaigns.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return fmt.Errorf("failed to update campaign %s: %w", c.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCampaign removes a campaign.
func (s *MongoDBStorage) DeleteCampaign(ctx context.Context, id string) error {
	res, err := s.campaigns.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConnection retrieves the connection row for a platform.
func (s *MongoDBStorage) GetConnection(ctx context.Context, p models.Platform) (*models.PlatformConnection, error) {
	c, err := findOne[models.PlatformConnection](ctx, s.connections, bson.M{"_id": p})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get connection %s: %w", p, err)
	}
	return c, err
}

// UpsertConnection creates or replaces the connection row for a platform.
func (s *MongoDBStorage) UpsertConnection(ctx context.Context, c *models.PlatformConnection) error {
	_, err := s.connections.ReplaceOne(ctx, bson.M{"_id": c.Platform}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert connection %s: %w", c.Platform, err)
	}
	return nil
}

// ListConnections returns connection rows in platform order.
func (s *MongoDBStorage) ListConnections(ctx context.Context) ([]models.PlatformConnection, error) {
	all, err := findAll[models.PlatformConnection](ctx, s.connections, bson.M{}, options.Find())
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	byPlatform := make(map[models.Platform]models.PlatformConnection, len(all))
	for _, c := range all {
		byPlatform[c.Platform] = c
	}
	out := make([]models.PlatformConnection, 0, len(all))
	for _, p := range models.AllPlatforms {
		if c, ok := byPlatform[p]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Ping checks the primary.
func (s *MongoDBStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
