package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB
type DynamoDBStorage struct {
	client *dynamodb.DynamoDB

	draftsTable      string
	sourcesTable     string
	postsTable       string
	campaignsTable   string
	connectionsTable string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := &DynamoDBStorage{
		client:           dynamodb.New(sess),
		draftsTable:      cfg.TablePrefix + "postcard_drafts",
		sourcesTable:     cfg.TablePrefix + "draft_sources",
		postsTable:       cfg.TablePrefix + "posts",
		campaignsTable:   cfg.TablePrefix + "campaigns",
		connectionsTable: cfg.TablePrefix + "platform_connections",
	}

	keys := map[string]string{
		storage.draftsTable:      "id",
		storage.sourcesTable:     "source",
		storage.postsTable:       "id",
		storage.campaignsTable:   "id",
		storage.connectionsTable: "platform",
	}
	for table, key := range keys {
		if err := storage.ensureTable(table, key); err != nil {
			return nil, fmt.Errorf("failed to ensure table %s exists: %w", table, err)
		}
	}

	return storage, nil
}

// ensureTable creates a string-keyed table if it doesn't exist
func (d *DynamoDBStorage) ensureTable(table, key string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(key),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(key),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
}

func stringKey(name, value string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{name: {S: aws.String(value)}}
}

func isConditionFailure(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	return aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException ||
		aerr.Code() == dynamodb.ErrCodeTransactionCanceledException
}

func (d *DynamoDBStorage) getItem(ctx context.Context, table string, key map[string]*dynamodb.AttributeValue, out interface{}) error {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return err
	}
	if result.Item == nil {
		return ErrNotFound
	}
	return dynamodbattribute.UnmarshalMap(result.Item, out)
}

func (d *DynamoDBStorage) scanAll(ctx context.Context, table string) ([]map[string]*dynamodb.AttributeValue, error) {
	var items []map[string]*dynamodb.AttributeValue
	err := d.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{TableName: aws.String(table)},
		func(page *dynamodb.ScanOutput, lastPage bool) bool {
			items = append(items, page.Items...)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	return items, nil
}

// CreateDraft writes the draft and its source claim in one transaction.
func (d *DynamoDBStorage) CreateDraft(ctx context.Context, draft *models.Draft) error {
	item, err := dynamodbattribute.MarshalMap(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft %s: %w", draft.ID, err)
	}
	source := stringKey("source", draft.SourceMessageID)
	source["draftId"] = &dynamodb.AttributeValue{S: aws.String(draft.ID)}

	_, err = d.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Put: &dynamodb.Put{
				TableName:                aws.String(d.sourcesTable),
				Item:                     source,
				ConditionExpression:      aws.String("attribute_not_exists(#k)"),
				ExpressionAttributeNames: map[string]*string{"#k": aws.String("source")},
			}},
			{Put: &dynamodb.Put{
				TableName:           aws.String(d.draftsTable),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
		},
	})
	if isConditionFailure(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to store draft %s: %w", draft.ID, err)
	}
	return nil
}

// GetDraft retrieves a draft by ID.
func (d *DynamoDBStorage) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	var draft models.Draft
	if err := d.getItem(ctx, d.draftsTable, stringKey("id", id), &draft); err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get draft %s: %w", id, err)
	}
	return &draft, nil
}

// GetDraftBySource resolves the source claim, then the draft.
func (d *DynamoDBStorage) GetDraftBySource(ctx context.Context, sourceMessageID string) (*models.Draft, error) {
	var claim struct {
		DraftID string `dynamodbav:"draftId"`
	}
	if err := d.getItem(ctx, d.sourcesTable, stringKey("source", sourceMessageID), &claim); err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get source %s: %w", sourceMessageID, err)
	}
	return d.GetDraft(ctx, claim.DraftID)
}

// ListDrafts scans the table and filters in process.
func (d *DynamoDBStorage) ListDrafts(ctx context.Context, f DraftFilter) ([]models.Draft, error) {
	items, err := d.scanAll(ctx, d.draftsTable)
	if err != nil {
		return nil, err
	}
	var all []models.Draft
	if err := dynamodbattribute.UnmarshalListOfMaps(items, &all); err != nil {
		return nil, fmt.Errorf("failed to unmarshal drafts: %w", err)
	}

	out := make([]models.Draft, 0, len(all))
	for _, draft := range all {
		if matchesDraft(&draft, f) {
			out = append(out, draft)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if f.OrderByScore && out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, f.Limit, f.Offset), nil
}

// UpdateDraft replaces a draft if its stored status equals expect.
func (d *DynamoDBStorage) UpdateDraft(ctx context.Context, draft *models.Draft, expect models.DraftStatus) error {
	item, err := dynamodbattribute.MarshalMap(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft %s: %w", draft.ID, err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.draftsTable),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(id) AND #s = :expect"),
		ExpressionAttributeNames: map[string]*string{"#s": aws.String("status")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":expect": {S: aws.String(string(expect))},
		},
	})
	if isConditionFailure(err) {
		if _, getErr := d.GetDraft(ctx, draft.ID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update draft %s: %w", draft.ID, err)
	}
	return nil
}

// DeleteDraft removes a draft and releases its source claim.
func (d *DynamoDBStorage) DeleteDraft(ctx context.Context, id string) error {
	draft, err := d.GetDraft(ctx, id)
	if err != nil {
		return err
	}
	return d.deleteDraft(ctx, draft)
}

func (d *DynamoDBStorage) deleteDraft(ctx context.Context, draft *models.Draft) error {
	_, err := d.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Delete: &dynamodb.Delete{TableName: aws.String(d.draftsTable), Key: stringKey("id", draft.ID)}},
			{Delete: &dynamodb.Delete{TableName: aws.String(d.sourcesTable), Key: stringKey("source", draft.SourceMessageID)}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", draft.ID, err)
	}
	return nil
}

// DeleteDraftsBelow removes unpublished drafts scoring below score.
func (d *DynamoDBStorage) DeleteDraftsBelow(ctx context.Context, score int) (int, error) {
	drafts, err := d.ListDrafts(ctx, DraftFilter{MaxScore: score})
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range drafts {
		if drafts[i].Status == models.DraftPublished {
			continue
		}
		if err := d.deleteDraft(ctx, &drafts[i]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// CreatePost stores a post.
func (d *DynamoDBStorage) CreatePost(ctx context.Context, p *models.Post) error {
	return d.putNew(ctx, d.postsTable, p.ID, p)
}

func (d *DynamoDBStorage) putNew(ctx context.Context, table, id string, v interface{}) error {
	item, err := dynamodbattribute.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}
	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if isConditionFailure(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", id, err)
	}
	return nil
}

func (d *DynamoDBStorage) putExisting(ctx context.Context, table, id string, v interface{}) error {
	item, err := dynamodbattribute.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}
	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if isConditionFailure(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", id, err)
	}
	return nil
}

// GetPost retrieves a post by ID, including soft-deleted ones.
func (d *DynamoDBStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var p models.Post
	if err := d.getItem(ctx, d.postsTable, stringKey("id", id), &p); err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return &p, nil
}

// ListPosts scans the table and filters in process.
func (d *DynamoDBStorage) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, error) {
	items, err := d.scanAll(ctx, d.postsTable)
	if err != nil {
		return nil, err
	}
	var all []models.Post
	if err := dynamodbattribute.UnmarshalListOfMaps(items, &all); err != nil {
		return nil, fmt.Errorf("failed to unmarshal posts: %w", err)
	}

	out := make([]models.Post, 0, len(all))
	for _, p := range all {
		if matchesPost(&p, f) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, f.Limit, f.Offset), nil
}

// UpdatePost replaces a post.
func (d *DynamoDBStorage) UpdatePost(ctx context.Context, p *models.Post) error {
	return d.putExisting(ctx, d.postsTable, p.ID, p)
}

// UpdatePostIf replaces a live post if its stored status equals expect.
func (d *DynamoDBStorage) UpdatePostIf(ctx context.Context, p *models.Post, expect models.PostStatus) error {
	item, err := dynamodbattribute.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("failed to marshal post %s: %w", p.ID, err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.postsTable),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(id) AND attribute_not_exists(deletedAt) AND #s = :expect"),
		ExpressionAttributeNames: map[string]*string{"#s": aws.String("status")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":expect": {S: aws.String(string(expect))},
		},
	})
	if isConditionFailure(err) {
		current, getErr := d.GetPost(ctx, p.ID)
		if getErr == ErrNotFound || (getErr == nil && current.DeletedAt != nil) {
			return ErrNotFound
		}
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update post %s: %w", p.ID, err)
	}
	return nil
}

// SoftDeletePost stamps deletedAt once.
func (d *DynamoDBStorage) SoftDeletePost(ctx context.Context, id string, at time.Time) (bool, error) {
	stamp, err := dynamodbattribute.Marshal(at)
	if err != nil {
		return false, fmt.Errorf("failed to marshal timestamp: %w", err)
	}
	_, err = d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.postsTable),
		Key:                       stringKey("id", id),
		UpdateExpression:          aws.String("SET deletedAt = :at, updatedAt = :at"),
		ConditionExpression:       aws.String("attribute_exists(id) AND attribute_not_exists(deletedAt)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{":at": stamp},
	})
	if isConditionFailure(err) {
		if _, getErr := d.GetPost(ctx, id); getErr != nil {
			return false, getErr
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete post %s: %w", id, err)
	}
	return false, nil
}

// CreateCampaign stores a campaign.
func (d *DynamoDBStorage) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	return d.putNew(ctx, d.campaignsTable, c.ID, c)
}

// GetCampaign retrieves a campaign by ID.
func (d *DynamoDBStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	if err := d.getItem(ctx, d.campaignsTable, stringKey("id", id), &c); err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return &c, nil
}

// ListCampaigns returns all campaigns, newest first.
func (d *DynamoDBStorage) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	items, err := d.scanAll(ctx, d.campaignsTable)
	if err != nil {
		return nil, err
	}
	campaigns := []models.Campaign{}
	if err := dynamodbattribute.UnmarshalListOfMaps(items, &campaigns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaigns: %w", err)
	}
	sort.Slice(campaigns, func(i, j int) bool { return campaigns[i].CreatedAt.After(campaigns[j].CreatedAt) })
	return campaigns, nil
}

// UpdateCampaign replaces a campaign.
func (d *DynamoDBStorage) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	return d.putExisting(ctx, d.campaignsTable, c.ID, c)
}

// DeleteCampaign removes a campaign.
func (d *DynamoDBStorage) DeleteCampaign(ctx context.Context, id string) error {
	_, err := d.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.campaignsTable),
		Key:                 stringKey("id", id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if isConditionFailure(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", id, err)
	}
	return nil
}

// Credentials are hidden from JSON, so connection items carry them explicitly.
func connectionItem(c *models.PlatformConnection) (map[string]*dynamodb.AttributeValue, error) {
	item, err := dynamodbattribute.MarshalMap(c)
	if err != nil {
		return nil, err
	}
	creds, err := dynamodbattribute.Marshal(c.Credentials)
	if err != nil {
		return nil, err
	}
	item["credentials"] = creds
	return item, nil
}

func connectionFromItem(item map[string]*dynamodb.AttributeValue) (*models.PlatformConnection, error) {
	var c models.PlatformConnection
	if err := dynamodbattribute.UnmarshalMap(item, &c); err != nil {
		return nil, err
	}
	if creds, ok := item["credentials"]; ok {
		if err := dynamodbattribute.Unmarshal(creds, &c.Credentials); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// GetConnection retrieves the connection row for a platform.
func (d *DynamoDBStorage) GetConnection(ctx context.Context, p models.Platform) (*models.PlatformConnection, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.connectionsTable),
		Key:            stringKey("platform", string(p)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get connection %s: %w", p, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	c, err := connectionFromItem(result.Item)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection %s: %w", p, err)
	}
	return c, nil
}

// UpsertConnection creates or replaces the connection row for a platform.
func (d *DynamoDBStorage) UpsertConnection(ctx context.Context, c *models.PlatformConnection) error {
	item, err := connectionItem(c)
	if err != nil {
		return fmt.Errorf("failed to marshal connection %s: %w", c.Platform, err)
	}
	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.connectionsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store connection %s: %w", c.Platform, err)
	}
	return nil
}

// ListConnections returns connection rows in platform order.
func (d *DynamoDBStorage) ListConnections(ctx context.Context) ([]models.PlatformConnection, error) {
	items, err := d.scanAll(ctx, d.connectionsTable)
	if err != nil {
		return nil, err
	}
	byPlatform := make(map[models.Platform]models.PlatformConnection, len(items))
	for _, item := range items {
		c, err := connectionFromItem(item)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
		}
		byPlatform[c.Platform] = *c
	}
	out := make([]models.PlatformConnection, 0, len(byPlatform))
	for _, p := range models.AllPlatforms {
		if c, ok := byPlatform[p]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Ping describes the drafts table.
func (d *DynamoDBStorage) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.draftsTable),
	})
	return err
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
