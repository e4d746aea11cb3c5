package ai

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TenantAIQuota caps daily model-token spend per tenant across embedding
// and generation calls.
type TenantAIQuota struct {
	TenantID        string    `bson:"tenant_id"`
	DailyTokenLimit int       `bson:"daily_token_limit"`
	TokensUsedToday int       `bson:"tokens_used_today"`
	LastResetDate   time.Time `bson:"last_reset_date"`
	RequestsToday   int       `bson:"requests_today"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

const defaultDailyTokenLimit = 2000000

var ErrQuotaExceeded = errors.New("daily quota exceeded")

// CheckTenantQuota verifies the tenant can spend estimatedTokens today and
// records the spend. Counters roll over at UTC midnight.
func CheckTenantQuota(ctx context.Context, db *mongo.Database, tenantID string, estimatedTokens int) error {
	col := db.Collection("ai_quotas")

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	// Reset if new day
	_, _ = col.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "last_reset_date": bson.M{"$lt": today}},
		bson.M{"$set": bson.M{
			"tokens_used_today": 0,
			"requests_today":    0,
			"last_reset_date":   today,
			"updated_at":        now,
		}},
	)

	var quota TenantAIQuota
	err := col.FindOne(ctx, bson.M{"tenant_id": tenantID}).Decode(&quota)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			return err
		}
		quota = TenantAIQuota{
			TenantID:        tenantID,
			DailyTokenLimit: defaultDailyTokenLimit,
			LastResetDate:   today,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := col.InsertOne(ctx, quota); err != nil {
			return err
		}
	}

	if quota.TokensUsedToday+estimatedTokens > quota.DailyTokenLimit {
		return ErrQuotaExceeded
	}

	_, err = col.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID},
		bson.M{
			"$inc": bson.M{
				"tokens_used_today": estimatedTokens,
				"requests_today":    1,
			},
			"$set": bson.M{"updated_at": now},
		},
	)
	return err
}

// GetTenantQuotaStatus returns the current quota record for a tenant.
func GetTenantQuotaStatus(ctx context.Context, db *mongo.Database, tenantID string) (*TenantAIQuota, error) {
	col := db.Collection("ai_quotas")

	var quota TenantAIQuota
	if err := col.FindOne(ctx, bson.M{"tenant_id": tenantID}).Decode(&quota); err != nil {
		return nil, err
	}
	return &quota, nil
}

// SetTenantQuotaLimit sets the daily token budget for a tenant.
func SetTenantQuotaLimit(ctx context.Context, db *mongo.Database, tenantID string, dailyLimit int) error {
	col := db.Collection("ai_quotas")

	_, err := col.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID},
		bson.M{"$set": bson.M{
			"daily_token_limit": dailyLimit,
			"updated_at":        time.Now(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}
