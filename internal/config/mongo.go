package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson" // Use bson for index keys
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	// Create indexes
	err = createIndexes(client, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)

	// Documents collection indexes
	documentsCollection := db.Collection("documents")
	documentIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "kb_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "kb_id", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "scrape_source_id", Value: 1}},
		},
	}
	_, err := documentsCollection.Indexes().CreateMany(context.Background(), documentIndexes)
	if err != nil {
		return err
	}

	// Chunks collection indexes
	chunksCollection := db.Collection("chunks")
	chunkIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "kb_id", Value: 1}}},
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "chunk_index", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err = chunksCollection.Indexes().CreateMany(context.Background(), chunkIndexes)
	if err != nil {
		return err
	}

	// Products collection indexes
	productsCollection := db.Collection("products")
	productIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "kb_id", Value: 1}}},
		{Keys: bson.D{{Key: "kb_id", Value: 1}, {Key: "shopify_product_id", Value: 1}}},
	}
	_, err = productsCollection.Indexes().CreateMany(context.Background(), productIndexes)
	if err != nil {
		return err
	}

	// Images collection indexes
	imagesCollection := db.Collection("images")
	imageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "kb_id", Value: 1}}},
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
	}
	_, err = imagesCollection.Indexes().CreateMany(context.Background(), imageIndexes)
	if err != nil {
		return err
	}

	// Scrape sources collection indexes
	sourcesCollection := db.Collection("scrape_sources")
	sourceIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "kb_id", Value: 1}}},
		{
			Keys: bson.D{
				{Key: "auto_sync_enabled", Value: 1},
				{Key: "sync_status", Value: 1},
				{Key: "next_sync_at", Value: 1},
			},
		},
	}
	_, err = sourcesCollection.Indexes().CreateMany(context.Background(), sourceIndexes)
	if err != nil {
		return err
	}

	// Knowledge bases collection indexes
	kbCollection := db.Collection("knowledge_bases")
	kbIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "kb_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "tenant_id", Value: 1}}},
	}
	_, err = kbCollection.Indexes().CreateMany(context.Background(), kbIndexes)
	if err != nil {
		return err
	}

	return nil
}
