package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const LinkConfigurationsCollection = "link_configurations"

func EnsureMongoCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(LinkConfigurationsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "config_name", Value: 1}},
			Options: options.Index().SetName("idx_link_configurations_config_name").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "link_type", Value: 1}},
			Options: options.Index().SetName("idx_link_configurations_link_type"),
		},
		{
			Keys:    bson.D{{Key: "partners.name", Value: 1}},
			Options: options.Index().SetName("idx_link_configurations_partner_name"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_link_configurations_updated_at"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
