package link

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"connector/pkg/errors"
	"connector/pkg/migrations"
	"connector/pkg/models"
)

// ConfigRepository stores link configurations.
type ConfigRepository interface {
	List(ctx context.Context) ([]models.LinkConfiguration, error)
	Get(ctx context.Context, configName string) (*models.LinkConfiguration, error)
	FindByPartner(ctx context.Context, partnerName string) (*models.LinkConfiguration, error)
	Save(ctx context.Context, cfg *models.LinkConfiguration) error
	Delete(ctx context.Context, configName string) error
}

type MongoConfigRepository struct {
	collection *mongo.Collection
}

func NewMongoConfigRepository(db *mongo.Database) *MongoConfigRepository {
	return &MongoConfigRepository{
		collection: db.Collection(migrations.LinkConfigurationsCollection),
	}
}

func (r *MongoConfigRepository) List(ctx context.Context) ([]models.LinkConfiguration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "link_type", Value: 1}, {Key: "config_name", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list link configurations: %w", err)
	}
	defer cursor.Close(ctx)

	var configs []models.LinkConfiguration
	if err := cursor.All(ctx, &configs); err != nil {
		return nil, fmt.Errorf("failed to decode link configurations: %w", err)
	}
	return configs, nil
}

func (r *MongoConfigRepository) Get(ctx context.Context, configName string) (*models.LinkConfiguration, error) {
	return r.findOne(ctx, bson.M{"config_name": configName}, "link configuration %s not found", configName)
}

func (r *MongoConfigRepository) FindByPartner(ctx context.Context, partnerName string) (*models.LinkConfiguration, error) {
	return r.findOne(ctx, bson.M{"partners.name": partnerName}, "no link configuration contains partner %s", partnerName)
}

func (r *MongoConfigRepository) findOne(ctx context.Context, filter bson.M, notFound string, arg string) (*models.LinkConfiguration, error) {
	var cfg models.LinkConfiguration
	err := r.collection.FindOne(ctx, filter).Decode(&cfg)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrNotFound.WithMessage(notFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link configuration: %w", err)
	}
	return &cfg, nil
}

// Save upserts cfg by its configuration name.
func (r *MongoConfigRepository) Save(ctx context.Context, cfg *models.LinkConfiguration) error {
	if cfg.ConfigName == "" {
		return errors.ErrValidation.WithMessage("config_name is required")
	}
	cfg.UpdatedAt = time.Now().UTC()

	filter := bson.M{"config_name": cfg.ConfigName}
	update := bson.M{"$set": cfg}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save link configuration: %w", err)
	}
	return nil
}

func (r *MongoConfigRepository) Delete(ctx context.Context, configName string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"config_name": configName})
	if err != nil {
		return fmt.Errorf("failed to delete link configuration: %w", err)
	}
	if result.DeletedCount == 0 {
		return errors.ErrNotFound.WithMessage("link configuration %s not found", configName)
	}
	return nil
}

// MemoryConfigRepository keeps link configurations in memory.
type MemoryConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]models.LinkConfiguration
}

func NewMemoryConfigRepository(configs ...models.LinkConfiguration) *MemoryConfigRepository {
	r := &MemoryConfigRepository{configs: make(map[string]models.LinkConfiguration)}
	for _, c := range configs {
		r.configs[c.ConfigName] = c
	}
	return r
}

func (r *MemoryConfigRepository) List(context.Context) ([]models.LinkConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.LinkConfiguration, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	sortConfigs(out)
	return out, nil
}

func (r *MemoryConfigRepository) Get(_ context.Context, configName string) (*models.LinkConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.configs[configName]
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("link configuration %s not found", configName)
	}
	return &c, nil
}

func (r *MemoryConfigRepository) FindByPartner(_ context.Context, partnerName string) (*models.LinkConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.configs {
		for _, p := range c.Partners {
			if p.Name == partnerName {
				found := c
				return &found, nil
			}
		}
	}
	return nil, errors.ErrNotFound.WithMessage("no link configuration contains partner %s", partnerName)
}

func (r *MemoryConfigRepository) Save(_ context.Context, cfg *models.LinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.ConfigName == "" {
		return errors.ErrValidation.WithMessage("config_name is required")
	}
	cfg.UpdatedAt = time.Now().UTC()
	r.configs[cfg.ConfigName] = *cfg
	return nil
}

func (r *MemoryConfigRepository) Delete(_ context.Context, configName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.configs[configName]; !ok {
		return errors.ErrNotFound.WithMessage("link configuration %s not found", configName)
	}
	delete(r.configs, configName)
	return nil
}

func sortConfigs(configs []models.LinkConfiguration) {
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].LinkType != configs[j].LinkType {
			return configs[i].LinkType < configs[j].LinkType
		}
		return configs[i].ConfigName < configs[j].ConfigName
	})
}
