package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Money is stored as decimal strings; bson has no codec for decimal.Decimal.
type cartDocument struct {
	OwnerKey  string         `bson:"owner_key"`
	Items     []itemDocument `bson:"items"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ProductID    string `bson:"product_id"`
	Name         string `bson:"name"`
	VendorID     string `bson:"vendor_id"`
	VendorName   string `bson:"vendor_name"`
	MaterialType string `bson:"material_type,omitempty"`
	Image        string `bson:"image,omitempty"`
	BasePrice    string `bson:"base_price"`
	PlatformFee  string `bson:"platform_fee"`
	Quantity     int    `bson:"quantity"`
}

type MongoRepository struct {
	collection *mongo.Collection
	nowFunc    func() time.Time
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
		nowFunc:    time.Now,
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"owner_key": ownerKey}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	cart, err := doc.toDomain()
	if err != nil {
		return nil, fmt.Errorf("failed to decode cart %s: %w", ownerKey, err)
	}
	return cart, nil
}

func (m *MongoRepository) UpsertCart(ctx context.Context, cart *domain.Cart) error {
	now := m.nowFunc()
	cart.UpdatedAt = now

	items := make([]itemDocument, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, itemDocument{
			ProductID:    it.ProductID,
			Name:         it.Name,
			VendorID:     it.VendorID,
			VendorName:   it.VendorName,
			MaterialType: it.MaterialType,
			Image:        it.Image,
			BasePrice:    it.BasePricePerUnit.String(),
			PlatformFee:  it.PlatformFeePerUnit.String(),
			Quantity:     it.Quantity,
		})
	}

	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"owner_key":  cart.OwnerKey,
			"created_at": now,
		},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, bson.M{"owner_key": cart.OwnerKey}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, ownerKey string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"owner_key": ownerKey}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (d cartDocument) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		OwnerKey:  d.OwnerKey,
		Items:     make([]domain.CartItem, 0, len(d.Items)),
		UpdatedAt: d.UpdatedAt,
	}
	for _, it := range d.Items {
		base, err := decimal.NewFromString(it.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("base price of %s: %w", it.ProductID, err)
		}
		fee, err := decimal.NewFromString(it.PlatformFee)
		if err != nil {
			return nil, fmt.Errorf("platform fee of %s: %w", it.ProductID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:          it.ProductID,
			Name:               it.Name,
			VendorID:           it.VendorID,
			VendorName:         it.VendorName,
			MaterialType:       it.MaterialType,
			Image:              it.Image,
			BasePricePerUnit:   base,
			PlatformFeePerUnit: fee,
			Quantity:           it.Quantity,
		})
	}
	return cart, nil
}
