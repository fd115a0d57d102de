// Package identity resolves callers and counterparties against the profile
// directory. Roles are only ever read from here, never from request input.
package identity

import (
	"context"
	"errors"
	"fmt"
	"medislot/pkg/config"
	mongotx "medislot/pkg/db/mongo"
	"medislot/pkg/locale"
	"medislot/pkg/model"
	"medislot/pkg/sanitizer"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const CollectionName = "Profiles"

var ErrNotFound = errors.New("profile not found")

type Directory interface {
	GetActor(ctx context.Context, id string) (model.Actor, error)
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
}

type mongoDirectory struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoDirectory(cfg *config.Config) Directory {
	return &mongoDirectory{
		cfg:        cfg,
		collection: cfg.Client.Mongo.Database(cfg.MongoDatabaseName).Collection(CollectionName),
	}
}

func (d *mongoDirectory) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	ctx, cancel := mongotx.WithTimeout(ctx, d.cfg.ReadTimeout)
	defer cancel()

	var profile model.Profile
	err := d.collection.FindOne(ctx, bson.M{"_id": id, "active": true}).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	profile.Phone = sanitizer.NormalizePhone(profile.Phone)
	profile.Name = sanitizer.NormalizeName(profile.Name)
	return &profile, nil
}

func (d *mongoDirectory) GetActor(ctx context.Context, id string) (model.Actor, error) {
	profile, err := d.GetProfile(ctx, id)
	if err != nil {
		return model.Actor{}, err
	}
	return profile.Actor(), nil
}

// Location returns the zone a provider's availability rules are written in:
// the profile's zone, else one inferred from the phone number, else fallback.
func Location(profile *model.Profile, fallback string) *time.Location {
	if profile == nil {
		return locale.ResolveLocation("", "", fallback)
	}
	return locale.ResolveLocation(profile.TimeZone, profile.Phone, fallback)
}
