package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"pses-auth/internal/identity/domain"
)

// Collection names used by the document store backend.
const (
	collPendingSignups = "pending_signups"
	collCredentials    = "credentials"
	collMappings       = "identity_mappings"
	collProfiles       = "profiles"
)

// MongoRepository implements Repository on a MongoDB database.
// Case-insensitive email lookups use a lowercased shadow field.
type MongoRepository struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoRepository returns an account repository backed by database dbName on client.
// Call EnsureIndexes once at startup.
func NewMongoRepository(client *mongo.Client, dbName string) *MongoRepository {
	return &MongoRepository{client: client, db: client.Database(dbName)}
}

// ConnectMongo connects to uri and verifies the primary is reachable.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("repository: MONGODB_URI is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, classifyMongo(err)
	}
	return client, nil
}

// EnsureIndexes creates the unique and lookup indexes every collection relies on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	unique := func(keys bson.D) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
	}
	plain := func(keys bson.D) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys}
	}
	specs := map[string][]mongo.IndexModel{
		collPendingSignups: {unique(bson.D{{Key: "username", Value: 1}})},
		collCredentials: {
			unique(bson.D{{Key: "username", Value: 1}}),
			plain(bson.D{{Key: "email_lower", Value: 1}}),
		},
		collMappings: {
			unique(bson.D{{Key: "username", Value: 1}}),
			plain(bson.D{{Key: "external_id", Value: 1}}),
			plain(bson.D{{Key: "email_lower", Value: 1}}),
		},
		collProfiles: {
			unique(bson.D{{Key: "external_id", Value: 1}}),
			{
				Keys: bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "username", Value: bson.D{{Key: "$type", Value: "string"}}}}),
			},
			plain(bson.D{{Key: "email_lower", Value: 1}}),
		},
	}
	for coll, models := range specs {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", coll, classifyMongo(err))
		}
	}
	return nil
}

// Ping verifies the primary is reachable.
func (r *MongoRepository) Ping(ctx context.Context) error {
	return classifyMongo(r.client.Ping(ctx, readpref.Primary()))
}

type pendingSignupDoc struct {
	ID                      primitive.ObjectID `bson:"_id,omitempty"`
	Username                string             `bson:"username"`
	PasswordHash            string             `bson:"password_hash,omitempty"`
	PreferredLanguage       string             `bson:"preferred_language"`
	SpokenLanguage          string             `bson:"spoken_language"`
	SpokenLanguageSecondary string             `bson:"spoken_language_secondary"`
	Verified                bool               `bson:"verified"`
	CreatedAt               time.Time          `bson:"created_at"`
	UpdatedAt               time.Time          `bson:"updated_at"`
}

// GetPendingSignup returns the pending signup for username, or nil if not found.
func (r *MongoRepository) GetPendingSignup(ctx context.Context, username string) (*domain.PendingSignup, error) {
	var d pendingSignupDoc
	if found, err := r.findOne(ctx, collPendingSignups, bson.M{"username": username}, &d); !found || err != nil {
		return nil, err
	}
	return &domain.PendingSignup{
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		Preferences: domain.Preferences{
			PreferredLanguage:       d.PreferredLanguage,
			SpokenLanguage:          d.SpokenLanguage,
			SpokenLanguageSecondary: d.SpokenLanguageSecondary,
		},
		Verified:  d.Verified,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// UpsertPendingSignup inserts or overwrites the pending signup keyed by username.
func (r *MongoRepository) UpsertPendingSignup(ctx context.Context, p *domain.PendingSignup) error {
	now := nowOr(p.UpdatedAt)
	update := bson.M{
		"$set": bson.M{
			"password_hash":             p.PasswordHash,
			"preferred_language":        p.Preferences.PreferredLanguage,
			"spoken_language":           p.Preferences.SpokenLanguage,
			"spoken_language_secondary": p.Preferences.SpokenLanguageSecondary,
			"updated_at":                now,
		},
		"$setOnInsert": bson.M{"username": p.Username, "verified": p.Verified, "created_at": now},
	}
	_, err := r.db.Collection(collPendingSignups).UpdateOne(ctx, bson.M{"username": p.Username}, update,
		options.Update().SetUpsert(true))
	return classifyMongo(err)
}

// MarkPendingSignupVerified flags the pending signup as consumed. Missing documents are ignored.
func (r *MongoRepository) MarkPendingSignupVerified(ctx context.Context, username string) error {
	_, err := r.db.Collection(collPendingSignups).UpdateOne(ctx, bson.M{"username": username},
		bson.M{"$set": bson.M{"verified": true, "updated_at": time.Now().UTC()}})
	return classifyMongo(err)
}

type credentialDoc struct {
	ID                  string     `bson:"_id"`
	Username            string     `bson:"username"`
	PasswordHash        string     `bson:"password_hash"`
	Providers           []string   `bson:"providers"`
	Email               string     `bson:"email"`
	EmailLower          string     `bson:"email_lower"`
	PhoneNumber         string     `bson:"phone_number"`
	Verified            bool       `bson:"verified"`
	ResetTokenHash      *string    `bson:"reset_token_hash"`
	ResetTokenExpiresAt *time.Time `bson:"reset_token_expires_at"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}

// GetCredential returns the credential for username, or nil if not found.
func (r *MongoRepository) GetCredential(ctx context.Context, username string) (*domain.Credential, error) {
	var d credentialDoc
	if found, err := r.findOne(ctx, collCredentials, bson.M{"username": username}, &d); !found || err != nil {
		return nil, err
	}
	c := &domain.Credential{
		ID:                  d.ID,
		Username:            d.Username,
		PasswordHash:        d.PasswordHash,
		Providers:           d.Providers,
		Email:               d.Email,
		PhoneNumber:         d.PhoneNumber,
		Verified:            d.Verified,
		ResetTokenExpiresAt: d.ResetTokenExpiresAt,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.ResetTokenHash != nil {
		c.ResetTokenHash = *d.ResetTokenHash
	}
	return c, nil
}

// UpsertCredential inserts or overwrites the credential keyed by username. The credential must have ID set.
func (r *MongoRepository) UpsertCredential(ctx context.Context, c *domain.Credential) error {
	var resetHash *string
	if c.ResetTokenHash != "" {
		h := c.ResetTokenHash
		resetHash = &h
	}
	providers := c.Providers
	if providers == nil {
		providers = []string{}
	}
	now := nowOr(c.UpdatedAt)
	update := bson.M{
		"$set": bson.M{
			"password_hash":          c.PasswordHash,
			"providers":              providers,
			"email":                  c.Email,
			"email_lower":            strings.ToLower(c.Email),
			"phone_number":           c.PhoneNumber,
			"verified":               c.Verified,
			"reset_token_hash":       resetHash,
			"reset_token_expires_at": c.ResetTokenExpiresAt,
			"updated_at":             now,
		},
		"$setOnInsert": bson.M{"_id": c.ID, "username": c.Username, "created_at": now},
	}
	_, err := r.db.Collection(collCredentials).UpdateOne(ctx, bson.M{"username": c.Username}, update,
		options.Update().SetUpsert(true))
	return classifyMongo(err)
}

// UpdatePasswordHash replaces the password hash and records the password provider.
func (r *MongoRepository) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	_, err := r.db.Collection(collCredentials).UpdateOne(ctx, bson.M{"username": username}, bson.M{
		"$set":      bson.M{"password_hash": passwordHash, "updated_at": time.Now().UTC()},
		"$addToSet": bson.M{"providers": domain.ProviderPassword},
	})
	return classifyMongo(err)
}

// ConsumeResetToken swaps in the new hash and clears reset state in one update guarded by the stored hash and expiry.
func (r *MongoRepository) ConsumeResetToken(ctx context.Context, username, tokenHash, passwordHash string, now time.Time) (bool, error) {
	filter := bson.M{
		"username":               username,
		"reset_token_hash":       tokenHash,
		"reset_token_expires_at": bson.M{"$gte": now},
	}
	res, err := r.db.Collection(collCredentials).UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{
			"password_hash":          passwordHash,
			"reset_token_hash":       nil,
			"reset_token_expires_at": nil,
			"updated_at":             now,
		},
		"$addToSet": bson.M{"providers": domain.ProviderPassword},
	})
	if err != nil {
		return false, classifyMongo(err)
	}
	return res.MatchedCount == 1, nil
}

type mappingDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Username   string             `bson:"username"`
	ExternalID string             `bson:"external_id"`
	Email      string             `bson:"email"`
	EmailLower string             `bson:"email_lower"`
	Provider   string             `bson:"provider"`
	CreatedAt  time.Time          `bson:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at"`
}

func (d *mappingDoc) toDomain() *domain.IdentityMapping {
	return &domain.IdentityMapping{
		Username:   d.Username,
		ExternalID: d.ExternalID,
		Email:      d.Email,
		Provider:   d.Provider,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// GetMappingByUsername returns the mapping for username, or nil if not found.
func (r *MongoRepository) GetMappingByUsername(ctx context.Context, username string) (*domain.IdentityMapping, error) {
	return r.getMapping(ctx, bson.M{"username": username})
}

// GetMappingByExternalID returns the most recently updated mapping for externalID, or nil if not found.
func (r *MongoRepository) GetMappingByExternalID(ctx context.Context, externalID string) (*domain.IdentityMapping, error) {
	return r.getMapping(ctx, bson.M{"external_id": externalID})
}

// FindMappingByEmail returns a mapping whose email matches case-insensitively, or nil if not found.
func (r *MongoRepository) FindMappingByEmail(ctx context.Context, email string) (*domain.IdentityMapping, error) {
	return r.getMapping(ctx, bson.M{"email_lower": strings.ToLower(strings.TrimSpace(email))})
}

func (r *MongoRepository) getMapping(ctx context.Context, filter bson.M) (*domain.IdentityMapping, error) {
	var d mappingDoc
	if found, err := r.findOne(ctx, collMappings, filter, &d); !found || err != nil {
		return nil, err
	}
	return d.toDomain(), nil
}

// BindMapping upserts on (username, external_id). When the username is held by another external id
// the upsert attempts an insert, which the unique username index rejects as a duplicate.
func (r *MongoRepository) BindMapping(ctx context.Context, m *domain.IdentityMapping) error {
	now := nowOr(m.UpdatedAt)
	filter := bson.M{"username": m.Username, "external_id": m.ExternalID}
	update := bson.M{
		"$set": bson.M{
			"email":       m.Email,
			"email_lower": strings.ToLower(m.Email),
			"provider":    m.Provider,
			"updated_at":  now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := r.db.Collection(collMappings).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return classifyMongo(err)
}

type profileDoc struct {
	ID                      primitive.ObjectID `bson:"_id,omitempty"`
	ExternalID              string             `bson:"external_id"`
	Email                   string             `bson:"email"`
	EmailLower              string             `bson:"email_lower"`
	Username                *string            `bson:"username"`
	PreferredLanguage       string             `bson:"preferred_language"`
	SpokenLanguage          string             `bson:"spoken_language"`
	SpokenLanguageSecondary string             `bson:"spoken_language_secondary"`
	Verified                bool               `bson:"verified"`
	CreatedAt               time.Time          `bson:"created_at"`
	UpdatedAt               time.Time          `bson:"updated_at"`
}

// GetProfileByExternalID returns the profile for externalID, or nil if not found.
func (r *MongoRepository) GetProfileByExternalID(ctx context.Context, externalID string) (*domain.Profile, error) {
	return r.getProfile(ctx, bson.M{"external_id": externalID})
}

// GetProfileByUsername returns the profile for username, or nil if not found.
func (r *MongoRepository) GetProfileByUsername(ctx context.Context, username string) (*domain.Profile, error) {
	return r.getProfile(ctx, bson.M{"username": username})
}

// FindProfileByEmail returns a profile whose email matches case-insensitively, or nil if not found.
func (r *MongoRepository) FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	return r.getProfile(ctx, bson.M{"email_lower": strings.ToLower(strings.TrimSpace(email))})
}

func (r *MongoRepository) getProfile(ctx context.Context, filter bson.M) (*domain.Profile, error) {
	var d profileDoc
	if found, err := r.findOne(ctx, collProfiles, filter, &d); !found || err != nil {
		return nil, err
	}
	p := &domain.Profile{
		ExternalID: d.ExternalID,
		Email:      d.Email,
		Preferences: domain.Preferences{
			PreferredLanguage:       d.PreferredLanguage,
			SpokenLanguage:          d.SpokenLanguage,
			SpokenLanguageSecondary: d.SpokenLanguageSecondary,
		},
		Verified:  d.Verified,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Username != nil {
		p.Username = *d.Username
	}
	return p, nil
}

// UpsertProfile inserts or overwrites the profile keyed by external id.
func (r *MongoRepository) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	var username *string
	if p.Username != "" {
		u := p.Username
		username = &u
	}
	now := nowOr(p.UpdatedAt)
	update := bson.M{
		"$set": bson.M{
			"email":                     p.Email,
			"email_lower":               strings.ToLower(p.Email),
			"username":                  username,
			"preferred_language":        p.Preferences.PreferredLanguage,
			"spoken_language":           p.Preferences.SpokenLanguage,
			"spoken_language_secondary": p.Preferences.SpokenLanguageSecondary,
			"verified":                  p.Verified,
			"updated_at":                now,
		},
		"$setOnInsert": bson.M{"external_id": p.ExternalID, "created_at": now},
	}
	_, err := r.db.Collection(collProfiles).UpdateOne(ctx, bson.M{"external_id": p.ExternalID}, update,
		options.Update().SetUpsert(true))
	return classifyMongo(err)
}

// MarkProfileVerified sets verified on the profile for externalID. Missing documents are ignored.
func (r *MongoRepository) MarkProfileVerified(ctx context.Context, externalID string) error {
	_, err := r.db.Collection(collProfiles).UpdateOne(ctx, bson.M{"external_id": externalID},
		bson.M{"$set": bson.M{"verified": true, "updated_at": time.Now().UTC()}})
	return classifyMongo(err)
}

// findOne decodes the newest document matching filter into out. found is false when nothing matches.
func (r *MongoRepository) findOne(ctx context.Context, coll string, filter bson.M, out interface{}) (bool, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	err := r.db.Collection(coll).FindOne(ctx, filter, opts).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, classifyMongo(err)
	}
	return true, nil
}

// classifyMongo maps duplicate-key errors to ErrDuplicate and network or timeout failures to ErrUnavailable.
func classifyMongo(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
