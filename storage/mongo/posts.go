package mongo

import (
	"context"
	"fmt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"time"
	"tuiter/storage"
	"tuiter/storage/models"
)

type postDocument struct {
	Id       primitive.ObjectID `bson:"_id,omitempty"`
	Tuit     string             `bson:"tuit"`
	PostedBy primitive.ObjectID `bson:"postedBy"`
	PostedOn time.Time          `bson:"postedOn"`
	Version  int64              `bson:"v"`
	Stats    models.Stats       `bson:"stats"`
}

func (d postDocument) model() models.Post {
	return models.Post{
		Id:       d.Id.Hex(),
		Tuit:     d.Tuit,
		PostedBy: d.PostedBy.Hex(),
		PostedOn: d.PostedOn,
		Version:  d.Version,
		Stats:    d.Stats,
	}
}

type PostRepository struct {
	coll *mongo.Collection
}

func (r *PostRepository) CreatePost(ctx context.Context, post models.Post) (models.Post, error) {
	author, err := primitive.ObjectIDFromHex(post.PostedBy)
	if err != nil {
		return models.Post{}, fmt.Errorf("author %q: %w", post.PostedBy, storage.ErrInvalid)
	}

	document := postDocument{
		Tuit:     post.Tuit,
		PostedBy: author,
		PostedOn: post.PostedOn,
		Version:  post.Version,
		Stats:    post.Stats,
	}
	if post.Id != "" {
		if document.Id, err = primitive.ObjectIDFromHex(post.Id); err != nil {
			return models.Post{}, fmt.Errorf("tuit %q: %w", post.Id, storage.ErrInvalid)
		}
	}
	if document.Version == 0 {
		document.Version = 1
	}
	if document.PostedOn.IsZero() {
		document.PostedOn = time.Now().UTC()
	}

	result, err := r.coll.InsertOne(ctx, document)
	if err != nil {
		return models.Post{}, wrapError("insert tuit", err)
	}
	document.Id = result.InsertedID.(primitive.ObjectID)
	return document.model(), nil
}

func (r *PostRepository) GetPost(ctx context.Context, id string) (models.Post, error) {
	oid, err := objectId("tuit", id)
	if err != nil {
		return models.Post{}, err
	}

	var document postDocument
	if err := r.coll.FindOne(ctx, bson.D{{"_id", oid}}).Decode(&document); err != nil {
		return models.Post{}, wrapError(fmt.Sprintf("find tuit %s", id), err)
	}
	return document.model(), nil
}

func (r *PostRepository) SetStats(ctx context.Context, id string, stats models.Stats) error {
	return r.updateOne(ctx, id, bson.D{{"$set", bson.D{{"stats", stats}}}})
}

func (r *PostRepository) SetText(ctx context.Context, id string, text string) error {
	return r.updateOne(ctx, id, bson.D{{"$set", bson.D{{"tuit", text}}}})
}

func (r *PostRepository) BumpVersion(ctx context.Context, id string) error {
	return r.updateOne(ctx, id, bson.D{{"$inc", bson.D{{"v", 1}}}})
}

func (r *PostRepository) ListPostIds(ctx context.Context, after string, limit int) ([]string, error) {
	filter := bson.D{}
	if after != "" {
		oid, err := primitive.ObjectIDFromHex(after)
		if err != nil {
			return nil, fmt.Errorf("cursor %q: %w", after, storage.ErrInvalid)
		}
		filter = bson.D{{"_id", bson.D{{"$gt", oid}}}}
	}

	opts := options.Find().
		SetSort(bson.D{{"_id", 1}}).
		SetProjection(bson.D{{"_id", 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapError("list tuits", err)
	}
	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, wrapError("list tuits", err)
	}

	ids := make([]string, len(results))
	for i, result := range results {
		ids[i] = result["_id"].(primitive.ObjectID).Hex()
	}
	return ids, nil
}

func (r *PostRepository) updateOne(ctx context.Context, id string, update bson.D) error {
	oid, err := objectId("tuit", id)
	if err != nil {
		return err
	}

	result, err := r.coll.UpdateOne(ctx, bson.D{{"_id", oid}}, update)
	if err != nil {
		return wrapError(fmt.Sprintf("update tuit %s", id), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("tuit %s: %w", id, storage.ErrNotFound)
	}
	return nil
}
