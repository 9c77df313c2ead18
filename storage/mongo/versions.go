package mongo

import (
	"context"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"time"
	"tuiter/storage/models"
)

type versionDocument struct {
	Ref      primitive.ObjectID `bson:"ref"`
	Tuit     string             `bson:"tuit"`
	Version  int64              `bson:"v"`
	EditedOn time.Time          `bson:"editedOn"`
}

type VersionStore struct {
	coll *mongo.Collection
}

func (s *VersionStore) Append(ctx context.Context, version models.PostVersion) error {
	ref, err := objectId("tuit", version.PostId)
	if err != nil {
		return err
	}

	// Insert only: a snapshot left behind by an interrupted edit is reused.
	_, err = s.coll.UpdateOne(
		ctx,
		bson.D{{"ref", ref}, {"v", version.Version}},
		bson.D{{"$setOnInsert", bson.D{
			{"ref", ref},
			{"v", version.Version},
			{"tuit", version.Tuit},
			{"editedOn", version.EditedOn},
		}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return wrapError("append tuit version", err)
	}
	return nil
}

func (s *VersionStore) List(ctx context.Context, postId string) ([]models.PostVersion, error) {
	ref, err := objectId("tuit", postId)
	if err != nil {
		return nil, err
	}

	cursor, err := s.coll.Find(ctx, bson.D{{"ref", ref}}, options.Find().SetSort(bson.D{{"v", 1}}))
	if err != nil {
		return nil, wrapError("find tuit versions", err)
	}
	var documents []versionDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, wrapError("decode tuit versions", err)
	}

	versions := make([]models.PostVersion, len(documents))
	for i, document := range documents {
		versions[i] = models.PostVersion{
			PostId:   document.Ref.Hex(),
			Tuit:     document.Tuit,
			Version:  document.Version,
			EditedOn: document.EditedOn,
		}
	}
	return versions, nil
}
