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

type reactionDocument struct {
	Tuit      primitive.ObjectID  `bson:"tuit"`
	User      primitive.ObjectID  `bson:"user"`
	Kind      models.ReactionKind `bson:"kind"`
	CreatedAt time.Time           `bson:"createdAt"`
}

func (d reactionDocument) model() models.Reaction {
	return models.Reaction{
		PostId:    d.Tuit.Hex(),
		UserId:    d.User.Hex(),
		Kind:      d.Kind,
		CreatedAt: d.CreatedAt,
	}
}

type ReactionStore struct {
	coll *mongo.Collection
}

func (s *ReactionStore) Has(ctx context.Context, postId, userId string, kind models.ReactionKind) (bool, error) {
	filter, err := reactionFilter(postId, userId)
	if err != nil {
		return false, nil
	}
	filter = append(filter, bson.E{Key: "kind", Value: kind})

	count, err := s.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, wrapError("find reaction", err)
	}
	return count > 0, nil
}

func (s *ReactionStore) Count(ctx context.Context, postId string, kind models.ReactionKind) (int64, error) {
	tuitId, err := objectId("tuit", postId)
	if err != nil {
		return 0, nil
	}

	count, err := s.coll.CountDocuments(ctx, bson.D{{"tuit", tuitId}, {"kind", kind}})
	if err != nil {
		return 0, wrapError("count reactions", err)
	}
	return count, nil
}

func (s *ReactionStore) Add(ctx context.Context, postId, userId string, kind models.ReactionKind) error {
	filter, err := reactionFilter(postId, userId)
	if err != nil {
		return err
	}

	// createdAt is kept when the same kind is added again and reset when the
	// record switches kind.
	update := mongo.Pipeline{
		{{"$set", bson.D{
			{"createdAt", bson.D{{"$cond", bson.D{
				{"if", bson.D{{"$eq", bson.A{"$kind", kind}}}},
				{"then", "$createdAt"},
				{"else", time.Now().UTC()},
			}}}},
			{"kind", kind},
		}}},
	}
	_, err = s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return wrapError("upsert reaction", err)
	}
	return nil
}

func (s *ReactionStore) Remove(ctx context.Context, postId, userId string, kind models.ReactionKind) error {
	filter, err := reactionFilter(postId, userId)
	if err != nil {
		return nil
	}
	filter = append(filter, bson.E{Key: "kind", Value: kind})

	if _, err := s.coll.DeleteOne(ctx, filter); err != nil {
		return wrapError("delete reaction", err)
	}
	return nil
}

func (s *ReactionStore) ListByPost(ctx context.Context, postId string, kind models.ReactionKind) ([]models.Reaction, error) {
	tuitId, err := objectId("tuit", postId)
	if err != nil {
		return []models.Reaction{}, nil
	}
	return s.list(ctx, bson.D{{"tuit", tuitId}, {"kind", kind}})
}

func (s *ReactionStore) ListByUser(ctx context.Context, userId string, kind models.ReactionKind) ([]models.Reaction, error) {
	uid, err := objectId("user", userId)
	if err != nil {
		return []models.Reaction{}, nil
	}
	return s.list(ctx, bson.D{{"user", uid}, {"kind", kind}})
}

func (s *ReactionStore) list(ctx context.Context, filter bson.D) ([]models.Reaction, error) {
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{"createdAt", 1}}))
	if err != nil {
		return nil, wrapError("find reactions", err)
	}

	var documents []reactionDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, wrapError("decode reactions", err)
	}

	result := make([]models.Reaction, len(documents))
	for i, document := range documents {
		result[i] = document.model()
	}
	return result, nil
}

func reactionFilter(postId, userId string) (bson.D, error) {
	tuitId, err := objectId("tuit", postId)
	if err != nil {
		return nil, err
	}
	uid, err := objectId("user", userId)
	if err != nil {
		return nil, err
	}
	return bson.D{{"tuit", tuitId}, {"user", uid}}, nil
}
