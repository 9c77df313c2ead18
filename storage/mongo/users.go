package mongo

import (
	"context"
	"fmt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"tuiter/storage/models"
)

type UserLookup struct {
	coll *mongo.Collection
}

func (l *UserLookup) FindUser(ctx context.Context, id string) (models.User, error) {
	oid, err := objectId("user", id)
	if err != nil {
		return models.User{}, err
	}

	var result struct {
		Id       primitive.ObjectID `bson:"_id"`
		Username string             `bson:"username"`
	}
	err = l.coll.FindOne(
		ctx,
		bson.D{{"_id", oid}},
		options.FindOne().SetProjection(bson.D{{"username", 1}}),
	).Decode(&result)
	if err != nil {
		return models.User{}, wrapError(fmt.Sprintf("find user %s", id), err)
	}

	return models.User{Id: result.Id.Hex(), Username: result.Username}, nil
}
