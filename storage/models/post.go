package models

import "time"

// Stats is the aggregate counter block stored on every post.
type Stats struct {
	Replies  int64 `json:"replies" bson:"replies"`
	Retuits  int64 `json:"retuits" bson:"retuits"`
	Likes    int64 `json:"likes" bson:"likes"`
	Dislikes int64 `json:"dislikes" bson:"dislikes"`
}

type Post struct {
	Id       string    `json:"_id"`
	Tuit     string    `json:"tuit"`
	PostedBy string    `json:"postedBy"`
	PostedOn time.Time `json:"postedOn"`
	Version  int64     `json:"v"`
	Stats    Stats     `json:"stats"`
}
