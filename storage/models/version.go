package models

import "time"

// PostVersion is the text a post carried before an edit, together with the
// version number it had at that point.
type PostVersion struct {
	PostId   string    `json:"ref"`
	Tuit     string    `json:"tuit"`
	Version  int64     `json:"v"`
	EditedOn time.Time `json:"editedOn"`
}
