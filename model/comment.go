package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Comment struct {
	ID        primitive.ObjectID   `json:"_id" bson:"_id"`
	Text      string               `json:"text" bson:"text"`
	Author    primitive.ObjectID   `json:"author" bson:"author"`
	Tweet     primitive.ObjectID   `json:"tweet" bson:"tweet"`
	Likes     []primitive.ObjectID `json:"likes" bson:"likes"`
	CreatedAt time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// Detail resolves the author and likers of c from people. Unknown ids are
// left out.
func (c *Comment) Detail(people map[primitive.ObjectID]UserSummary) CommentDetail {
	d := CommentDetail{
		ID:        c.ID,
		Text:      c.Text,
		Likes:     make([]UserSummary, 0, len(c.Likes)),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if a, ok := people[c.Author]; ok {
		d.Author = &a
	}
	for _, id := range c.Likes {
		if u, ok := people[id]; ok {
			d.Likes = append(d.Likes, u)
		}
	}
	return d
}

// CommentDetail is a comment with its author and likers resolved.
type CommentDetail struct {
	ID        primitive.ObjectID `json:"id"`
	Text      string             `json:"text"`
	Author    *UserSummary       `json:"author"`
	Likes     []UserSummary      `json:"likes"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
