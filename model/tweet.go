package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Tweet struct {
	ID        primitive.ObjectID   `json:"_id" bson:"_id"`
	Reference string               `json:"reference" bson:"reference"`
	Author    primitive.ObjectID   `json:"author" bson:"author"`
	Likes     []primitive.ObjectID `json:"likes" bson:"likes"`
	Retweets  []primitive.ObjectID `json:"retweets" bson:"retweets"`
	Comments  []primitive.ObjectID `json:"comments" bson:"comments"`
	CreatedAt time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt" bson:"updatedAt"`
}

func (t *Tweet) LikedBy(id primitive.ObjectID) bool {
	return containsID(t.Likes, id)
}

// FeedItem is a tweet with its author and comments resolved. In JSON the
// resolved comments replace the tweet's comment ids.
type FeedItem struct {
	Tweet
	AuthorDetail   *UserSummary    `json:"authorDetail,omitempty"`
	CommentDetails []CommentDetail `json:"comments"`
}

type TopFeed struct {
	Tweets     []Tweet `json:"tweets"`
	Page       int     `json:"page"`
	TotalPages int     `json:"totalPages"`
}
