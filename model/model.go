package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID        primitive.ObjectID   `json:"_id" bson:"_id"`
	Name      string               `json:"name" bson:"name"`
	Email     string               `json:"email" bson:"email"`
	ImageURL  string               `json:"imageUrl" bson:"imageUrl"`
	Followers []primitive.ObjectID `json:"followers" bson:"followers"`
	Following []primitive.ObjectID `json:"following" bson:"following"`
	CreatedAt time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// HasFollower reports whether id is recorded in the user's followers list.
func (u *User) HasFollower(id primitive.ObjectID) bool {
	return containsID(u.Followers, id)
}

// IsFollowing reports whether id is recorded in the user's following list.
func (u *User) IsFollowing(id primitive.ObjectID) bool {
	return containsID(u.Following, id)
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		ImageURL:  u.ImageURL,
		Followers: len(u.Followers),
		Following: len(u.Following),
	}
}

// UserSummary is the public projection of a user with relation counts
// instead of id lists.
type UserSummary struct {
	ID        primitive.ObjectID `json:"_id"`
	Name      string             `json:"name"`
	Email     string             `json:"email"`
	ImageURL  string             `json:"imageUrl"`
	Followers int                `json:"followers"`
	Following int                `json:"following"`
}

type SuggestionBundle struct {
	SuggestedUsers []UserSummary `json:"suggestedUsers"`
	PopularUsers   []UserSummary `json:"popularUsers"`
	OldUsers       []UserSummary `json:"oldUsers"`
}

type SuccessResponse struct {
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

type FailureResponse struct {
	Data  []interface{} `json:"data"`
	Error string        `json:"error"`
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
