package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Now returns the current time in UTC truncated to BSON precision
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// BuildUpdate builds a BSON $set update document
func BuildUpdate(set bson.M) bson.M {
	return bson.M{"$set": set}
}

// SortAscending creates an ascending sort option
func SortAscending(field string) bson.D {
	return bson.D{{Key: field, Value: 1}}
}
