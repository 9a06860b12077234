package utils

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Aggregation rows come back as bson.M with whatever numeric width the server
// picked. These helpers never fail: an unexpected type yields the zero value.

func ToInt(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}

func ToInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	default:
		return 0
	}
}

func ToBool(value interface{}) bool {
	b, ok := value.(bool)
	return ok && b
}

func ToString(value interface{}) string {
	s, _ := value.(string)
	return s
}

// ToIntSlice converts a pushed array (bson.A or []interface{}) into ints,
// skipping nulls and non-numeric members.
func ToIntSlice(value interface{}) []int {
	var items []interface{}
	switch v := value.(type) {
	case bson.A:
		items = v
	case []interface{}:
		items = v
	case []int:
		return append([]int(nil), v...)
	default:
		return nil
	}

	out := make([]int, 0, len(items))
	for _, item := range items {
		switch item.(type) {
		case int, int32, int64, float32, float64:
			out = append(out, ToInt(item))
		}
	}
	return out
}

// ToTime converts MongoDB temporal primitives into time.Time
func ToTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case primitive.DateTime:
		return v.Time(), true
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0), true
	default:
		return time.Time{}, false
	}
}
