package validators

import "go.mongodb.org/mongo-driver/bson"

var ProfileValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType":             "object",
		"required":             []string{"_id", "role", "name", "active"},
		"additionalProperties": true,
		"properties": bson.M{
			"_id":                  bson.M{"bsonType": "string"},
			"role":                 bson.M{"enum": []string{"patient", "provider", "admin"}},
			"name":                 bson.M{"bsonType": "string"},
			"email":                bson.M{"bsonType": "string"},
			"phone":                bson.M{"bsonType": "string"},
			"time_zone":            bson.M{"bsonType": "string"},
			"consultation_fee":     bson.M{"bsonType": []string{"double", "int", "long", "decimal"}, "minimum": 0},
			"currency":             bson.M{"bsonType": "string", "minLength": 3, "maxLength": 3},
			"consultation_minutes": bson.M{"bsonType": []string{"int", "long"}, "minimum": 5},
			"active":               bson.M{"bsonType": "bool"},
		},
	},
}

var BookingLockValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType":             "object",
		"required":             []string{"_id", "owner", "expires_at"},
		"additionalProperties": true,
		"properties": bson.M{
			"_id":        bson.M{"bsonType": "string"},
			"owner":      bson.M{"bsonType": "string"},
			"expires_at": bson.M{"bsonType": "date"},
			"created_at": bson.M{"bsonType": "date"},
		},
	},
}
