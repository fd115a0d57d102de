package validators

import "go.mongodb.org/mongo-driver/bson"

var AppointmentValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"patient_id",
			"provider_id",
			"scheduled_at",
			"duration_minutes",
			"status",
			"payment_status",
			"amount",
			"currency",
			"holds_slot",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"patient_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"provider_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"scheduled_at": bson.M{
				"bsonType": "date",
			},

			"duration_minutes": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  5,
				"maximum":  480,
			},

			"status": bson.M{
				"enum": []string{"scheduled", "confirmed", "in_progress", "completed", "cancelled"},
			},

			"payment_status": bson.M{
				"enum": []string{"pending", "paid", "refunded", "waived"},
			},

			"amount": bson.M{
				"bsonType": []string{"double", "int", "long", "decimal"},
				"minimum":  0,
			},

			"currency": bson.M{
				"bsonType":  "string",
				"minLength": 3,
				"maxLength": 3,
			},

			"payment_reference": bson.M{
				"bsonType": "string",
			},

			"room_reference": bson.M{
				"bsonType": "string",
			},

			"reason": bson.M{
				"bsonType":  "string",
				"maxLength": 500,
			},

			"holds_slot": bson.M{
				"bsonType": "bool",
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
