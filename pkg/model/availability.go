package model

import (
	"time"
)

// AvailabilityRule is one recurring weekly open-hours interval of a provider,
// expressed in the provider's local wall-clock time. Rules are never deleted.
type AvailabilityRule struct {
	ID         string    `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	ProviderID string    `json:"provider_id" bson:"provider_id" validate:"required,min=1,max=64"`
	DayOfWeek  int       `json:"day_of_week" bson:"day_of_week" validate:"min=0,max=6"`
	StartTime  string    `json:"start_time" bson:"start_time" validate:"required,clock"`
	EndTime    string    `json:"end_time" bson:"end_time" validate:"required,clock"`
	Active     bool      `json:"active" bson:"active"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at" validate:"omitempty"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at" validate:"omitempty"`
}

type AvailabilityRuleUpdate struct {
	DayOfWeek *int    `json:"day_of_week,omitempty" validate:"omitempty,min=0,max=6"`
	StartTime *string `json:"start_time,omitempty" validate:"omitempty,clock"`
	EndTime   *string `json:"end_time,omitempty" validate:"omitempty,clock"`
	Active    *bool   `json:"active,omitempty"`
}
