package model

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated caller. The role always comes from the profile directory.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type Profile struct {
	ID                  string  `json:"id" bson:"_id"`
	Role                Role    `json:"role" bson:"role"`
	Name                string  `json:"name" bson:"name"`
	Email               string  `json:"email,omitempty" bson:"email,omitempty"`
	Phone               string  `json:"phone,omitempty" bson:"phone,omitempty"`
	TimeZone            string  `json:"time_zone,omitempty" bson:"time_zone,omitempty"`
	ConsultationFee     float64 `json:"consultation_fee,omitempty" bson:"consultation_fee,omitempty"`
	Currency            string  `json:"currency,omitempty" bson:"currency,omitempty"`
	ConsultationMinutes int     `json:"consultation_minutes,omitempty" bson:"consultation_minutes,omitempty"`
	Active              bool    `json:"active" bson:"active"`
}

func (p *Profile) Actor() Actor {
	return Actor{ID: p.ID, Role: p.Role}
}
