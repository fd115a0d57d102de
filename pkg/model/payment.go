package model

// PaymentInitiation is returned to the patient after a checkout was opened with the gateway.
type PaymentInitiation struct {
	AppointmentID string  `json:"appointment_id"`
	Reference     string  `json:"reference"`
	RedirectURL   string  `json:"redirect_url"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// JoinInfo gives a participant access to the consultation room.
type JoinInfo struct {
	AppointmentID string `json:"appointment_id"`
	RoomReference string `json:"room_reference"`
	JoinURL       string `json:"join_url"`
}
