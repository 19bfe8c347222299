package models

// CreateRequest carries the caller-supplied fields for a new identity.
// National IDs arrive pre-hashed; the registry never sees the raw document
// number.
type CreateRequest struct {
	UserID           string   `json:"user_id,omitempty"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Nationality      string   `json:"nationality"`
	NationalIDHash   string   `json:"national_id_hash,omitempty"`
	EmergencyContact string   `json:"emergency_contact,omitempty"`
	Roles            []string `json:"roles"`
	WalletAddress    string   `json:"wallet_address"`
}

// UpdateRequest carries a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Name             *string `json:"name,omitempty"`
	Email            *string `json:"email,omitempty"`
	Nationality      *string `json:"nationality,omitempty"`
	EmergencyContact *string `json:"emergency_contact,omitempty"`
}
