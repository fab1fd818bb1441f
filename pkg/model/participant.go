package model

// Participant is a scheme participant (DFSP, FXP or proxy).
type Participant struct {
	Name       string   `json:"name"`
	ID         string   `json:"id,omitempty"`
	IsActive   bool     `json:"isActive"`
	IsProxy    bool     `json:"isProxy,omitempty"`
	Currencies []string `json:"currencies,omitempty"`
}

// Endpoint is a participant's registered callback address.
type Endpoint struct {
	FspID string `json:"fspId"`
	Type  string `json:"type"`
	URL   string `json:"value"`
}
