package model

// Status is the lifecycle state of a quote transaction.
type Status string

const (
	StatusNew       Status = "new"
	StatusForwarded Status = "forwarded"
	StatusResent    Status = "resent"
	StatusErrored   Status = "errored"
	StatusExpired   Status = "expired"
)

// Direction distinguishes request and response duplicate-check records.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// DuplicateCheck is the stored hash of the first accepted request or response for an id.
type DuplicateCheck struct {
	ID   string
	Hash string
}
