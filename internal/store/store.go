package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateRecord is returned when an insert hits a uniqueness constraint.
	ErrDuplicateRecord = errors.New("store: duplicate record")
)

// Store is the persistence contract used by the quoting flows.
type Store interface {
	GetParticipant(ctx context.Context, name string) (*model.Participant, error)
	GetParticipantEndpoint(ctx context.Context, fspID, endpointType string) (string, error)
	GetDuplicateCheck(ctx context.Context, resource fspiop.Resource, dir model.Direction, id string) (*model.DuplicateCheck, error)
	Begin(ctx context.Context) (Tx, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Tx is a storage transaction scoped to a single unit of work.
type Tx interface {
	CreateDuplicateCheck(ctx context.Context, resource fspiop.Resource, dir model.Direction, check model.DuplicateCheck) error
	CreateQuote(ctx context.Context, q QuoteRecord) error
	CreateBulkQuote(ctx context.Context, q BulkQuoteRecord) error
	CreateFxQuote(ctx context.Context, q FxQuoteRecord) error
	CreateResponse(ctx context.Context, r ResponseRecord) error
	CreateError(ctx context.Context, e ErrorRecord) error
	UpdateStatus(ctx context.Context, resource fspiop.Resource, id string, status model.Status) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PartyRecord is one side of a quote.
type PartyRecord struct {
	Role        string // PAYER | PAYEE
	FspID       string
	IDType      string
	IDValue     string
	SubIDOrType string
}

type QuoteRecord struct {
	QuoteID              string
	TransactionID        string
	TransactionRequestID string
	PayerFsp             string
	PayeeFsp             string
	AmountType           string
	Amount               decimal.Decimal
	Currency             string
	Expiration           *time.Time
	Parties              []PartyRecord
	Payload              json.RawMessage
}

type IndividualQuoteRecord struct {
	QuoteID       string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
}

type BulkQuoteRecord struct {
	BulkQuoteID string
	PayerFsp    string
	PayeeFsp    string
	Expiration  *time.Time
	Individual  []IndividualQuoteRecord
	Payload     json.RawMessage
}

type FxQuoteRecord struct {
	ConversionRequestID   string
	ConversionID          string
	DeterminingTransferID string
	InitiatingFsp         string
	CounterPartyFsp       string
	AmountType            string
	SourceAmount          decimal.NullDecimal
	SourceCurrency        string
	TargetAmount          decimal.NullDecimal
	TargetCurrency        string
	Expiration            *time.Time
	Payload               json.RawMessage
}

// ResponseRecord is a PUT callback body attached to a transaction.
type ResponseRecord struct {
	Resource   fspiop.Resource
	ID         string
	Expiration *time.Time
	Payload    json.RawMessage
}

// ErrorRecord is a PUT .../error callback attached to a transaction.
type ErrorRecord struct {
	Resource         fspiop.Resource
	ID               string
	ErrorCode        string
	ErrorDescription string
	Payload          json.RawMessage
}

func tableFor(resource fspiop.Resource) string {
	switch resource {
	case fspiop.ResourceBulkQuotes:
		return "bulk_quote"
	case fspiop.ResourceFxQuotes:
		return "fx_quote"
	default:
		return "quote"
	}
}

func duplicateTable(resource fspiop.Resource, dir model.Direction) string {
	if dir == model.DirectionResponse {
		return tableFor(resource) + "_response_duplicate_check"
	}
	return tableFor(resource) + "_duplicate_check"
}

func idColumn(resource fspiop.Resource) string {
	switch resource {
	case fspiop.ResourceBulkQuotes:
		return "bulk_quote_id"
	case fspiop.ResourceFxQuotes:
		return "conversion_request_id"
	default:
		return "quote_id"
	}
}
