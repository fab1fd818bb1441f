package flows

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
)

// entity carries what differs between quotes, bulk quotes and FX quotes.
type entity interface {
	resource() fspiop.Resource
	operation() string
	// counterparty returns the FSP the request is addressed to, read from the payload.
	counterparty(payload []byte) string
	expiration(payload []byte) *time.Time
	persistRequest(ctx context.Context, tx store.Tx, id string, h fspiop.Headers, payload []byte) error
}

// ─── Quotes ───

type quoteEntity struct{}

func (quoteEntity) resource() fspiop.Resource { return fspiop.ResourceQuotes }
func (quoteEntity) operation() string         { return "quoteRequest" }

func (quoteEntity) counterparty(payload []byte) string {
	return gjson.GetBytes(payload, "payee.partyIdInfo.fspId").String()
}

func (quoteEntity) expiration(payload []byte) *time.Time {
	return parseTime(gjson.GetBytes(payload, "expiration"))
}

func (e quoteEntity) persistRequest(ctx context.Context, tx store.Tx, id string, h fspiop.Headers, payload []byte) error {
	doc := gjson.ParseBytes(payload)
	amount, err := parseAmount(doc.Get("amount.amount"))
	if err != nil {
		return err
	}
	return tx.CreateQuote(ctx, store.QuoteRecord{
		QuoteID:              id,
		TransactionID:        doc.Get("transactionId").String(),
		TransactionRequestID: doc.Get("transactionRequestId").String(),
		PayerFsp:             firstNonEmpty(doc.Get("payer.partyIdInfo.fspId").String(), h.Source()),
		PayeeFsp:             firstNonEmpty(doc.Get("payee.partyIdInfo.fspId").String(), h.Destination()),
		AmountType:           doc.Get("amountType").String(),
		Amount:               amount.Decimal,
		Currency:             doc.Get("amount.currency").String(),
		Expiration:           e.expiration(payload),
		Parties: []store.PartyRecord{
			partyRecord("PAYER", doc.Get("payer.partyIdInfo")),
			partyRecord("PAYEE", doc.Get("payee.partyIdInfo")),
		},
		Payload: payload,
	})
}

// ─── Bulk quotes ───

type bulkQuoteEntity struct{}

func (bulkQuoteEntity) resource() fspiop.Resource { return fspiop.ResourceBulkQuotes }
func (bulkQuoteEntity) operation() string         { return "bulkQuoteRequest" }

// Bulk quotes carry the payee per individual quote; the first one decides.
func (bulkQuoteEntity) counterparty(payload []byte) string {
	return gjson.GetBytes(payload, "individualQuotes.0.payee.partyIdInfo.fspId").String()
}

func (bulkQuoteEntity) expiration(payload []byte) *time.Time {
	return parseTime(gjson.GetBytes(payload, "expiration"))
}

func (e bulkQuoteEntity) persistRequest(ctx context.Context, tx store.Tx, id string, h fspiop.Headers, payload []byte) error {
	doc := gjson.ParseBytes(payload)
	var individual []store.IndividualQuoteRecord
	for _, q := range doc.Get("individualQuotes").Array() {
		amount, err := parseAmount(q.Get("amount.amount"))
		if err != nil {
			return err
		}
		individual = append(individual, store.IndividualQuoteRecord{
			QuoteID:       q.Get("quoteId").String(),
			TransactionID: q.Get("transactionId").String(),
			Amount:        amount.Decimal,
			Currency:      q.Get("amount.currency").String(),
		})
	}
	return tx.CreateBulkQuote(ctx, store.BulkQuoteRecord{
		BulkQuoteID: id,
		PayerFsp:    firstNonEmpty(doc.Get("payer.partyIdInfo.fspId").String(), h.Source()),
		PayeeFsp:    firstNonEmpty(e.counterparty(payload), h.Destination()),
		Expiration:  e.expiration(payload),
		Individual:  individual,
		Payload:     payload,
	})
}

// ─── FX quotes ───

type fxQuoteEntity struct{}

func (fxQuoteEntity) resource() fspiop.Resource { return fspiop.ResourceFxQuotes }
func (fxQuoteEntity) operation() string         { return "fxQuoteRequest" }

func (fxQuoteEntity) counterparty(payload []byte) string {
	return gjson.GetBytes(payload, "conversionTerms.counterPartyFsp").String()
}

func (fxQuoteEntity) expiration(payload []byte) *time.Time {
	return parseTime(gjson.GetBytes(payload, "conversionTerms.expiration"))
}

func (e fxQuoteEntity) persistRequest(ctx context.Context, tx store.Tx, id string, h fspiop.Headers, payload []byte) error {
	terms := gjson.GetBytes(payload, "conversionTerms")
	source, err := parseAmount(terms.Get("sourceAmount.amount"))
	if err != nil {
		return err
	}
	target, err := parseAmount(terms.Get("targetAmount.amount"))
	if err != nil {
		return err
	}
	return tx.CreateFxQuote(ctx, store.FxQuoteRecord{
		ConversionRequestID:   id,
		ConversionID:          terms.Get("conversionId").String(),
		DeterminingTransferID: terms.Get("determiningTransferId").String(),
		InitiatingFsp:         firstNonEmpty(terms.Get("initiatingFsp").String(), h.Source()),
		CounterPartyFsp:       firstNonEmpty(terms.Get("counterPartyFsp").String(), h.Destination()),
		AmountType:            terms.Get("amountType").String(),
		SourceAmount:          source,
		SourceCurrency:        terms.Get("sourceAmount.currency").String(),
		TargetAmount:          target,
		TargetCurrency:        terms.Get("targetAmount.currency").String(),
		Expiration:            e.expiration(payload),
		Payload:               payload,
	})
}

// ─── helpers ───

func partyRecord(role string, info gjson.Result) store.PartyRecord {
	return store.PartyRecord{
		Role:        role,
		FspID:       info.Get("fspId").String(),
		IDType:      info.Get("partyIdType").String(),
		IDValue:     info.Get("partyIdentifier").String(),
		SubIDOrType: info.Get("partySubIdOrType").String(),
	}
}

// parseAmount reads an FSPIOP amount string. A missing amount is not an error.
func parseAmount(v gjson.Result) (decimal.NullDecimal, error) {
	if !v.Exists() || v.String() == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
	if err != nil {
		return decimal.NullDecimal{}, fspiop.NewValidation(fspiop.MalformedSyntax, "invalid amount %q", v.String())
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func parseTime(v gjson.Result) *time.Time {
	if !v.Exists() || v.String() == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return nil
	}
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
