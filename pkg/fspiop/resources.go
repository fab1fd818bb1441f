package fspiop

import "fmt"

// Resource is an FSPIOP quoting resource.
type Resource string

const (
	ResourceQuotes     Resource = "quotes"
	ResourceBulkQuotes Resource = "bulkQuotes"
	ResourceFxQuotes   Resource = "fxQuotes"
)

// Endpoint types registered by participants for callbacks.
const (
	EndpointQuotes     = "FSPIOP_CALLBACK_URL_QUOTES"
	EndpointBulkQuotes = "FSPIOP_CALLBACK_URL_BULK_QUOTES"
	EndpointFxQuotes   = "FSPIOP_CALLBACK_URL_FX_QUOTES"
)

func (r Resource) EndpointType() string {
	switch r {
	case ResourceBulkQuotes:
		return EndpointBulkQuotes
	case ResourceFxQuotes:
		return EndpointFxQuotes
	default:
		return EndpointQuotes
	}
}

// Singular is the human name used in error descriptions.
func (r Resource) Singular() string {
	switch r {
	case ResourceBulkQuotes:
		return "Bulk quote"
	case ResourceFxQuotes:
		return "FX quote"
	default:
		return "Quote"
	}
}

// IDField is the payload field carrying the transaction id.
func (r Resource) IDField() string {
	switch r {
	case ResourceBulkQuotes:
		return "bulkQuoteId"
	case ResourceFxQuotes:
		return "conversionRequestId"
	default:
		return "quoteId"
	}
}

func (r Resource) CollectionPath() string { return "/" + string(r) }

func (r Resource) ItemPath(id string) string { return fmt.Sprintf("/%s/%s", r, id) }

func (r Resource) ErrorPath(id string) string { return fmt.Sprintf("/%s/%s/error", r, id) }

func ParseResource(s string) (Resource, bool) {
	switch Resource(s) {
	case ResourceQuotes, ResourceBulkQuotes, ResourceFxQuotes:
		return Resource(s), true
	}
	return "", false
}
