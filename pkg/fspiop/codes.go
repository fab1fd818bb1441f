package fspiop

// Code is a catalogued FSPIOP error code.
type Code struct {
	Code    string
	Name    string
	Message string
}

var (
	CommunicationError            = Code{"1000", "COMMUNICATION_ERROR", "Communication error"}
	DestinationCommunicationError = Code{"1001", "DESTINATION_COMMUNICATION_ERROR", "Destination communication error"}

	ServerError                 = Code{"2000", "SERVER_ERROR", "Generic server error"}
	InternalServerError         = Code{"2001", "INTERNAL_SERVER_ERROR", "Internal server error"}
	NotImplemented              = Code{"2002", "NOT_IMPLEMENTED", "Not implemented"}
	ServiceCurrentlyUnavailable = Code{"2003", "SERVICE_CURRENTLY_UNAVAILABLE", "Service currently unavailable"}
	ServerTimedOut              = Code{"2004", "SERVER_TIMED_OUT", "Server timed out"}
	ServerBusy                  = Code{"2005", "SERVER_BUSY", "Server busy"}

	ClientError         = Code{"3000", "CLIENT_ERROR", "Generic client error"}
	UnacceptableVersion = Code{"3001", "UNACCEPTABLE_VERSION", "Unacceptable version requested"}
	UnknownURI          = Code{"3002", "UNKNOWN_URI", "Unknown URI"}

	ValidationError           = Code{"3100", "VALIDATION_ERROR", "Generic validation error"}
	MalformedSyntax           = Code{"3101", "MALFORMED_SYNTAX", "Malformed syntax"}
	MissingElement            = Code{"3102", "MISSING_ELEMENT", "Missing mandatory element"}
	TooManyElements           = Code{"3103", "TOO_MANY_ELEMENTS", "Too many elements"}
	TooLargePayload           = Code{"3104", "TOO_LARGE_PAYLOAD", "Too large payload"}
	InvalidSignature          = Code{"3105", "INVALID_SIGNATURE", "Invalid signature"}
	ModifiedRequest           = Code{"3106", "MODIFIED_REQUEST", "Modified request"}
	MissingMandatoryExtension = Code{"3107", "MISSING_MANDATORY_EXTENSION", "Missing mandatory extension parameter"}

	IDNotFound          = Code{"3200", "ID_NOT_FOUND", "Generic ID not found"}
	DestinationFSPError = Code{"3201", "DESTINATION_FSP_ERROR", "Destination FSP Error"}
	PayerFSPIDNotFound  = Code{"3202", "PAYER_FSP_ID_NOT_FOUND", "Payer FSP ID not found"}
	PayeeFSPIDNotFound  = Code{"3203", "PAYEE_FSP_ID_NOT_FOUND", "Payee FSP ID not found"}
	PartyNotFound       = Code{"3204", "PARTY_NOT_FOUND", "Party not found"}
	QuoteIDNotFound     = Code{"3205", "QUOTE_ID_NOT_FOUND", "Quote ID not found"}

	ExpiredError = Code{"3300", "EXPIRED_ERROR", "Generic expired error"}
	QuoteExpired = Code{"3302", "QUOTE_EXPIRED", "Quote expired"}

	PayerError                    = Code{"4000", "PAYER_ERROR", "Generic Payer error"}
	PayerFSPInsufficientLiquidity = Code{"4001", "PAYER_FSP_INSUFFICIENT_LIQUIDITY", "Payer FSP insufficient liquidity"}
	PayerRejection                = Code{"4100", "PAYER_REJECTION", "Generic Payer rejection"}
	PayerRejectedTxnRequest       = Code{"4101", "PAYER_REJECTED_TXN_REQUEST", "Payer rejected transaction request"}
	PayerFSPUnsupportedTxnType    = Code{"4102", "PAYER_FSP_UNSUPPORTED_TXN_TYPE", "Payer FSP unsupported transaction type"}
	PayerUnsupportedCurrency      = Code{"4103", "PAYER_UNSUPPORTED_CURRENCY", "Payer unsupported currency"}
	PayerLimitError               = Code{"4200", "PAYER_LIMIT_ERROR", "Payer limit error"}
	PayerPermissionError          = Code{"4300", "PAYER_PERMISSION_ERROR", "Payer permission error"}
	PayerBlockedError             = Code{"4400", "PAYER_BLOCKED_ERROR", "Generic Payer blocked error"}
	PayeeError                    = Code{"5000", "PAYEE_ERROR", "Generic Payee error"}
	PayeeFSPInsufficientLiquidity = Code{"5001", "PAYEE_FSP_INSUFFICIENT_LIQUIDITY", "Payee FSP insufficient liquidity"}
	PayeeRejection                = Code{"5100", "PAYEE_REJECTION", "Generic Payee rejection"}
	PayeeRejectedQuote            = Code{"5101", "PAYEE_REJECTED_QUOTE", "Payee rejected quote"}
	PayeeFSPUnsupportedTxnType    = Code{"5102", "PAYEE_FSP_UNSUPPORTED_TXN_TYPE", "Payee FSP unsupported transaction type"}
	PayeeFSPRejectedQuote         = Code{"5103", "PAYEE_FSP_REJECTED_QUOTE", "Payee FSP rejected quote"}
	PayeeRejectedTxn              = Code{"5104", "PAYEE_REJECTED_TXN", "Payee rejected transaction"}
	PayeeFSPRejectedTxn           = Code{"5105", "PAYEE_FSP_REJECTED_TXN", "Payee FSP rejected transaction"}
	PayeeUnsupportedCurrency      = Code{"5106", "PAYEE_UNSUPPORTED_CURRENCY", "Payee unsupported currency"}
	PayeeLimitError               = Code{"5200", "PAYEE_LIMIT_ERROR", "Payee limit error"}
	PayeePermissionError          = Code{"5300", "PAYEE_PERMISSION_ERROR", "Payee permission error"}
	PayeeBlockedError             = Code{"5400", "PAYEE_BLOCKED_ERROR", "Generic Payee blocked error"}
)

var catalogue = []Code{
	CommunicationError, DestinationCommunicationError,
	ServerError, InternalServerError, NotImplemented, ServiceCurrentlyUnavailable, ServerTimedOut, ServerBusy,
	ClientError, UnacceptableVersion, UnknownURI,
	ValidationError, MalformedSyntax, MissingElement, TooManyElements, TooLargePayload, InvalidSignature,
	ModifiedRequest, MissingMandatoryExtension,
	IDNotFound, DestinationFSPError, PayerFSPIDNotFound, PayeeFSPIDNotFound, PartyNotFound, QuoteIDNotFound,
	ExpiredError, QuoteExpired,
	PayerError, PayerFSPInsufficientLiquidity, PayerRejection, PayerRejectedTxnRequest, PayerFSPUnsupportedTxnType,
	PayerUnsupportedCurrency, PayerLimitError, PayerPermissionError, PayerBlockedError,
	PayeeError, PayeeFSPInsufficientLiquidity, PayeeRejection, PayeeRejectedQuote, PayeeFSPUnsupportedTxnType,
	PayeeFSPRejectedQuote, PayeeRejectedTxn, PayeeFSPRejectedTxn, PayeeUnsupportedCurrency, PayeeLimitError,
	PayeePermissionError, PayeeBlockedError,
}

var byName = func() map[string]Code {
	m := make(map[string]Code, len(catalogue))
	for _, c := range catalogue {
		m[c.Name] = c
	}
	return m
}()

// ByName looks up a catalogued code by its symbolic name (e.g. "PAYEE_UNSUPPORTED_CURRENCY").
func ByName(name string) (Code, bool) {
	c, ok := byName[name]
	return c, ok
}
