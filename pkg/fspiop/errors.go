package fspiop

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the switch handles it.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindDuplicateConflict     Kind = "duplicate_conflict"
	KindDestinationResolution Kind = "destination_resolution"
	KindPartyNotFound         Kind = "party_not_found"
	KindCommunication         Kind = "communication"
	KindRuleConfiguration     Kind = "rule_configuration"
	KindRuleRejection         Kind = "rule_rejection"
	KindInternal              Kind = "internal"
)

// Error is a protocol error carrying the FSPIOP code reported to participants.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s", e.Code.Code, e.Code.Message)
	}
	return fmt.Sprintf("%s %s - %s", e.Code.Code, e.Code.Message, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Description is the errorDescription sent on the wire.
func (e *Error) Description() string {
	if e.Message == "" {
		return e.Code.Message
	}
	return e.Code.Message + " - " + e.Message
}

// ToPayload renders the error callback body.
func (e *Error) ToPayload() ErrorBody {
	return ErrorBody{ErrorInformation: ErrorInformation{
		ErrorCode:        e.Code.Code,
		ErrorDescription: e.Description(),
	}}
}

// ErrorBody is the body of a PUT .../error callback.
type ErrorBody struct {
	ErrorInformation ErrorInformation `json:"errorInformation"`
}

// ErrorInformation is the FSPIOP errorInformation object.
type ErrorInformation struct {
	ErrorCode        string         `json:"errorCode"`
	ErrorDescription string         `json:"errorDescription"`
	ExtensionList    *ExtensionList `json:"extensionList,omitempty"`
}

type ExtensionList struct {
	Extension []Extension `json:"extension"`
}

type Extension struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// New builds an error of the given code. Kind defaults to internal for 2xxx codes
// and validation otherwise; use the taxonomy constructors for anything else.
func New(code Code, message string, cause error) *Error {
	kind := KindValidation
	if code.Code[0] == '2' || code.Code[0] == '1' {
		kind = KindInternal
	}
	return &Error{Code: code, Kind: kind, Message: message, Cause: cause}
}

func NewValidation(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewDuplicateConflict reports a resubmitted id whose content hash differs from the stored one.
func NewDuplicateConflict(resource Resource, id string) *Error {
	return &Error{
		Code:    ModifiedRequest,
		Kind:    KindDuplicateConflict,
		Message: fmt.Sprintf("%s %s is a duplicate but hashes dont match", resource.Singular(), id),
	}
}

func NewDestinationResolution(fspID, endpointType string) *Error {
	return &Error{
		Code:    DestinationFSPError,
		Kind:    KindDestinationResolution,
		Message: fmt.Sprintf("No %s endpoint found for FSP '%s'", endpointType, fspID),
	}
}

func NewPartyNotFound(fspID, endpointType string) *Error {
	return &Error{
		Code:    PartyNotFound,
		Kind:    KindPartyNotFound,
		Message: fmt.Sprintf("No %s endpoint found for FSP '%s', unable to make error callback", endpointType, fspID),
	}
}

func NewCommunication(message string, cause error) *Error {
	return &Error{Code: DestinationCommunicationError, Kind: KindCommunication, Message: message, Cause: cause}
}

func NewRuleConfiguration(message string) *Error {
	return &Error{Code: InternalServerError, Kind: KindRuleConfiguration, Message: message}
}

// NewRuleRejection is raised by an INVALID_QUOTE_REQUEST rule event. Unknown code
// names fall back to a generic validation error.
func NewRuleRejection(codeName, message string) *Error {
	code, ok := ByName(codeName)
	if !ok {
		code = ValidationError
	}
	return &Error{Code: code, Kind: KindRuleRejection, Message: message}
}

// Reformat returns err as an *Error, wrapping anything unclassified as an internal server error.
func Reformat(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Code: InternalServerError, Kind: KindInternal, Message: err.Error(), Cause: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
