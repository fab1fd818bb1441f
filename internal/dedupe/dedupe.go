package dedupe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Checker-Finance/quoting-switch/internal/metrics"
	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// Result classifies a request against the stored duplicate-check record.
//
//	new:      {false, false}
//	resend:   {true,  true}
//	conflict: {false, true}
type Result struct {
	IsResend      bool
	IsDuplicateID bool
	Hash          string
}

func (r Result) IsNew() bool      { return !r.IsDuplicateID }
func (r Result) IsConflict() bool { return r.IsDuplicateID && !r.IsResend }

func (r Result) label() string {
	switch {
	case r.IsResend:
		return "resend"
	case r.IsConflict():
		return "conflict"
	default:
		return "new"
	}
}

// Lookup is the read side of the store the checker needs.
type Lookup interface {
	GetDuplicateCheck(ctx context.Context, resource fspiop.Resource, dir model.Direction, id string) (*model.DuplicateCheck, error)
}

// Checker classifies inbound payloads as new, resent or conflicting.
type Checker struct {
	lookup Lookup
}

func New(lookup Lookup) *Checker {
	return &Checker{lookup: lookup}
}

// Check hashes payload and compares it with the stored record for id.
func (c *Checker) Check(ctx context.Context, resource fspiop.Resource, dir model.Direction, id string, payload []byte) (Result, error) {
	hash, err := Hash(payload)
	if err != nil {
		return Result{}, err
	}
	res := Result{Hash: hash}

	dc, err := c.lookup.GetDuplicateCheck(ctx, resource, dir, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Result{}, fmt.Errorf("duplicate check %s: %w", id, err)
	default:
		res.IsDuplicateID = true
		res.IsResend = dc.Hash == hash
	}

	metrics.IncDuplicateCheck(string(resource), res.label())
	return res, nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON form of payload.
// Canonical form sorts object keys and drops insignificant whitespace, so
// re-serialised copies of the same document hash equally.
func Hash(payload []byte) (string, error) {
	canon, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func Canonical(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fspiop.New(fspiop.MalformedSyntax, "payload is not valid JSON", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonicalise: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
