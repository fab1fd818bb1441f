package participants

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Checker-Finance/quoting-switch/internal/httpclient"
	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// LedgerClient reads participants and their endpoints from the central ledger admin API.
type LedgerClient struct {
	baseURL string
	exec    *httpclient.Executor
}

func NewLedgerClient(baseURL string, exec *httpclient.Executor) *LedgerClient {
	return &LedgerClient{baseURL: strings.TrimRight(baseURL, "/"), exec: exec}
}

// NotFoundHandler maps a ledger 404 onto store.ErrNotFound. Pass it as the
// Executor's error handler.
func NotFoundHandler(status int, body []byte) error {
	if status == http.StatusNotFound {
		return store.ErrNotFound
	}
	return &httpclient.StatusError{Status: status, Body: body}
}

type ledgerParticipant struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	IsActive int    `json:"isActive"`
	IsProxy  bool   `json:"isProxy"`
	Accounts []struct {
		Currency string `json:"currency"`
		IsActive int    `json:"isActive"`
	} `json:"accounts"`
}

func (c *LedgerClient) GetParticipant(ctx context.Context, name string) (*model.Participant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/participants/%s", c.baseURL, url.PathEscape(name)), nil)
	if err != nil {
		return nil, err
	}
	var lp ledgerParticipant
	if err := c.exec.DoJSON(ctx, req, "central-ledger", &lp); err != nil {
		return nil, err
	}
	p := &model.Participant{Name: lp.Name, ID: lp.ID, IsActive: lp.IsActive == 1, IsProxy: lp.IsProxy}
	seen := map[string]bool{}
	for _, a := range lp.Accounts {
		if a.IsActive == 1 && !seen[a.Currency] {
			seen[a.Currency] = true
			p.Currencies = append(p.Currencies, a.Currency)
		}
	}
	return p, nil
}

type ledgerEndpoint struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// GetEndpoints returns all registered endpoints for a participant, keyed by type.
func (c *LedgerClient) GetEndpoints(ctx context.Context, fspID string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/participants/%s/endpoints", c.baseURL, url.PathEscape(fspID)), nil)
	if err != nil {
		return nil, err
	}
	var eps []ledgerEndpoint
	if err := c.exec.DoJSON(ctx, req, "central-ledger", &eps); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(eps))
	for _, e := range eps {
		out[e.Type] = e.Value
	}
	return out, nil
}

func (c *LedgerClient) GetParticipantEndpoint(ctx context.Context, fspID, endpointType string) (string, error) {
	eps, err := c.GetEndpoints(ctx, fspID)
	if err != nil {
		return "", err
	}
	u, ok := eps[endpointType]
	if !ok {
		return "", store.ErrNotFound
	}
	return u, nil
}
