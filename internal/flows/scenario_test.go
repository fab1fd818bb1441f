package flows

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/internal/dedupe"
	"github.com/Checker-Finance/quoting-switch/internal/forwarder"
	"github.com/Checker-Finance/quoting-switch/internal/httpclient"
	"github.com/Checker-Finance/quoting-switch/internal/notifier"
	"github.com/Checker-Finance/quoting-switch/internal/participants"
	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

type received struct {
	method  string
	path    string
	headers http.Header
	body    []byte
}

type participantServer struct {
	mu   sync.Mutex
	srv  *httptest.Server
	reqs []received
}

func newParticipantServer(t *testing.T) *participantServer {
	p := &participantServer{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.reqs = append(p.reqs, received{r.Method, r.URL.Path, r.Header.Clone(), b})
		p.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *participantServer) received() []received {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]received(nil), p.reqs...)
}

func TestScenario_QuoteResendAndConflict(t *testing.T) {
	dfspa := newParticipantServer(t)
	dfspb := newParticipantServer(t)

	mem := store.NewMemory()
	mem.AddParticipant(model.Participant{Name: "DFSP_A", IsActive: true},
		model.Endpoint{FspID: "DFSP_A", Type: fspiop.EndpointQuotes, URL: dfspa.srv.URL})
	mem.AddParticipant(model.Participant{Name: "DFSP_B", IsActive: true},
		model.Endpoint{FspID: "DFSP_B", Type: fspiop.EndpointQuotes, URL: dfspb.srv.URL})

	resolver := participants.NewResolver(mem, participants.Options{})
	exec := httpclient.New(zap.NewNop(), nil, http.DefaultClient, 0, "forward", nil)
	fwd := forwarder.New(forwarder.Options{
		Executor: exec,
		HubName:  "Hub",
		Protocol: fspiop.ProtocolVersions{ContentDefault: "1.1", ContentValid: []string{"1.0", "1.1"}, AcceptDefault: "1", AcceptValid: []string{"1"}, FxDefault: "2.0"},
	})

	f := NewQuotes(Deps{
		Store:    mem,
		Dedupe:   dedupe.New(mem),
		Resolver: resolver,
		Sender:   fwd,
		Notifier: notifier.New(resolver, fwd, "Hub", nil),
		HubName:  "Hub",
	})

	payload := func(amount string) string {
		return `{"quoteId":"Q1","transactionId":"T1","amountType":"SEND","amount":{"amount":"` + amount + `","currency":"USD"}}`
	}
	headers := map[string]string{
		"FSPIOP-Source":      "DFSP_A",
		"FSPIOP-Destination": "DFSP_B",
		"FSPIOP-Signature":   "sig-a",
		"Content-Type":       "application/vnd.interoperability.quotes+json;version=1.1",
	}
	ctx := context.Background()

	require.NoError(t, f.HandlePost(ctx, request(payload("50"), headers, "")))
	require.NoError(t, f.HandlePost(ctx, request(payload("50"), headers, "")))

	atB := dfspb.received()
	require.Len(t, atB, 2)
	for _, r := range atB {
		assert.Equal(t, http.MethodPost, r.method)
		assert.Equal(t, "/quotes", r.path)
		assert.Equal(t, "DFSP_A", r.headers.Get("FSPIOP-Source"))
		assert.Equal(t, "sig-a", r.headers.Get("FSPIOP-Signature"), "relayed requests keep the sender's signature")
		assert.JSONEq(t, payload("50"), string(r.body))
	}
	assert.Equal(t, 1, mem.DuplicateCount())

	err := f.HandlePost(ctx, request(payload("51"), headers, ""))
	require.Error(t, err)
	assert.Len(t, dfspb.received(), 2, "conflict is never forwarded")

	atA := dfspa.received()
	require.Len(t, atA, 1)
	assert.Equal(t, http.MethodPut, atA[0].method)
	assert.Equal(t, "/quotes/Q1/error", atA[0].path)
	assert.Equal(t, "Hub", atA[0].headers.Get("FSPIOP-Source"))
	assert.Equal(t, "DFSP_A", atA[0].headers.Get("FSPIOP-Destination"))
	assert.Empty(t, atA[0].headers.Get("FSPIOP-Signature"))
	assert.Empty(t, atA[0].headers.Get("Accept"))

	var body fspiop.ErrorBody
	require.NoError(t, json.Unmarshal(atA[0].body, &body))
	assert.Equal(t, "3106", body.ErrorInformation.ErrorCode)
}
