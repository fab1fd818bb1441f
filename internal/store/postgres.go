package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// PGStore is the Postgres-backed Store.
type PGStore struct {
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewPG opens a pooled Postgres connection.
func NewPG(ctx context.Context, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*PGStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if pgPoolConfig.MaxConns > 0 {
		cfg.MaxConns = pgPoolConfig.MaxConns
	}
	if pgPoolConfig.MinConns > 0 {
		cfg.MinConns = pgPoolConfig.MinConns
	}
	if pgPoolConfig.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
	}
	if pgPoolConfig.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
	}
	if pgPoolConfig.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PGStore{PG: pool, logger: logger.Named("store")}, nil
}

// EnsureSchema creates the quoting tables if they do not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.PG.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PGStore) GetParticipant(ctx context.Context, name string) (*model.Participant, error) {
	var p model.Participant
	err := s.PG.QueryRow(ctx, `
		SELECT name, is_active, is_proxy
		FROM participant
		WHERE name = $1
	`, name).Scan(&p.Name, &p.IsActive, &p.IsProxy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", name, err)
	}
	return &p, nil
}

func (s *PGStore) GetParticipantEndpoint(ctx context.Context, fspID, endpointType string) (string, error) {
	var url string
	err := s.PG.QueryRow(ctx, `
		SELECT value
		FROM participant_endpoint
		WHERE participant_name = $1 AND endpoint_type = $2 AND is_active
	`, fspID, endpointType).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get endpoint %s/%s: %w", fspID, endpointType, err)
	}
	return url, nil
}

func (s *PGStore) GetDuplicateCheck(ctx context.Context, resource fspiop.Resource, dir model.Direction, id string) (*model.DuplicateCheck, error) {
	var dc model.DuplicateCheck
	q := fmt.Sprintf(`SELECT id, hash FROM %s WHERE id = $1`, duplicateTable(resource, dir))
	err := s.PG.QueryRow(ctx, q, id).Scan(&dc.ID, &dc.Hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get duplicate check %s: %w", id, err)
	}
	return &dc, nil
}

func (s *PGStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.PG.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *PGStore) HealthCheck(ctx context.Context) error {
	if s.PG == nil {
		return fmt.Errorf("postgres not initialized")
	}
	if err := s.PG.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *PGStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	return nil
}

// --- transaction ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateDuplicateCheck(ctx context.Context, resource fspiop.Resource, dir model.Direction, check model.DuplicateCheck) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, hash) VALUES ($1, $2)`, duplicateTable(resource, dir))
	_, err := t.tx.Exec(ctx, q, check.ID, check.Hash)
	return mapErr("insert duplicate check", err)
}

func (t *pgTx) CreateQuote(ctx context.Context, q QuoteRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO quote (
			quote_id, transaction_id, transaction_request_id, payer_fsp, payee_fsp,
			amount_type, amount, currency, expiration, status, request
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7::numeric, $8, $9, $10, $11)
	`, q.QuoteID, q.TransactionID, q.TransactionRequestID, q.PayerFsp, q.PayeeFsp,
		q.AmountType, q.Amount.String(), q.Currency, q.Expiration, model.StatusNew, []byte(q.Payload))
	if err != nil {
		return mapErr("insert quote", err)
	}
	for _, p := range q.Parties {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO quote_party (quote_id, role, fsp_id, id_type, id_value, sub_id_or_type)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		`, q.QuoteID, p.Role, p.FspID, p.IDType, p.IDValue, p.SubIDOrType)
		if err != nil {
			return mapErr("insert quote party", err)
		}
	}
	return nil
}

func (t *pgTx) CreateBulkQuote(ctx context.Context, q BulkQuoteRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bulk_quote (bulk_quote_id, payer_fsp, payee_fsp, expiration, status, request)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, q.BulkQuoteID, q.PayerFsp, q.PayeeFsp, q.Expiration, model.StatusNew, []byte(q.Payload))
	if err != nil {
		return mapErr("insert bulk quote", err)
	}

	batch := &pgx.Batch{}
	for _, iq := range q.Individual {
		batch.Queue(`
			INSERT INTO bulk_quote_individual (bulk_quote_id, quote_id, transaction_id, amount, currency)
			VALUES ($1, $2, $3, $4::numeric, $5)
		`, q.BulkQuoteID, iq.QuoteID, iq.TransactionID, iq.Amount.String(), iq.Currency)
	}
	if batch.Len() == 0 {
		return nil
	}
	return mapErr("insert bulk quote individuals", t.tx.SendBatch(ctx, batch).Close())
}

func (t *pgTx) CreateFxQuote(ctx context.Context, q FxQuoteRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO fx_quote (
			conversion_request_id, conversion_id, determining_transfer_id, initiating_fsp, counter_party_fsp,
			amount_type, source_amount, source_currency, target_amount, target_currency, expiration, status, request
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7::numeric, NULLIF($8, ''), $9::numeric, NULLIF($10, ''), $11, $12, $13)
	`, q.ConversionRequestID, q.ConversionID, q.DeterminingTransferID, q.InitiatingFsp, q.CounterPartyFsp,
		q.AmountType, nullAmount(q.SourceAmount), q.SourceCurrency, nullAmount(q.TargetAmount), q.TargetCurrency,
		q.Expiration, model.StatusNew, []byte(q.Payload))
	return mapErr("insert fx quote", err)
}

func (t *pgTx) CreateResponse(ctx context.Context, r ResponseRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s_response (%s, expiration, payload) VALUES ($1, $2, $3)`,
		tableFor(r.Resource), idColumn(r.Resource))
	_, err := t.tx.Exec(ctx, q, r.ID, r.Expiration, []byte(r.Payload))
	return mapErr("insert response", err)
}

func (t *pgTx) CreateError(ctx context.Context, e ErrorRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s_error (%s, error_code, error_description, payload) VALUES ($1, $2, $3, $4)`,
		tableFor(e.Resource), idColumn(e.Resource))
	_, err := t.tx.Exec(ctx, q, e.ID, e.ErrorCode, truncate(e.ErrorDescription, 256), []byte(e.Payload))
	return mapErr("insert error", err)
}

func (t *pgTx) UpdateStatus(ctx context.Context, resource fspiop.Resource, id string, status model.Status) error {
	q := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE %s = $1`, tableFor(resource), idColumn(resource))
	_, err := t.tx.Exec(ctx, q, id, status)
	return mapErr("update status", err)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback is a no-op once the transaction has been committed.
func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicateRecord)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullAmount(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// truncate caps s at n characters, matching VARCHAR(n) semantics.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
