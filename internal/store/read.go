package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Rebalancy/agent-contracts/internal/chainconfig"
	"github.com/Rebalancy/agent-contracts/internal/domain"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ActiveSession returns the current session, if any.
func (s *Store) ActiveSession(ctx context.Context) (domain.ActiveSession, bool, error) {
	return activeSession(ctx, s.db)
}

func activeSession(ctx context.Context, q queryer) (domain.ActiveSession, bool, error) {
	var (
		nonce, src, dst, started int64
		flow                     string
		finished                 bool
	)
	err := q.QueryRowContext(ctx, `
		SELECT nonce, flow, source_chain, destination_chain, started_at, finished
		FROM sessions WHERE id = 1
	`).Scan(&nonce, &flow, &src, &dst, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ActiveSession{}, false, nil
	}
	if err != nil {
		return domain.ActiveSession{}, false, fmt.Errorf("read session: %w", err)
	}
	f, err := domain.ParseFlow(flow)
	if err != nil {
		return domain.ActiveSession{}, false, fmt.Errorf("read session: %w", err)
	}
	return domain.ActiveSession{
		Nonce:            uint64(nonce),
		Flow:             f,
		SourceChain:      domain.ChainID(src),
		DestinationChain: domain.ChainID(dst),
		StartedAt:        fromNanos(started),
		Finished:         finished,
	}, true, nil
}

// ActivityLog returns the log for nonce, if any.
func (s *Store) ActivityLog(ctx context.Context, nonce uint64) (domain.ActivityLog, bool, error) {
	rows, err := s.db.QueryContext(ctx, logColumns+` WHERE nonce = ?`, int64(nonce))
	if err != nil {
		return domain.ActivityLog{}, false, fmt.Errorf("query activity log: %w", err)
	}
	logs, err := scanLogs(rows)
	if err != nil {
		return domain.ActivityLog{}, false, err
	}
	if len(logs) == 0 {
		return domain.ActivityLog{}, false, nil
	}
	return logs[0], true, nil
}

// LatestLogs returns up to count logs, newest nonce first.
func (s *Store) LatestLogs(ctx context.Context, count int) ([]domain.ActivityLog, error) {
	if count <= 0 {
		return []domain.ActivityLog{}, nil
	}
	rows, err := s.db.QueryContext(ctx, logColumns+` ORDER BY nonce DESC LIMIT ?`, count)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	return scanLogs(rows)
}

// Transactions returns the signed payloads logged for nonce in log order.
// Unknown nonces yield an empty slice.
func (s *Store) Transactions(ctx context.Context, nonce uint64) ([]domain.SignedPayload, error) {
	log, found, err := s.ActivityLog(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if !found {
		return []domain.SignedPayload{}, nil
	}
	return log.Transactions, nil
}

const logColumns = `
	SELECT nonce, flow, source_chain, destination_chain, expected_amount, actual_amount,
	       started_at, updated_at, transactions
	FROM activity_logs`

func scanLogs(rows *sql.Rows) ([]domain.ActivityLog, error) {
	defer rows.Close()

	logs := []domain.ActivityLog{}
	for rows.Next() {
		var (
			nonce, src, dst, started, updated int64
			flow, expected, txsJSON           string
			actual                            sql.NullString
		)
		if err := rows.Scan(&nonce, &flow, &src, &dst, &expected, &actual, &started, &updated, &txsJSON); err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		f, err := domain.ParseFlow(flow)
		if err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		log := domain.ActivityLog{
			Nonce:            uint64(nonce),
			Flow:             f,
			SourceChain:      domain.ChainID(src),
			DestinationChain: domain.ChainID(dst),
			StartedAt:        fromNanos(started),
			UpdatedAt:        fromNanos(updated),
		}
		if log.ExpectedAmount, err = unmarshalAmount(expected); err != nil {
			return nil, err
		}
		if actual.Valid {
			if log.ActualAmount, err = unmarshalAmount(actual.String); err != nil {
				return nil, err
			}
		}
		if log.Transactions, err = unmarshalTransactions(txsJSON); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity logs: %w", err)
	}
	return logs, nil
}

// PayloadHash returns the cached payload hash for key.
func (s *Store) PayloadHash(ctx context.Context, key domain.CacheKey) (common.Hash, bool, error) {
	var hex string
	err := s.db.QueryRowContext(ctx, `
		SELECT hash FROM payload_hashes WHERE nonce = ? AND step = ?
	`, int64(key.Nonce), key.Step.String()).Scan(&hex)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("read payload hash %s: %w", key, err)
	}
	return common.HexToHash(hex), true, nil
}

// SignedPayload returns the cached signed payload for key.
func (s *Store) SignedPayload(ctx context.Context, key domain.CacheKey) (domain.SignedPayload, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM signed_payloads WHERE nonce = ? AND step = ?
	`, int64(key.Nonce), key.Step.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read signed payload %s: %w", key, err)
	}
	return domain.SignedPayload(payload), true, nil
}

// SignedSteps returns the steps with a signed payload for nonce, ordered by
// tag.
func (s *Store) SignedSteps(ctx context.Context, nonce uint64) ([]domain.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step FROM signed_payloads WHERE nonce = ?
	`, int64(nonce))
	if err != nil {
		return nil, fmt.Errorf("query signed steps: %w", err)
	}
	defer rows.Close()

	have := make(map[domain.Step]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan signed step: %w", err)
		}
		step, err := domain.ParseStep(name)
		if err != nil {
			return nil, fmt.Errorf("scan signed step: %w", err)
		}
		have[step] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signed steps: %w", err)
	}

	steps := []domain.Step{}
	for _, step := range domain.AllSteps() {
		if have[step] {
			steps = append(steps, step)
		}
	}
	return steps, nil
}

// Worker returns the worker bound to identity, if any.
func (s *Store) Worker(ctx context.Context, identity string) (domain.Worker, bool, error) {
	w := domain.Worker{Identity: identity}
	var registered int64
	err := s.db.QueryRowContext(ctx, `
		SELECT checksum, code_identity, registered_at FROM workers WHERE identity = ?
	`, identity).Scan(&w.Checksum, &w.CodeIdentity, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Worker{}, false, nil
	}
	if err != nil {
		return domain.Worker{}, false, fmt.Errorf("read worker: %w", err)
	}
	w.RegisteredAt = fromNanos(registered)
	return w, true, nil
}

// IsApproved reports whether codeIdentity is in the approved set.
func (s *Store) IsApproved(ctx context.Context, codeIdentity string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM approved_identities WHERE code_identity = ?
	`, normalizeIdentity(codeIdentity)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read approval: %w", err)
	}
	return n > 0, nil
}

// ApprovedIdentities lists the approved set in lexical order.
func (s *Store) ApprovedIdentities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_identity FROM approved_identities ORDER BY code_identity COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query approved identities: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan approved identity: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approved identities: %w", err)
	}
	return ids, nil
}

// ChainConfig returns the configuration for id or chainconfig.ErrNotConfigured.
func (s *Store) ChainConfig(ctx context.Context, id domain.ChainID) (domain.ChainConfig, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM chain_configs WHERE chain_id = ?`, int64(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChainConfig{}, fmt.Errorf("chain %d: %w", id, chainconfig.ErrNotConfigured)
	}
	if err != nil {
		return domain.ChainConfig{}, fmt.Errorf("read chain config: %w", err)
	}
	return unmarshalChainConfig(data)
}

// IsSupported reports whether id has a stored configuration.
func (s *Store) IsSupported(ctx context.Context, id domain.ChainID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chain_configs WHERE chain_id = ?`, int64(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read chain config: %w", err)
	}
	return n > 0, nil
}

// ChainConfigs returns every stored configuration ordered by chain ID.
func (s *Store) ChainConfigs(ctx context.Context) ([]domain.ChainConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM chain_configs ORDER BY chain_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query chain configs: %w", err)
	}
	defer rows.Close()

	configs := []domain.ChainConfig{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan chain config: %w", err)
		}
		c, err := unmarshalChainConfig(data)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain configs: %w", err)
	}
	return configs, nil
}
