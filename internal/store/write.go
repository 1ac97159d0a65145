package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Rebalancy/agent-contracts/internal/chainconfig"
	"github.com/Rebalancy/agent-contracts/internal/domain"
)

const nonceCounter = "session_nonce"

// NewSession describes a session to open.
type NewSession struct {
	Flow             domain.Flow
	SourceChain      domain.ChainID
	DestinationChain domain.ChainID
	ExpectedAmount   *big.Int
	StartedAt        time.Time
}

// StartSession allocates the next nonce and writes the session row and its
// activity log in one transaction. Returns ErrSessionActive if a session row
// already exists.
func (s *Store) StartSession(ctx context.Context, ns NewSession) (domain.ActiveSession, error) {
	var session domain.ActiveSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&exists)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		if exists > 0 {
			return ErrSessionActive
		}

		var next int64
		err = tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, nonceCounter).Scan(&next)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("start session: read nonce: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO counters (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value
		`, nonceCounter, next+1); err != nil {
			return fmt.Errorf("start session: bump nonce: %w", err)
		}

		session = domain.ActiveSession{
			Nonce:            uint64(next),
			Flow:             ns.Flow,
			SourceChain:      ns.SourceChain,
			DestinationChain: ns.DestinationChain,
			StartedAt:        ns.StartedAt.UTC(),
		}
		at := toNanos(ns.StartedAt)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, nonce, flow, source_chain, destination_chain, started_at, finished)
			VALUES (1, ?, ?, ?, ?, ?, 0)
		`, next, ns.Flow.String(), int64(ns.SourceChain), int64(ns.DestinationChain), at); err != nil {
			return fmt.Errorf("start session: insert session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activity_logs
			(nonce, flow, source_chain, destination_chain, expected_amount, actual_amount, started_at, updated_at, transactions)
			VALUES (?, ?, ?, ?, ?, NULL, ?, ?, '[]')
			ON CONFLICT(nonce) DO NOTHING
		`, next, ns.Flow.String(), int64(ns.SourceChain), int64(ns.DestinationChain),
			marshalAmount(ns.ExpectedAmount), at, at); err != nil {
			return fmt.Errorf("start session: insert log: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ActiveSession{}, err
	}
	return session, nil
}

// ClearSession removes the session row. When dropLog is set the session's
// activity log is removed with it. Returns the removed session, or false if
// there was none.
func (s *Store) ClearSession(ctx context.Context, dropLog bool) (domain.ActiveSession, bool, error) {
	var (
		session domain.ActiveSession
		found   bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		session, found, err = activeSession(ctx, tx)
		if err != nil || !found {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		if dropLog {
			if _, err := tx.ExecContext(ctx, `DELETE FROM activity_logs WHERE nonce = ?`, int64(session.Nonce)); err != nil {
				return fmt.Errorf("clear session: drop log: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.ActiveSession{}, false, err
	}
	return session, found, nil
}

// CompleteSession records the actual amount on the session's log and removes
// the session. Returns ErrNoSession if no session with nonce is active.
func (s *Store) CompleteSession(ctx context.Context, nonce uint64, actual *big.Int, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		session, found, err := activeSession(ctx, tx)
		if err != nil {
			return err
		}
		if !found || session.Nonce != nonce {
			return ErrNoSession
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE activity_logs SET actual_amount = ?, updated_at = ? WHERE nonce = ?
		`, marshalAmount(actual), toNanos(at), int64(nonce)); err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		return nil
	})
}

// SignatureRecord is the outcome of one signature completion.
type SignatureRecord struct {
	Key     domain.CacheKey
	Hash    common.Hash
	Payload domain.SignedPayload
	At      time.Time

	// Finish marks the active session finished in the same transaction.
	Finish bool
}

// RecordSignature writes both caches and replaces the log entry carrying the
// payload's tag. Cache rows for the key are overwritten.
func (s *Store) RecordSignature(ctx context.Context, rec SignatureRecord) error {
	nonce := int64(rec.Key.Nonce)
	step := rec.Key.Step.String()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payload_hashes (nonce, step, hash) VALUES (?, ?, ?)
			ON CONFLICT(nonce, step) DO UPDATE SET hash = excluded.hash
		`, nonce, step, rec.Hash.Hex()); err != nil {
			return fmt.Errorf("record signature: hash cache: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signed_payloads (nonce, step, payload) VALUES (?, ?, ?)
			ON CONFLICT(nonce, step) DO UPDATE SET payload = excluded.payload
		`, nonce, step, []byte(rec.Payload)); err != nil {
			return fmt.Errorf("record signature: signed cache: %w", err)
		}

		var txsJSON string
		err := tx.QueryRowContext(ctx, `SELECT transactions FROM activity_logs WHERE nonce = ?`, nonce).Scan(&txsJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("record signature: no activity log for nonce %d", rec.Key.Nonce)
		}
		if err != nil {
			return fmt.Errorf("record signature: read log: %w", err)
		}
		txs, err := unmarshalTransactions(txsJSON)
		if err != nil {
			return err
		}
		log := domain.ActivityLog{Transactions: txs}
		log.ReplaceTransaction(rec.Payload)
		txsJSON, err = marshalTransactions(log.Transactions)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE activity_logs SET transactions = ?, updated_at = ? WHERE nonce = ?
		`, txsJSON, toNanos(rec.At), nonce); err != nil {
			return fmt.Errorf("record signature: update log: %w", err)
		}

		if rec.Finish {
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET finished = 1 WHERE nonce = ?`, nonce); err != nil {
				return fmt.Errorf("record signature: finish session: %w", err)
			}
		}
		return nil
	})
}

// PutWorker stores or overwrites the worker bound to w.Identity.
func (s *Store) PutWorker(ctx context.Context, w domain.Worker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (identity, checksum, code_identity, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			checksum = excluded.checksum,
			code_identity = excluded.code_identity,
			registered_at = excluded.registered_at
	`, w.Identity, w.Checksum, w.CodeIdentity, toNanos(w.RegisteredAt))
	if err != nil {
		return fmt.Errorf("put worker: %w", err)
	}
	return nil
}

// ApproveIdentity adds codeIdentity to the approved set. Approving twice is
// a no-op.
func (s *Store) ApproveIdentity(ctx context.Context, codeIdentity string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approved_identities (code_identity, approved_at) VALUES (?, ?)
		ON CONFLICT(code_identity) DO NOTHING
	`, normalizeIdentity(codeIdentity), toNanos(at))
	if err != nil {
		return fmt.Errorf("approve identity: %w", err)
	}
	return nil
}

// RevokeIdentity removes codeIdentity from the approved set and reports
// whether it was present.
func (s *Store) RevokeIdentity(ctx context.Context, codeIdentity string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM approved_identities WHERE code_identity = ?`, normalizeIdentity(codeIdentity))
	if err != nil {
		return false, fmt.Errorf("revoke identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke identity: %w", err)
	}
	return n > 0, nil
}

// AddChainConfig stores a chain configuration. Returns ErrDuplicateChain if
// the chain ID is already configured.
func (s *Store) AddChainConfig(ctx context.Context, c domain.ChainConfig) error {
	data, err := marshalChainConfig(c)
	if err != nil {
		return err
	}
	fp, err := chainconfig.Fingerprint(c)
	if err != nil {
		return fmt.Errorf("add chain config: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_configs (chain_id, config, fingerprint) VALUES (?, ?, ?)
		ON CONFLICT(chain_id) DO NOTHING
	`, int64(c.ChainID), data, fp)
	if err != nil {
		return fmt.Errorf("add chain config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add chain config: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chain %d: %w", c.ChainID, ErrDuplicateChain)
	}
	return nil
}

// Code identities are hex digests; compare them case-insensitively.
func normalizeIdentity(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
}
