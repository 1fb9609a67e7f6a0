package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// PostgresStore persists the engine's committed view: parsed blocks, the
// colored output set, param override history, and per-cycle tally
// results. The in-memory ledger stays authoritative; this store is the
// snapshot boundary for restarts and external consumers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for DAO Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/store/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("DAO governance schema initialized")
	return nil
}

// SaveBlock persists a parsed block with its classified transactions and
// outputs in one transaction. Re-saving the same height upserts, so a
// replay after a crash converges on the same rows.
func (s *PostgresStore) SaveBlock(ctx context.Context, block models.Block) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertBlockSQL := `
		INSERT INTO blocks (height, block_time, block_hash, prev_hash, tx_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (height) DO UPDATE
		SET block_time = EXCLUDED.block_time, block_hash = EXCLUDED.block_hash,
		    prev_hash = EXCLUDED.prev_hash, tx_count = EXCLUDED.tx_count;
	`
	_, err = tx.Exec(ctx, insertBlockSQL,
		block.Height, block.Time, hex.EncodeToString(block.Hash[:]), hex.EncodeToString(block.PrevHash[:]), len(block.Txs))
	if err != nil {
		return fmt.Errorf("failed to insert block: %v", err)
	}

	insertTxSQL := `
		INSERT INTO dao_txs (txid, block_height, tx_type, burnt_fee)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (txid) DO UPDATE
		SET block_height = EXCLUDED.block_height, tx_type = EXCLUDED.tx_type, burnt_fee = EXCLUDED.burnt_fee;
	`
	insertOutputSQL := `
		INSERT INTO tx_outputs (txid, output_index, value, address, output_type, spent)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txid, output_index) DO UPDATE
		SET value = EXCLUDED.value, address = EXCLUDED.address,
		    output_type = EXCLUDED.output_type, spent = EXCLUDED.spent;
	`
	for _, daoTx := range block.Txs {
		_, err = tx.Exec(ctx, insertTxSQL, daoTx.TxID, daoTx.BlockHeight, daoTx.Type.String(), daoTx.BurntFee)
		if err != nil {
			return fmt.Errorf("failed to insert dao tx %s: %v", daoTx.TxID, err)
		}
		for _, out := range daoTx.Outputs {
			_, err = tx.Exec(ctx, insertOutputSQL,
				out.TxID, out.Index, out.Value, out.Address, out.Type.String(), out.Spent)
			if err != nil {
				return fmt.Errorf("failed to insert tx output %s:%d: %v", out.TxID, out.Index, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// MarkOutputSpent flips the spent flag on a persisted output.
func (s *PostgresStore) MarkOutputSpent(ctx context.Context, txid string, index uint32) error {
	sql := `UPDATE tx_outputs SET spent = TRUE WHERE txid = $1 AND output_index = $2`
	_, err := s.pool.Exec(ctx, sql, txid, index)
	return err
}

// SaveParamOverride appends a governance parameter override row.
func (s *PostgresStore) SaveParamOverride(ctx context.Context, id models.ParamID, atHeight uint32, value int64) error {
	sql := `
		INSERT INTO param_overrides (param_id, at_height, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (param_id, at_height) DO UPDATE SET value = EXCLUDED.value;
	`
	_, err := s.pool.Exec(ctx, sql, string(id), atHeight, value)
	return err
}

// SaveCycleResult persists a full tally outcome: the cycle row plus one
// row per proposal result.
func (s *PostgresStore) SaveCycleResult(ctx context.Context, resultHeight uint32, result models.CycleResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertCycleSQL := `
		INSERT INTO cycle_results (cycle_index, result_height, proposal_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (cycle_index) DO UPDATE
		SET result_height = EXCLUDED.result_height, proposal_count = EXCLUDED.proposal_count;
	`
	_, err = tx.Exec(ctx, insertCycleSQL, result.CycleIndex, resultHeight, len(result.Results))
	if err != nil {
		return fmt.Errorf("failed to insert cycle result: %v", err)
	}

	insertProposalSQL := `
		INSERT INTO proposal_results
		(cycle_index, proposal_txid, outcome, accept_weight, reject_weight, total_stake)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cycle_index, proposal_txid) DO UPDATE
		SET outcome = EXCLUDED.outcome, accept_weight = EXCLUDED.accept_weight,
		    reject_weight = EXCLUDED.reject_weight, total_stake = EXCLUDED.total_stake;
	`
	for _, r := range result.Results {
		_, err = tx.Exec(ctx, insertProposalSQL,
			result.CycleIndex, r.ProposalTxID, r.Outcome.String(), r.AcceptWeight, r.RejectWeight, r.TotalStake)
		if err != nil {
			return fmt.Errorf("failed to insert proposal result %s: %v", r.ProposalTxID, err)
		}
	}

	return tx.Commit(ctx)
}

// ProposalResultRow is a read-model row for the results listing API.
type ProposalResultRow struct {
	CycleIndex   uint32  `json:"cycleIndex"`
	ProposalTxID string  `json:"proposalTxid"`
	Outcome      string  `json:"outcome"`
	AcceptWeight float64 `json:"acceptWeight"`
	RejectWeight float64 `json:"rejectWeight"`
	TotalStake   int64   `json:"totalStake"`
}

// GetProposalResults pages through persisted proposal outcomes, newest
// cycle first.
func (s *PostgresStore) GetProposalResults(ctx context.Context, page int, limit int) ([]ProposalResultRow, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	countSQL := `SELECT COUNT(*) FROM proposal_results`
	if err := s.pool.QueryRow(ctx, countSQL).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT cycle_index, proposal_txid, outcome, accept_weight, reject_weight, total_stake
		FROM proposal_results
		ORDER BY cycle_index DESC, proposal_txid ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []ProposalResultRow
	for rows.Next() {
		var r ProposalResultRow
		if err := rows.Scan(&r.CycleIndex, &r.ProposalTxID, &r.Outcome,
			&r.AcceptWeight, &r.RejectWeight, &r.TotalStake); err != nil {
			return nil, 0, err
		}
		results = append(results, r)
	}
	if results == nil {
		results = []ProposalResultRow{}
	}
	return results, totalCount, nil
}

// SaveShadowReplay records a shadow tally comparison for audit.
func (s *PostgresStore) SaveShadowReplay(ctx context.Context, cycleIndex uint32, paramID models.ParamID, candidateValue int64, divergedCount int, agreement float64) error {
	sql := `
		INSERT INTO shadow_replays (cycle_index, param_id, candidate_value, diverged_count, outcome_agreement)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := s.pool.Exec(ctx, sql, cycleIndex, string(paramID), candidateValue, divergedCount, agreement)
	return err
}

// LoadChainHeight returns the highest persisted block height, or 0 when
// the store is empty, so a restarted engine knows where to resume.
func (s *PostgresStore) LoadChainHeight(ctx context.Context) (uint32, error) {
	var height *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(height) FROM blocks`).Scan(&height); err != nil {
		return 0, err
	}
	if height == nil {
		return 0, nil
	}
	return uint32(*height), nil
}

// GetPool exposes the connection pool for subsystems that run their own
// queries.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
