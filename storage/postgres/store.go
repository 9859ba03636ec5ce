package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/defistate/clamm-engine-go/pool"
	"github.com/defistate/clamm-engine-go/storage"
)

// Store provides Postgres persistence for pool snapshots. The snapshot head
// lives in pool_snapshots; ticks, positions and oracle slots are child rows
// keyed by snapshot name.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the snapshot tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pool_snapshots (
			name TEXT PRIMARY KEY,
			asset0 TEXT NOT NULL,
			asset1 TEXT NOT NULL,
			account TEXT NOT NULL,
			fee_pips BIGINT NOT NULL,
			tick_spacing BIGINT NOT NULL,
			initialized BOOLEAN NOT NULL,
			sqrt_price_x96 NUMERIC NOT NULL,
			tick BIGINT NOT NULL,
			observation_index INT NOT NULL,
			observation_cardinality INT NOT NULL,
			observation_cardinality_next INT NOT NULL,
			liquidity NUMERIC NOT NULL,
			fee_growth_global0_x128 NUMERIC NOT NULL,
			fee_growth_global1_x128 NUMERIC NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS pool_ticks (
			name TEXT NOT NULL REFERENCES pool_snapshots(name) ON DELETE CASCADE,
			tick_index BIGINT NOT NULL,
			liquidity_gross NUMERIC NOT NULL,
			liquidity_net NUMERIC NOT NULL,
			fee_growth_outside0_x128 NUMERIC NOT NULL,
			fee_growth_outside1_x128 NUMERIC NOT NULL,
			PRIMARY KEY (name, tick_index)
		);
		CREATE TABLE IF NOT EXISTS pool_positions (
			name TEXT NOT NULL REFERENCES pool_snapshots(name) ON DELETE CASCADE,
			position_key TEXT NOT NULL,
			liquidity NUMERIC NOT NULL,
			fee_growth_inside0_last_x128 NUMERIC NOT NULL,
			fee_growth_inside1_last_x128 NUMERIC NOT NULL,
			tokens_owed0 NUMERIC NOT NULL,
			tokens_owed1 NUMERIC NOT NULL,
			PRIMARY KEY (name, position_key)
		);
		CREATE TABLE IF NOT EXISTS pool_observations (
			name TEXT NOT NULL REFERENCES pool_snapshots(name) ON DELETE CASCADE,
			slot INT NOT NULL,
			block_timestamp BIGINT NOT NULL,
			tick_cumulative BIGINT NOT NULL,
			initialized BOOLEAN NOT NULL,
			PRIMARY KEY (name, slot)
		);
	`)
	return err
}

// SaveSnapshot replaces the named snapshot in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, name string, st *pool.State) error {
	if name == "" {
		return fmt.Errorf("snapshot name required")
	}
	snap := storage.Encode(st)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO pool_snapshots (
			name, asset0, asset1, account, fee_pips, tick_spacing, initialized,
			sqrt_price_x96, tick, observation_index, observation_cardinality,
			observation_cardinality_next, liquidity,
			fee_growth_global0_x128, fee_growth_global1_x128, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
		ON CONFLICT (name)
		DO UPDATE SET
			asset0 = EXCLUDED.asset0,
			asset1 = EXCLUDED.asset1,
			account = EXCLUDED.account,
			fee_pips = EXCLUDED.fee_pips,
			tick_spacing = EXCLUDED.tick_spacing,
			initialized = EXCLUDED.initialized,
			sqrt_price_x96 = EXCLUDED.sqrt_price_x96,
			tick = EXCLUDED.tick,
			observation_index = EXCLUDED.observation_index,
			observation_cardinality = EXCLUDED.observation_cardinality,
			observation_cardinality_next = EXCLUDED.observation_cardinality_next,
			liquidity = EXCLUDED.liquidity,
			fee_growth_global0_x128 = EXCLUDED.fee_growth_global0_x128,
			fee_growth_global1_x128 = EXCLUDED.fee_growth_global1_x128,
			updated_at = now()
	`,
		name, snap.Asset0, snap.Asset1, snap.Account,
		int64(snap.FeePips), snap.TickSpacing, snap.Initialized,
		snap.SqrtPriceX96, snap.Tick,
		int32(snap.ObservationIndex), int32(snap.ObservationCardinality),
		int32(snap.ObservationCardinalityNext),
		snap.Liquidity, snap.FeeGrowthGlobal0X128, snap.FeeGrowthGlobal1X128,
	); err != nil {
		return err
	}

	// Child rows are replaced wholesale; snapshots are small and the swap
	// keeps partial states out of the tables.
	for _, table := range []string{"pool_ticks", "pool_positions", "pool_observations"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name=$1`, table), name); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for _, row := range snap.Ticks {
		batch.Queue(`
			INSERT INTO pool_ticks (
				name, tick_index, liquidity_gross, liquidity_net,
				fee_growth_outside0_x128, fee_growth_outside1_x128
			) VALUES ($1,$2,$3,$4,$5,$6)
		`, name, row.Index, row.LiquidityGross, row.LiquidityNet,
			row.FeeGrowthOutside0X128, row.FeeGrowthOutside1X128)
	}
	for _, row := range snap.Positions {
		batch.Queue(`
			INSERT INTO pool_positions (
				name, position_key, liquidity,
				fee_growth_inside0_last_x128, fee_growth_inside1_last_x128,
				tokens_owed0, tokens_owed1
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, name, row.Key, row.Liquidity,
			row.FeeGrowthInside0LastX128, row.FeeGrowthInside1LastX128,
			row.TokensOwed0, row.TokensOwed1)
	}
	for slot, row := range snap.Observations {
		batch.Queue(`
			INSERT INTO pool_observations (
				name, slot, block_timestamp, tick_cumulative, initialized
			) VALUES ($1,$2,$3,$4,$5)
		`, name, slot, int64(row.BlockTimestamp), row.TickCumulative, row.Initialized)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// LoadSnapshot reads the named snapshot. The second return is false when no
// snapshot exists under that name.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (*pool.State, bool, error) {
	if name == "" {
		return nil, false, fmt.Errorf("snapshot name required")
	}

	snap := &storage.Snapshot{}
	var feePips int64
	var obsIndex, obsCard, obsCardNext int32
	row := s.pool.QueryRow(ctx, `
		SELECT asset0, asset1, account, fee_pips, tick_spacing, initialized,
			sqrt_price_x96::TEXT, tick, observation_index, observation_cardinality,
			observation_cardinality_next, liquidity::TEXT,
			fee_growth_global0_x128::TEXT, fee_growth_global1_x128::TEXT
		FROM pool_snapshots WHERE name=$1
	`, name)
	if err := row.Scan(
		&snap.Asset0, &snap.Asset1, &snap.Account,
		&feePips, &snap.TickSpacing, &snap.Initialized,
		&snap.SqrtPriceX96, &snap.Tick, &obsIndex, &obsCard, &obsCardNext,
		&snap.Liquidity, &snap.FeeGrowthGlobal0X128, &snap.FeeGrowthGlobal1X128,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	snap.FeePips = uint64(feePips)
	snap.ObservationIndex = uint16(obsIndex)
	snap.ObservationCardinality = uint16(obsCard)
	snap.ObservationCardinalityNext = uint16(obsCardNext)

	rows, err := s.pool.Query(ctx, `
		SELECT tick_index, liquidity_gross::TEXT, liquidity_net::TEXT,
			fee_growth_outside0_x128::TEXT, fee_growth_outside1_x128::TEXT
		FROM pool_ticks WHERE name=$1 ORDER BY tick_index
	`, name)
	if err != nil {
		return nil, false, err
	}
	for rows.Next() {
		var t storage.TickRow
		if err := rows.Scan(&t.Index, &t.LiquidityGross, &t.LiquidityNet,
			&t.FeeGrowthOutside0X128, &t.FeeGrowthOutside1X128); err != nil {
			rows.Close()
			return nil, false, err
		}
		snap.Ticks = append(snap.Ticks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT position_key, liquidity::TEXT,
			fee_growth_inside0_last_x128::TEXT, fee_growth_inside1_last_x128::TEXT,
			tokens_owed0::TEXT, tokens_owed1::TEXT
		FROM pool_positions WHERE name=$1 ORDER BY position_key
	`, name)
	if err != nil {
		return nil, false, err
	}
	for rows.Next() {
		var p storage.PositionRow
		if err := rows.Scan(&p.Key, &p.Liquidity,
			&p.FeeGrowthInside0LastX128, &p.FeeGrowthInside1LastX128,
			&p.TokensOwed0, &p.TokensOwed1); err != nil {
			rows.Close()
			return nil, false, err
		}
		snap.Positions = append(snap.Positions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT block_timestamp, tick_cumulative, initialized
		FROM pool_observations WHERE name=$1 ORDER BY slot
	`, name)
	if err != nil {
		return nil, false, err
	}
	for rows.Next() {
		var o storage.ObservationRow
		var ts int64
		if err := rows.Scan(&ts, &o.TickCumulative, &o.Initialized); err != nil {
			rows.Close()
			return nil, false, err
		}
		o.BlockTimestamp = uint32(ts)
		snap.Observations = append(snap.Observations, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	st, err := storage.Decode(snap)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}
