package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/parametrix/insurance-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary and weather values are stored as NUMERIC for exact decimal
// precision; operator and participant sets as TEXT[].
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const policyColumns = `id, ticker, owner_id, operators, location, peril,
		        condition::TEXT, payoff, expiration_time, valuation_time,
		        forecast::TEXT, forecast_risk::TEXT, minimum_premium::TEXT,
		        balance::TEXT, participants, status, created_at`

func (s *PostgresStore) CreatePolicy(ctx context.Context, p *model.Policy) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO policies (id, ticker, owner_id, operators, location, peril,
		                       condition, payoff, expiration_time, valuation_time,
		                       forecast, forecast_risk, minimum_premium,
		                       balance, participants, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8, $9, $10,
		         $11::NUMERIC, $12::NUMERIC, $13::NUMERIC,
		         $14::NUMERIC, $15, $16, $17)`,
		p.ID, p.Ticker, p.OwnerID, p.Operators, p.Location, p.Peril,
		p.Condition.String(), p.Payoff, p.ExpirationTime, p.ValuationTime,
		p.Forecast.String(), p.ForecastRisk.String(), p.MinimumPremium.String(),
		p.Balance.String(), p.Participants, p.Status, p.CreatedAt,
	)
	return err
}

func scanPolicy(row pgx.Row) (*model.Policy, error) {
	var p model.Policy
	var condition, forecastVal, risk, minPremium, balance string

	err := row.Scan(&p.ID, &p.Ticker, &p.OwnerID, &p.Operators, &p.Location, &p.Peril,
		&condition, &p.Payoff, &p.ExpirationTime, &p.ValuationTime,
		&forecastVal, &risk, &minPremium,
		&balance, &p.Participants, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.Condition, _ = decimal.NewFromString(condition)
	p.Forecast, _ = decimal.NewFromString(forecastVal)
	p.ForecastRisk, _ = decimal.NewFromString(risk)
	p.MinimumPremium, _ = decimal.NewFromString(minPremium)
	p.Balance, _ = decimal.NewFromString(balance)

	return &p, nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	p, err := scanPolicy(s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) GetPolicyByTicker(ctx context.Context, ticker string) (*model.Policy, error) {
	p, err := scanPolicy(s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE ticker = $1`, ticker))
	if err != nil {
		return nil, fmt.Errorf("get policy by ticker %s: %w", ticker, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM policies ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []model.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func (s *PostgresStore) UpdatePolicy(ctx context.Context, p *model.Policy) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policies
		 SET operators = $2, valuation_time = $3,
		     forecast = $4::NUMERIC, forecast_risk = $5::NUMERIC,
		     minimum_premium = $6::NUMERIC, balance = $7::NUMERIC,
		     participants = $8, status = $9
		 WHERE id = $1`,
		p.ID, p.Operators, p.ValuationTime,
		p.Forecast.String(), p.ForecastRisk.String(),
		p.MinimumPremium.String(), p.Balance.String(),
		p.Participants, p.Status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update policy %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, policyID, participantID string) (*model.Position, error) {
	var notional, premiumPaid string
	err := s.pool.QueryRow(ctx,
		`SELECT notional::TEXT, premium_paid::TEXT
		 FROM positions WHERE policy_id = $1 AND participant_id = $2`,
		policyID, participantID).
		Scan(&notional, &premiumPaid)
	if errors.Is(err, pgx.ErrNoRows) {
		// Absent position is a zero position, not an error.
		return &model.Position{
			PolicyID:      policyID,
			ParticipantID: participantID,
			Notional:      decimal.Zero,
			PremiumPaid:   decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", policyID, participantID, err)
	}

	pos := &model.Position{PolicyID: policyID, ParticipantID: participantID}
	pos.Notional, _ = decimal.NewFromString(notional)
	pos.PremiumPaid, _ = decimal.NewFromString(premiumPaid)
	return pos, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (policy_id, participant_id, notional, premium_paid)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (policy_id, participant_id)
		 DO UPDATE SET notional = EXCLUDED.notional, premium_paid = EXCLUDED.premium_paid`,
		pos.PolicyID, pos.ParticipantID, pos.Notional.String(), pos.PremiumPaid.String(),
	)
	return err
}

func (s *PostgresStore) ListPositions(ctx context.Context, policyID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT policy_id, participant_id, notional::TEXT, premium_paid::TEXT
		 FROM positions WHERE policy_id = $1`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var pos model.Position
		var notional, premiumPaid string
		if err := rows.Scan(&pos.PolicyID, &pos.ParticipantID, &notional, &premiumPaid); err != nil {
			return nil, err
		}
		pos.Notional, _ = decimal.NewFromString(notional)
		pos.PremiumPaid, _ = decimal.NewFromString(premiumPaid)
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, policy_id, type, participant_id, notional, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
		ev.ID, ev.PolicyID, ev.Type, ev.ParticipantID,
		ev.Notional.String(), ev.Amount.String(), ev.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, policyID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, policy_id, type, participant_id, notional::TEXT, amount::TEXT, timestamp
		 FROM events WHERE policy_id = $1 ORDER BY timestamp, id`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var notional, amount string
		if err := rows.Scan(&ev.ID, &ev.PolicyID, &ev.Type, &ev.ParticipantID,
			&notional, &amount, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Notional, _ = decimal.NewFromString(notional)
		ev.Amount, _ = decimal.NewFromString(amount)
		events = append(events, ev)
	}
	return events, rows.Err()
}
