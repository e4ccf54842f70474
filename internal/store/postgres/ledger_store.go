package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// ledgerRepo implements domain.Ledger on the ledger_balances table. Every
// transfer is also journaled to ledger_transfers.
type ledgerRepo struct{ u *unit }

// Balance returns the balance of id, locking its row in writable units.
// Identities without a row hold zero.
func (r ledgerRepo) Balance(ctx context.Context, id domain.Identity) (uint64, error) {
	var bal int64
	err := r.u.q.QueryRow(ctx,
		`SELECT balance FROM ledger_balances WHERE identity = $1`+r.u.lock(),
		id.String(),
	).Scan(&bal)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", id, err)
	}
	return uint64(bal), nil
}

// Transfer debits from and credits to. The debit is conditional on the
// balance covering amount; the credit upserts the destination row.
func (r ledgerRepo) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) (domain.Receipt, error) {
	if from == to {
		return domain.Receipt{}, fmt.Errorf("postgres: transfer: %w", domain.ErrSameAccount)
	}
	if amount == 0 {
		fromBal, err := r.Balance(ctx, from)
		if err != nil {
			return domain.Receipt{}, err
		}
		toBal, err := r.Balance(ctx, to)
		if err != nil {
			return domain.Receipt{}, err
		}
		return domain.Receipt{
			From: from, To: to,
			FromBefore: fromBal, FromAfter: fromBal,
			ToBefore: toBal, ToAfter: toBal,
		}, nil
	}
	amt, err := toBigint(amount)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("postgres: transfer: %w", err)
	}

	var fromAfter int64
	err = r.u.q.QueryRow(ctx, `
		UPDATE ledger_balances
		SET balance = balance - $2, updated_at = NOW()
		WHERE identity = $1 AND balance >= $2
		RETURNING balance`,
		from.String(), amt,
	).Scan(&fromAfter)
	if isNoRows(err) {
		return domain.Receipt{}, fmt.Errorf("postgres: transfer %d from %s: %w", amount, from, domain.ErrInsufficientFunds)
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("postgres: debit %s: %w", from, err)
	}

	var toAfter int64
	err = r.u.q.QueryRow(ctx, `
		INSERT INTO ledger_balances (identity, balance)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE
		SET balance = ledger_balances.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance`,
		to.String(), amt,
	).Scan(&toAfter)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("postgres: credit %s: %w", to, err)
	}

	if _, err := r.u.q.Exec(ctx,
		`INSERT INTO ledger_transfers (from_identity, to_identity, amount) VALUES ($1, $2, $3)`,
		from.String(), to.String(), amt,
	); err != nil {
		return domain.Receipt{}, fmt.Errorf("postgres: journal transfer: %w", err)
	}

	return domain.Receipt{
		From:       from,
		To:         to,
		Amount:     amount,
		FromBefore: uint64(fromAfter) + amount,
		FromAfter:  uint64(fromAfter),
		ToBefore:   uint64(toAfter) - amount,
		ToAfter:    uint64(toAfter),
	}, nil
}
