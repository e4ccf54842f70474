package domain

import "errors"

var (
	ErrUnauthorized               = errors.New("unauthorized")
	ErrInvalidDeposit             = errors.New("invalid deposit")
	ErrPendingRewardMustBeClaimed = errors.New("pending reward must be claimed")
	ErrInsufficientUserBalance    = errors.New("insufficient user balance")
	ErrInsufficientRewardVault    = errors.New("insufficient reward vault")
	ErrInvalidRewardVault         = errors.New("invalid reward vault")
	ErrNoPendingReward            = errors.New("no pending reward")
	ErrAlreadyInitialized         = errors.New("already initialized")

	ErrNotInitialized    = errors.New("not initialized")
	ErrNotFound          = errors.New("not found")
	ErrInvalidPrediction = errors.New("invalid prediction")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrSameAccount       = errors.New("source and destination are the same account")
	ErrFeeOverflow       = errors.New("fee computation overflow")
	ErrInvalidFeeRate    = errors.New("invalid fee rate")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrBlobExists        = errors.New("blob already exists")
)

// Machine-readable error codes returned by CodeOf.
const (
	CodeUnauthorized               = "UNAUTHORIZED"
	CodeInvalidDeposit             = "INVALID_DEPOSIT"
	CodePendingRewardMustBeClaimed = "PENDING_REWARD_MUST_BE_CLAIMED"
	CodeInsufficientUserBalance    = "INSUFFICIENT_USER_BALANCE"
	CodeInsufficientRewardVault    = "INSUFFICIENT_REWARD_VAULT"
	CodeInvalidRewardVault         = "INVALID_REWARD_VAULT"
	CodeNoPendingReward            = "NO_PENDING_REWARD"
	CodeAlreadyInitialized         = "ALREADY_INITIALIZED"
	CodeNotInitialized             = "NOT_INITIALIZED"
	CodeNotFound                   = "NOT_FOUND"
	CodeInvalidPrediction          = "INVALID_PREDICTION"
	CodeInsufficientFunds          = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount              = "INVALID_AMOUNT"
	CodeInvalidIdentity            = "INVALID_IDENTITY"
	CodeSameAccount                = "SAME_ACCOUNT"
	CodeFeeOverflow                = "FEE_OVERFLOW"
	CodeInvalidFeeRate             = "INVALID_FEE_RATE"
	CodeRateLimited                = "RATE_LIMITED"
	CodeLockHeld                   = "LOCK_HELD"
	CodeInternal                   = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, CodeUnauthorized},
	{ErrInvalidDeposit, CodeInvalidDeposit},
	{ErrPendingRewardMustBeClaimed, CodePendingRewardMustBeClaimed},
	{ErrInsufficientUserBalance, CodeInsufficientUserBalance},
	{ErrInsufficientRewardVault, CodeInsufficientRewardVault},
	{ErrInvalidRewardVault, CodeInvalidRewardVault},
	{ErrNoPendingReward, CodeNoPendingReward},
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrNotInitialized, CodeNotInitialized},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidPrediction, CodeInvalidPrediction},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrInvalidIdentity, CodeInvalidIdentity},
	{ErrSameAccount, CodeSameAccount},
	{ErrFeeOverflow, CodeFeeOverflow},
	{ErrInvalidFeeRate, CodeInvalidFeeRate},
	{ErrRateLimited, CodeRateLimited},
	{ErrLockHeld, CodeLockHeld},
}

// CodeOf returns the machine-readable code for err, or CodeInternal when err
// does not wrap any of the package's sentinel errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// ErrorForCode returns the sentinel error for a code produced by CodeOf, or
// nil when the code is unknown.
func ErrorForCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
