// Package payout models the worker-payment state machine and its
// constituent fiat/stablecoin transfers.
package payout

import "time"

// Payout lifecycle: pending -> requested -> broadcast -> confirmed -> paid
// (terminal success), or any state -> failed (terminal failure).
const (
	StatusPending    = "pending"
	StatusRequested  = "requested"
	StatusBroadcast  = "broadcast"
	StatusConfirmed  = "confirmed"
	StatusPaid       = "paid"
	StatusFailed     = "failed"
)

func Terminal(status string) bool { return status == StatusPaid || status == StatusFailed }

// Payout is a child of Submission.
type Payout struct {
	ID                string
	SubmissionID      string
	OrgID             string
	WorkerID          string
	AmountCents       int64
	PlatformFeeCents  int64
	ProofworkFeeCents int64
	NetAmountCents    int64
	Status            string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TransferKind identifies which leg of the split a PayoutTransfer carries.
const (
	TransferNet          = "net"
	TransferPlatformFee  = "platform_fee"
	TransferProofworkFee = "proofwork_fee"
)

const (
	TransferPending   = "pending"
	TransferBroadcast = "broadcast"
	TransferConfirmed = "confirmed"
	TransferFailed    = "failed"
)

// PayoutTransfer is one on-chain (or zero-valued, skipped-rail) leg of a
// Payout's three-way split.
type PayoutTransfer struct {
	ID          string
	PayoutID    string
	Kind        string
	ToAddress   string
	AmountCents int64
	Status      string
	TxHash      string
	Nonce       *uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t PayoutTransfer) Zero() bool { return t.AmountCents == 0 }

// Split is the integer-cents fee computation result. All division floors;
// NetAmount + PlatformFee + ProofworkFee always sums to AmountCents.
type Split struct {
	AmountCents       int64
	PlatformFeeCents  int64
	ProofworkFeeCents int64
	NetAmountCents    int64
}

// ComputeSplit applies platform_fee_bps against the gross amount, then
// proofwork_fee_bps against what's left after the platform's cut. bps are
// basis points (1/100 of a percent); division floors, so the net leg
// absorbs the rounding remainder.
func ComputeSplit(amountCents int64, platformFeeBps, proofworkFeeBps int) Split {
	platformFee := (amountCents * int64(platformFeeBps)) / 10000
	workerPortion := amountCents - platformFee
	proofworkFee := (workerPortion * int64(proofworkFeeBps)) / 10000
	net := workerPortion - proofworkFee
	return Split{
		AmountCents:       amountCents,
		PlatformFeeCents:  platformFee,
		ProofworkFeeCents: proofworkFee,
		NetAmountCents:    net,
	}
}
