package service

import (
	"context"
	"errors"
	"math/big"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/billing"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/payout"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/R3E-Network/proofwork/internal/platform"
)

// PayoutConfig carries the fee and settlement parameters that must be
// resolved before the pipeline can start: an oversized proofwork_fee_bps is
// a configuration error and must refuse to boot, per the fee-math
// invariant.
type PayoutConfig struct {
	ProofworkFeeBps      int
	MaxProofworkFeeBps   int
	ProofworkFeeWallet   string
	ConfirmationsRequired uint64
	GasLimitDefault       uint64
	USDCAddress           string
}

// Validate refuses configurations that would silently overcharge workers.
func (c PayoutConfig) Validate() error {
	if c.ProofworkFeeBps > c.MaxProofworkFeeBps {
		return errors.New("payout: proofwork_fee_bps exceeds max_proofwork_fee_bps")
	}
	return nil
}

// PayoutPipeline drives the fee-split payout state machine and its three
// per-transfer settlement legs through the Base chain via platform.Registry.
type PayoutPipeline struct {
	Store    storage.Store
	Drivers  *platform.Registry
	Config   PayoutConfig
}

// RequestPayout is the payout.requested outbox handler: it creates the
// payout + transfer rows (idempotent per submission) and resolves the
// worker's payout address, or parks the payout failed if none is on file.
func (p *PayoutPipeline) RequestPayout(ctx context.Context, submissionID string) error {
	sub, err := p.Store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if existing, found, err := p.Store.GetPayoutBySubmission(ctx, submissionID); err != nil {
		return err
	} else if found {
		return p.broadcastTransfers(ctx, existing)
	}

	amount, err := p.resolveAmount(ctx, sub)
	if err != nil {
		return err
	}

	o, err := p.Store.GetOrg(ctx, sub.OrgID)
	if err != nil {
		return err
	}

	split := payout.ComputeSplit(amount, o.PlatformFeeBps, p.Config.ProofworkFeeBps)
	py := payout.Payout{
		SubmissionID:      submissionID,
		OrgID:             sub.OrgID,
		WorkerID:          sub.WorkerID,
		AmountCents:       split.AmountCents,
		PlatformFeeCents:  split.PlatformFeeCents,
		ProofworkFeeCents: split.ProofworkFeeCents,
		NetAmountCents:    split.NetAmountCents,
		Status:            payout.StatusPending,
	}

	address, found, err := p.Store.GetWorkerPayoutAddress(ctx, sub.WorkerID, string(platform.ChainBase))
	if err != nil {
		return err
	}

	transfers := []payout.PayoutTransfer{
		{Kind: payout.TransferNet, ToAddress: address, AmountCents: split.NetAmountCents, Status: payout.TransferPending},
		{Kind: payout.TransferPlatformFee, ToAddress: o.PlatformFeeWallet, AmountCents: split.PlatformFeeCents, Status: payout.TransferPending},
		{Kind: payout.TransferProofworkFee, ToAddress: p.Config.ProofworkFeeWallet, AmountCents: split.ProofworkFeeCents, Status: payout.TransferPending},
	}
	for i, t := range transfers {
		if t.Zero() {
			transfers[i].Status = payout.TransferConfirmed
		}
	}

	if !found {
		py.Status = payout.StatusFailed
		py.FailureReason = "payout_address_missing"
	}

	created, err := p.Store.AddPayout(ctx, py, transfers)
	if err != nil {
		return err
	}
	if !found {
		return nil // stays failed; a payout address set later does not re-request it
	}
	return p.broadcastTransfers(ctx, created)
}

// resolveAmount looks up the bounty's payout_cents via the submission's job.
func (p *PayoutPipeline) resolveAmount(ctx context.Context, sub submission.Submission) (int64, error) {
	j, err := p.Store.GetJob(ctx, sub.JobID)
	if err != nil {
		return 0, err
	}
	b, err := p.Store.GetBounty(ctx, j.BountyID)
	if err != nil {
		return 0, err
	}
	return b.PayoutCents, nil
}

// broadcastTransfers signs and sends every non-broadcast, non-zero transfer,
// then enqueues the confirmation handler.
func (p *PayoutPipeline) broadcastTransfers(ctx context.Context, py payout.Payout) error {
	if payout.Terminal(py.Status) {
		return nil
	}
	transfers, err := p.Store.ListTransfers(ctx, py.ID)
	if err != nil {
		return err
	}

	rpc := p.Drivers.RPC()
	signer := p.Drivers.Signer()
	anyBroadcast := false
	for _, t := range transfers {
		if t.Status != payout.TransferPending {
			if t.Status == payout.TransferBroadcast || t.Status == payout.TransferConfirmed {
				anyBroadcast = true
			}
			continue
		}
		if t.Zero() {
			anyBroadcast = true
			continue
		}
		if rpc == nil || signer == nil {
			return apperr.Internal(errors.New("payout: settlement drivers not configured"))
		}

		nonce, err := rpc.NonceForPending(ctx, platform.ChainBase, t.ToAddress)
		if err != nil {
			return apperr.Internal(err)
		}
		amountBaseUnits := centsToBaseUnits(t.AmountCents)
		call := platform.ContractCall{
			To:    p.Config.USDCAddress,
			Value: amountBaseUnits,
			Gas:   p.Config.GasLimitDefault,
		}
		digest := transferDigest(t.ToAddress, amountBaseUnits, nonce)
		sig, err := signer.Sign(ctx, "", digest)
		if err != nil {
			return apperr.Internal(err)
		}
		raw := append(digest, sig...)
		_ = call
		txHash, err := rpc.SendRawTransaction(ctx, platform.ChainBase, raw)
		if err != nil {
			return apperr.Internal(err)
		}
		t.TxHash = txHash
		t.Status = payout.TransferBroadcast
		n := nonce
		t.Nonce = &n
		if err := p.Store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		anyBroadcast = true
	}

	if anyBroadcast && py.Status == payout.StatusPending {
		py.Status = payout.StatusRequested
	}
	if anyBroadcast {
		py.Status = payout.StatusBroadcast
		if err := p.Store.UpdatePayoutStatus(ctx, py.ID, py.Status, ""); err != nil {
			return err
		}
	}

	_, _, err = p.Store.InsertOutboxEvent(ctx, outbox.Event{
		Topic:          outbox.TopicPayoutConfirmRequested,
		IdempotencyKey: "payout_confirm:" + py.ID,
		Payload:        map[string]any{"payoutId": py.ID},
	})
	return err
}

// centsToBaseUnits converts integer cents to USDC's 6-decimal base units:
// cents * 10^(6-2).
func centsToBaseUnits(cents int64) *big.Int {
	out := big.NewInt(cents)
	return out.Mul(out, big.NewInt(10000))
}

func transferDigest(toAddress string, amount *big.Int, nonce uint64) []byte {
	return []byte(toAddress + ":" + amount.String() + ":" + big.NewInt(int64(nonce)).String())
}

// errTxPending and errNotEnoughConfirmations classify confirmation-poll
// outcomes as retryable (the outbox handler backs off and tries again).
var (
	errTxPending             = errors.New("tx_receipt_pending")
	errNotEnoughConfirmations = errors.New("tx_not_enough_confirmations")
)

// ConfirmPayout is the payout.confirm.requested outbox handler: it polls
// every broadcast transfer's receipt and, once all are confirmed, finalizes
// the payout and credits the submission's payout_status.
func (p *PayoutPipeline) ConfirmPayout(ctx context.Context, payoutID string) error {
	py, err := p.Store.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.Terminal(py.Status) {
		return nil
	}
	transfers, err := p.Store.ListTransfers(ctx, payoutID)
	if err != nil {
		return err
	}

	rpc := p.Drivers.RPC()
	allConfirmed := true
	notEnough := false
	for _, t := range transfers {
		if t.Status == payout.TransferConfirmed {
			continue
		}
		if t.Status != payout.TransferBroadcast {
			allConfirmed = false
			continue
		}
		if rpc == nil {
			return apperr.Internal(errors.New("payout: rpc driver not configured"))
		}
		tx, err := rpc.GetTransaction(ctx, platform.ChainBase, t.TxHash)
		if err != nil {
			var pending platform.ErrTransactionPending
			if errors.As(err, &pending) {
				allConfirmed = false
				continue
			}
			py.Status = payout.StatusFailed
			_ = p.Store.UpdatePayoutStatus(ctx, py.ID, py.Status, "provider_error: "+err.Error())
			return apperr.Internal(err)
		}
		if tx.Status == platform.TxStatusFailed {
			py.Status = payout.StatusFailed
			_ = p.Store.UpdatePayoutStatus(ctx, py.ID, py.Status, "reverted: "+tx.RevertReason)
			return nil
		}
		if tx.Confirmations < p.Config.ConfirmationsRequired {
			allConfirmed = false
			notEnough = true
			continue
		}
		t.Status = payout.TransferConfirmed
		if err := p.Store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
	}

	if !allConfirmed {
		if notEnough {
			return errNotEnoughConfirmations
		}
		return errTxPending
	}

	if err := p.Store.UpdatePayoutStatus(ctx, py.ID, payout.StatusPaid, ""); err != nil {
		return err
	}
	if err := p.Store.SetPayoutStatus(ctx, py.SubmissionID, submission.PayoutStatusPaid); err != nil {
		return err
	}
	_, err = p.Store.ApplyEvent(ctx, billing.BillingEvent{
		OrgID:           py.OrgID,
		Kind:            billing.EventPayout,
		AmountCents:     -py.AmountCents,
		ExternalEventID: "payout_paid:" + py.ID,
	})
	return err
}
