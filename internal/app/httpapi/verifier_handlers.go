package httpapi

import (
	"net/http"

	"github.com/R3E-Network/proofwork/internal/app/core/service"
)

type verifierClaimRequest struct {
	SubmissionID       string `json:"submissionId"`
	AttemptNo          int    `json:"attemptNo"`
	VerifierInstanceID string `json:"verifierInstanceId"`
	ClaimTTLSeconds    int    `json:"claimTtlSec"`
}

// handleVerifierClaim single-flights a verification attempt to the calling
// verifier instance: repeat calls with the same instance id for a live
// claim return the same claim_token, a different instance gets
// attempt_claimed.
func (d *Deps) handleVerifierClaim(w http.ResponseWriter, r *http.Request) {
	var in verifierClaimRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	result, err := d.Verifications.Claim(r.Context(), service.ClaimInput{
		SubmissionID:       in.SubmissionID,
		AttemptNo:          in.AttemptNo,
		VerifierInstanceID: in.VerifierInstanceID,
		ClaimTTLSeconds:    in.ClaimTTLSeconds,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verificationId": result.Verification.ID,
		"claimToken":     result.Verification.ClaimToken,
		"jobSpec":        result.JobSpec,
		"submission":     result.Submission,
	})
}

type verifierVerdictRequest struct {
	VerificationID string         `json:"verificationId"`
	ClaimToken     string         `json:"claimToken"`
	Verdict        string         `json:"verdict"`
	Reason         string         `json:"reason,omitempty"`
	Scorecard      map[string]any `json:"scorecard,omitempty"`
}

// handleVerifierVerdict ingests the claimed verifier's decision, driving
// the owning submission/job to their resolved state.
func (d *Deps) handleVerifierVerdict(w http.ResponseWriter, r *http.Request) {
	var in verifierVerdictRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	_, err := d.Verifications.Verdict(r.Context(), service.VerdictInput{
		VerificationID: in.VerificationID,
		ClaimToken:     in.ClaimToken,
		Verdict:        in.Verdict,
		Reason:         in.Reason,
		Scorecard:      in.Scorecard,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
