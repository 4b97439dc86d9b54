package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
)

// handleStripeWebhook verifies the Stripe-Signature HMAC, then credits the
// org's billing balance, idempotent on the event id.
func (d *Deps) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.BadRequest("schema", "unreadable request body"))
		return
	}
	ts, sig, err := parseStripeSignatureHeader(r.Header.Get("Stripe-Signature"))
	if err != nil || !verifyStripeSignature(d.StripeWebhookSecret, ts, body, sig) {
		writeError(w, apperr.BadRequest("stripe_signature_mismatch", "stripe signature verification failed"))
		return
	}

	eventID := gjson.GetBytes(body, "id").String()
	orgID := gjson.GetBytes(body, "data.object.metadata.org_id").String()
	amountCents := gjson.GetBytes(body, "data.object.amount_total").Int()
	if amountCents == 0 {
		amountCents = gjson.GetBytes(body, "data.object.amount").Int()
	}
	if eventID == "" || orgID == "" {
		writeError(w, apperr.BadRequest("schema", "event missing id or org_id metadata"))
		return
	}

	applied, err := d.Admin.TopUpBilling(r.Context(), orgID, amountCents, "stripe_evt_"+eventID, "stripe")
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"applied": applied})
}

// parseStripeSignatureHeader splits "t=<n>,v1=<hex>" into its timestamp and
// signature parts.
func parseStripeSignatureHeader(header string) (ts, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	if ts == "" || sig == "" {
		return "", "", apperr.BadRequest("stripe_signature_mismatch", "malformed Stripe-Signature header")
	}
	return ts, sig, nil
}

func verifyStripeSignature(secret, ts string, body []byte, sig string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
