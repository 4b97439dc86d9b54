// Package idgen generates the short-prefixed opaque identifiers that every
// entity in the control plane is addressed by over the wire. The prefix is
// cosmetic — Store lookups key on the full string — but it is what a buyer
// or worker scripting against the HTTP API actually sees in a `jobId` or
// `submissionId` field.
package idgen

import "github.com/google/uuid"

// Entity prefixes, one per identity-bearing row in the data model.
const (
	Org          = "org"
	OrgUser      = "ou"
	APIKey       = "ak"
	Session      = "sess"
	Origin       = "origin"
	App          = "app"
	Bounty       = "bounty"
	Job          = "job"
	Submission   = "sub"
	Artifact     = "art"
	Verification = "ver"
	Payout       = "payout"
	Transfer     = "xfer"
	BillingEvent = "bevt"
	PaymentIntent = "pi"
	OutboxEvent  = "evt"
	WorkerBan    = "ban"
	Alarm        = "alarm"
	Audit        = "audit"
)

// New returns a fresh identifier of the form "<prefix>_<uuid>".
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
