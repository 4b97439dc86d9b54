package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/authn"
	"github.com/R3E-Network/proofwork/internal/app/domain/admin"
)

type banWorkerRequest struct {
	Reason string `json:"reason"`
}

func (d *Deps) handleAdminBanWorker(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	workerID := chi.URLParam(r, "workerID")
	var in banWorkerRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := d.Admin.BanWorker(r.Context(), workerID, in.Reason, adminActor(p)); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

type blockedDomainRequest struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

func (d *Deps) handleAdminAddBlockedDomain(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	var in blockedDomainRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := d.Admin.AddBlockedDomain(r.Context(), in.Domain, in.Reason, adminActor(p)); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (d *Deps) handleAdminRemoveBlockedDomain(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	domain := chi.URLParam(r, "domain")
	if err := d.Admin.RemoveBlockedDomain(r.Context(), domain, adminActor(p)); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

type topUpRequest struct {
	AmountCents     int64  `json:"amountCents"`
	ExternalEventID string `json:"externalEventId"`
}

func (d *Deps) handleAdminTopUp(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")
	var in topUpRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	applied, err := d.Admin.TopUpBilling(r.Context(), orgID, in.AmountCents, in.ExternalEventID, adminActor(p))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"applied": applied})
}

type markPayoutRequest struct {
	Status      string `json:"status"`
	ProviderRef string `json:"providerRef,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (d *Deps) handleAdminMarkPayout(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	payoutID := chi.URLParam(r, "payoutID")
	var in markPayoutRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := d.Admin.MarkPayout(r.Context(), payoutID, in.Status, in.ProviderRef, in.Reason, adminActor(p)); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (d *Deps) handleAdminListAlarms(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, apperr.BadRequest("schema", err.Error()))
		return
	}
	alarms, err := d.Admin.ListAlarms(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, alarms)
}

type snsEnvelope struct {
	TopicArn  string `json:"TopicArn"`
	MessageID string `json:"MessageId"`
	Subject   string `json:"Subject"`
	Message   string `json:"Message"`
}

// handleAlarmsSNS ingests an SNS alarm notification, deduped on
// (TopicArn, MessageId). Unauthenticated like a real SNS HTTP subscription
// endpoint; the admin surface is the read side (handleAdminListAlarms).
func (d *Deps) handleAlarmsSNS(w http.ResponseWriter, r *http.Request) {
	var in snsEnvelope
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	applied, err := d.Admin.IngestAlarm(r.Context(), admin.AlarmNotification{
		TopicArn:     in.TopicArn,
		SNSMessageID: in.MessageID,
		Subject:      in.Subject,
		Message:      in.Message,
		ReceivedAt:   nowUTC(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (d *Deps) handleReapLeases(w http.ResponseWriter, r *http.Request) {
	n, err := d.Scheduler.ReapExpiredLeases(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"reaped": n})
}

func adminActor(p authn.Principal) string {
	if p.UserID != "" {
		return p.UserID
	}
	return "admin"
}
