package dispute

import (
	"github.com/escrow-network/escrowd/internal/core/domain"
)

// Router fans dispute messages out to the overlay track they belong to.
// Every dispute message declares its support type, so routing is static.
type Router struct {
	mediation   *Service
	arbitration *Service
}

func NewRouter(mediation, arbitration *Service) *Router {
	return &Router{mediation: mediation, arbitration: arbitration}
}

func (r *Router) OnDisputeOpened(from string, msg domain.DisputeOpenedMessage) {
	r.track(msg.Dispute.SupportType).OnDisputeOpened(from, msg)
}

func (r *Router) OnDisputeClosed(from string, msg domain.DisputeClosedMessage) {
	r.track(msg.Result.SupportType).OnDisputeClosed(from, msg)
}

func (r *Router) OnMediatedPayoutTxSignature(
	from string, msg domain.MediatedPayoutTxSignatureMessage,
) {
	r.track(msg.SupportType).OnMediatedPayoutTxSignature(from, msg)
}

func (r *Router) track(supportType domain.SupportType) *Service {
	if supportType == domain.SupportTypeArbitration {
		return r.arbitration
	}
	return r.mediation
}
