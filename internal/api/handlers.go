package api

import (
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

// Handlers bundles the dependencies the HTTP layer dispatches into. All
// state lives in the service and the workers; handlers only translate.
type Handlers struct {
	svc        *campaign.Service
	dispatcher *worker.Dispatcher
	poller     *worker.Poller
	janitor    *worker.Janitor
	health     *HealthChecker
}

// NewHandlers creates the handler set. poller and janitor may be nil when
// the API runs without embedded workers; their stats are then omitted.
func NewHandlers(svc *campaign.Service, dispatcher *worker.Dispatcher, poller *worker.Poller, janitor *worker.Janitor, health *HealthChecker) *Handlers {
	return &Handlers{
		svc:        svc,
		dispatcher: dispatcher,
		poller:     poller,
		janitor:    janitor,
		health:     health,
	}
}
