package worker

import (
	"github.com/spec-kit/salescrm/internal/service"
)

// StartAuditWorker registers change-event handlers.
func StartAuditWorker(auditService *service.AuditService) {
	if auditService == nil {
		return
	}
	auditService.RegisterHandlers()
}
