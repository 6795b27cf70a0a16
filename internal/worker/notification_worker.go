package worker

import (
	"context"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/service"
)

// StartNotificationWorker registers notification handlers and drains the
// webhook queue in the background until ctx is cancelled.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	go notificationService.ProcessDeliveries(ctx)
}
