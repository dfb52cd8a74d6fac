// Package actions is the central system's OCPP 2.0.1 action table: the
// handlers for requests sent by charge points and the commands the central
// system can send to them.
package actions

import (
	"context"
	"encoding/json"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/authorization"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/availability"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/data"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/diagnostics"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/meter"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/security"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"

	"dummy_ocpp_cs/internal/messages"
	"dummy_ocpp_cs/internal/policy"
	"dummy_ocpp_cs/internal/session"
)

// New builds the action table. The handlers answer Authorize and
// TransactionEvent according to p.
func New(p *policy.Policy) *session.Actions {
	h := NewCentralSystemHandler(p)
	handlers := map[string]session.Handler{
		provisioning.BootNotificationFeatureName:       handle(h.OnBootNotification),
		availability.HeartbeatFeatureName:              handle(h.OnHeartbeat),
		availability.StatusNotificationFeatureName:     handle(h.OnStatusNotification),
		authorization.AuthorizeFeatureName:             handle(h.OnAuthorize),
		transactions.TransactionEventFeatureName:       handle(h.OnTransactionEvent),
		meter.MeterValuesFeatureName:                   handle(h.OnMeterValues),
		provisioning.NotifyReportFeatureName:           handle(h.OnNotifyReport),
		data.DataTransferFeatureName:                   handle(h.OnDataTransfer),
		firmware.FirmwareStatusNotificationFeatureName: handle(h.OnFirmwareStatusNotification),
		diagnostics.LogStatusNotificationFeatureName:   handle(h.OnLogStatusNotification),
		security.SecurityEventNotificationFeatureName:  handle(h.OnSecurityEventNotification),
	}
	return session.NewActions(handlers, Commands())
}

// handle decodes and validates the request payload before calling fn.
func handle[Req, Resp any](fn func(ctx context.Context, cp session.ChargePoint, request *Req) (*Resp, error)) session.Handler {
	return func(ctx context.Context, cp session.ChargePoint, payload json.RawMessage) (any, error) {
		request := new(Req)
		if err := messages.Decode(payload, request); err != nil {
			return nil, err
		}
		return fn(ctx, cp, request)
	}
}
