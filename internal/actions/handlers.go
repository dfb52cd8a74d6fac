package actions

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/authorization"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/availability"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/data"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/diagnostics"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/meter"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/security"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/types"
	log "github.com/sirupsen/logrus"

	"dummy_ocpp_cs/internal/policy"
	"dummy_ocpp_cs/internal/session"
)

// BootInterval is the heartbeat interval, in seconds, granted on boot.
const BootInterval = 60

type CentralSystemHandler struct {
	policy *policy.Policy
	now    func() time.Time
}

func NewCentralSystemHandler(p *policy.Policy) *CentralSystemHandler {
	if p == nil {
		p, _ = policy.New(policy.ModeNormal, nil, policy.DefaultTotalCost)
	}
	return &CentralSystemHandler{policy: p, now: time.Now}
}

func (h *CentralSystemHandler) currentTime() *types.DateTime {
	return types.NewDateTime(h.now())
}

func (h *CentralSystemHandler) OnBootNotification(_ context.Context, cp session.ChargePoint, request *provisioning.BootNotificationRequest) (*provisioning.BootNotificationResponse, error) {
	cp.Logger().WithFields(log.Fields{
		"vendor": request.ChargingStation.VendorName,
		"model":  request.ChargingStation.Model,
		"reason": request.Reason,
	}).Info("Received BootNotification")
	return provisioning.NewBootNotificationResponse(h.currentTime(), BootInterval, provisioning.RegistrationStatusAccepted), nil
}

func (h *CentralSystemHandler) OnHeartbeat(_ context.Context, cp session.ChargePoint, _ *availability.HeartbeatRequest) (*availability.HeartbeatResponse, error) {
	cp.Logger().Info("Received Heartbeat")
	return availability.NewHeartbeatResponse(*h.currentTime()), nil
}

func (h *CentralSystemHandler) OnStatusNotification(_ context.Context, cp session.ChargePoint, request *availability.StatusNotificationRequest) (*availability.StatusNotificationResponse, error) {
	cp.Logger().WithFields(log.Fields{
		"evse":      request.EvseID,
		"connector": request.ConnectorID,
		"status":    request.ConnectorStatus,
	}).Info("Received StatusNotification")
	return availability.NewStatusNotificationResponse(), nil
}

func (h *CentralSystemHandler) OnAuthorize(_ context.Context, cp session.ChargePoint, request *authorization.AuthorizeRequest) (*authorization.AuthorizeResponse, error) {
	status, err := h.policy.Authorize(request.IdToken.IdToken)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cp.Logger().WithFields(log.Fields{
		"id_token": request.IdToken.IdToken,
		"status":   status,
	}).Info("Received Authorize")
	return authorization.NewAuthorizationResponse(*types.NewIdTokenInfo(status)), nil
}

func (h *CentralSystemHandler) OnTransactionEvent(_ context.Context, cp session.ChargePoint, request *transactions.TransactionEventRequest) (*transactions.TransactionEventResponse, error) {
	logger := cp.Logger().WithFields(log.Fields{
		"event":       request.EventType,
		"trigger":     request.TriggerReason,
		"transaction": request.TransactionInfo.TransactionID,
		"seq_no":      request.SequenceNo,
	})
	logger.Info("Received TransactionEvent")

	response := transactions.NewTransactionEventResponse()
	switch request.EventType {
	case transactions.TransactionEventStarted:
		idToken := ""
		if request.IDToken != nil {
			idToken = request.IDToken.IdToken
		}
		status, err := h.policy.Authorize(idToken)
		if err != nil {
			return nil, errors.Trace(err)
		}
		logger.WithField("status", status).Debug("transaction authorized")
		response.IDTokenInfo = types.NewIdTokenInfo(status)
	case transactions.TransactionEventUpdated:
		response.TotalCost = h.policy.TotalCost()
	}
	return response, nil
}

func (h *CentralSystemHandler) OnMeterValues(_ context.Context, cp session.ChargePoint, request *meter.MeterValuesRequest) (*meter.MeterValuesResponse, error) {
	cp.Logger().WithFields(log.Fields{
		"evse":    request.EvseID,
		"samples": len(request.MeterValue),
	}).Info("Received MeterValues")
	return meter.NewMeterValuesResponse(), nil
}

func (h *CentralSystemHandler) OnNotifyReport(_ context.Context, cp session.ChargePoint, request *provisioning.NotifyReportRequest) (*provisioning.NotifyReportResponse, error) {
	cp.Logger().WithFields(log.Fields{
		"request_id": request.RequestID,
		"seq_no":     request.SeqNo,
		"tbc":        request.Tbc,
		"entries":    len(request.ReportData),
	}).Info("Received NotifyReport")
	return provisioning.NewNotifyReportResponse(), nil
}

func (h *CentralSystemHandler) OnDataTransfer(_ context.Context, cp session.ChargePoint, request *data.DataTransferRequest) (*data.DataTransferResponse, error) {
	cp.Logger().WithFields(log.Fields{
		"vendor":     request.VendorID,
		"message_id": request.MessageID,
	}).Info("Received DataTransfer")
	return data.NewDataTransferResponse(data.DataTransferStatusAccepted), nil
}

func (h *CentralSystemHandler) OnFirmwareStatusNotification(_ context.Context, cp session.ChargePoint, request *firmware.FirmwareStatusNotificationRequest) (*firmware.FirmwareStatusNotificationResponse, error) {
	cp.Logger().WithField("status", request.Status).Info("Received FirmwareStatusNotification")
	return firmware.NewFirmwareStatusNotificationResponse(), nil
}

func (h *CentralSystemHandler) OnLogStatusNotification(_ context.Context, cp session.ChargePoint, request *diagnostics.LogStatusNotificationRequest) (*diagnostics.LogStatusNotificationResponse, error) {
	cp.Logger().WithFields(log.Fields{
		"status":     request.Status,
		"request_id": request.RequestID,
	}).Info("Received LogStatusNotification")
	return diagnostics.NewLogStatusNotificationResponse(), nil
}

func (h *CentralSystemHandler) OnSecurityEventNotification(_ context.Context, cp session.ChargePoint, request *security.SecurityEventNotificationRequest) (*security.SecurityEventNotificationResponse, error) {
	cp.Logger().WithFields(log.Fields{
		"type":      request.Type,
		"tech_info": request.TechInfo,
	}).Info("Received SecurityEventNotification")
	return security.NewSecurityEventNotificationResponse(), nil
}
