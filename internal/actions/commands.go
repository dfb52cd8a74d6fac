package actions

import (
	"context"
	"encoding/json"

	"github.com/go-faker/faker/v4"
	"github.com/juju/errors"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/authorization"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/availability"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/data"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/remotecontrol"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/types"

	"dummy_ocpp_cs/internal/session"
)

// Fixed request contents used by the outbound commands.
const (
	TestIdToken       = "test_token"
	TestIdTokenType   = types.IdTokenTypeISO14443
	TestTransactionID = "test_transaction_123"
	TestVendorID      = "TestVendor"
	TestMessageID     = "TestMessage"
	TestData          = "test_data"
)

// Commands returns every outbound command keyed by action name.
func Commands() map[string]session.Command {
	return map[string]session.Command{
		authorization.ClearCacheFeatureName: statusCommand(authorization.ClearCacheFeatureName,
			func() any { return authorization.NewClearCacheRequest() },
			func(r *authorization.ClearCacheResponse) (string, bool) {
				return string(r.Status), r.Status == authorization.ClearCacheStatusAccepted
			}),
		provisioning.GetBaseReportFeatureName: statusCommand(provisioning.GetBaseReportFeatureName,
			func() any {
				return provisioning.NewGetBaseReportRequest(fakeNumber(1, 100), provisioning.ReportTypeFullInventory)
			},
			func(r *provisioning.GetBaseReportResponse) (string, bool) {
				return string(r.Status), r.Status == types.GenericDeviceModelStatusAccepted
			}),
		provisioning.GetVariablesFeatureName: exchangeCommand(provisioning.GetVariablesFeatureName, func() any {
			return provisioning.NewGetVariablesRequest([]provisioning.GetVariableData{{
				Component: types.Component{Name: "ChargingStation"},
				Variable:  types.Variable{Name: "AvailabilityState"},
			}})
		}),
		provisioning.SetVariablesFeatureName: exchangeCommand(provisioning.SetVariablesFeatureName, func() any {
			return provisioning.NewSetVariablesRequest([]provisioning.SetVariableData{{
				AttributeValue: "30",
				Component:      types.Component{Name: "ChargingStation"},
				Variable:       types.Variable{Name: "HeartbeatInterval"},
			}})
		}),
		remotecontrol.RequestStartTransactionFeatureName: exchangeCommand(remotecontrol.RequestStartTransactionFeatureName, func() any {
			request := remotecontrol.NewRequestStartTransactionRequest(fakeNumber(1, 1000), types.IdToken{
				IdToken: TestIdToken,
				Type:    TestIdTokenType,
			})
			evseID := 1
			request.EvseID = &evseID
			return request
		}),
		remotecontrol.RequestStopTransactionFeatureName: exchangeCommand(remotecontrol.RequestStopTransactionFeatureName, func() any {
			return remotecontrol.NewRequestStopTransactionRequest(TestTransactionID)
		}),
		provisioning.ResetFeatureName: statusCommand(provisioning.ResetFeatureName,
			func() any { return provisioning.NewResetRequest(provisioning.ResetTypeImmediate) },
			func(r *provisioning.ResetResponse) (string, bool) {
				return string(r.Status), r.Status == provisioning.ResetStatusAccepted
			}),
		remotecontrol.UnlockConnectorFeatureName: statusCommand(remotecontrol.UnlockConnectorFeatureName,
			func() any { return remotecontrol.NewUnlockConnectorRequest(1, 1) },
			func(r *remotecontrol.UnlockConnectorResponse) (string, bool) {
				return string(r.Status), r.Status == remotecontrol.UnlockStatusUnlocked
			}),
		availability.ChangeAvailabilityFeatureName: statusCommand(availability.ChangeAvailabilityFeatureName,
			func() any { return availability.NewChangeAvailabilityRequest(availability.OperationalStatusOperative) },
			func(r *availability.ChangeAvailabilityResponse) (string, bool) {
				return string(r.Status), r.Status == availability.ChangeAvailabilityStatusAccepted
			}),
		remotecontrol.TriggerMessageFeatureName: statusCommand(remotecontrol.TriggerMessageFeatureName,
			func() any { return remotecontrol.NewTriggerMessageRequest(remotecontrol.MessageTriggerStatusNotification) },
			func(r *remotecontrol.TriggerMessageResponse) (string, bool) {
				return string(r.Status), r.Status == remotecontrol.TriggerMessageStatusAccepted
			}),
		data.DataTransferFeatureName: statusCommand(data.DataTransferFeatureName,
			func() any {
				request := data.NewDataTransferRequest(TestVendorID)
				request.MessageID = TestMessageID
				request.Data = TestData
				return request
			},
			func(r *data.DataTransferResponse) (string, bool) {
				return string(r.Status), r.Status == data.DataTransferStatusAccepted
			}),
	}
}

// statusCommand sends the request built by build and logs whether the
// reply status, as reported by outcome, counts as a success.
func statusCommand[Resp any](action string, build func() any, outcome func(*Resp) (string, bool)) session.Command {
	return func(ctx context.Context, cp session.ChargePoint) error {
		reply, err := send(ctx, cp, action, build())
		if err != nil {
			return err
		}
		response := new(Resp)
		if err := json.Unmarshal(reply, response); err != nil {
			return errors.Annotatef(err, "decoding %s response", action)
		}
		status, ok := outcome(response)
		logger := cp.Logger().WithField("status", status)
		if ok {
			logger.Infof("%s successful", action)
		} else {
			logger.Infof("%s failed", action)
		}
		return nil
	}
}

// exchangeCommand sends the request built by build and only logs that a reply arrived.
func exchangeCommand(action string, build func() any) session.Command {
	return func(ctx context.Context, cp session.ChargePoint) error {
		reply, err := send(ctx, cp, action, build())
		if err != nil {
			return err
		}
		cp.Logger().WithField("response", string(reply)).Infof("%s response received", action)
		return nil
	}
}

func send(ctx context.Context, cp session.ChargePoint, action string, request any) (json.RawMessage, error) {
	reply, err := cp.Call(ctx, action, request)
	if err != nil {
		cp.Logger().WithError(err).Infof("%s failed", action)
		return nil, errors.Trace(err)
	}
	return reply, nil
}

func fakeNumber(min, max int) int {
	v, err := faker.RandomInt(min, max, 1)
	if err != nil || len(v) == 0 {
		return min
	}
	return v[0]
}
