// Package messages decodes inbound OCPP 2.0.1 payloads into the ocpp-go
// message types and applies the schema checks those types declare.
package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	// feature packages register their enum checks on types.Validate
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/authorization"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/availability"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/data"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/diagnostics"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/firmware"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/meter"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/remotecontrol"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/security"
	_ "github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/types"
	"gopkg.in/go-playground/validator.v9"

	"dummy_ocpp_cs/internal/wire"
)

// Decode unmarshals payload into v and validates it. Failures are returned
// as FormationViolation errors so they can be sent back as a CallError.
func Decode(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return ocpp.NewError(wire.FormationViolation, fmt.Sprintf("invalid payload: %v", err), "")
	}
	if err := Validate(v); err != nil {
		return ocpp.NewError(wire.FormationViolation, err.Error(), "")
	}
	return nil
}

// Validate runs the ocpp-go validation rules declared on v.
func Validate(v any) error {
	err := types.Validate.Struct(v)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s violates %s", fieldErr.Namespace(), fieldErr.Tag()))
	}
	return fmt.Errorf("invalid payload: %s", strings.Join(fields, ", "))
}
