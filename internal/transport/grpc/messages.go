package grpc

import "chargeline/internal/model"

type DebitRequest struct {
	Backend     string `json:"backend"`
	ServiceType string `json:"serviceType,omitempty"`
	Unit        any    `json:"unit"`
	Delay       string `json:"delay,omitempty"`
}

func (r *DebitRequest) chargeRequest() model.ChargeRequest {
	return model.ChargeRequest{ServiceType: r.ServiceType, Unit: r.Unit, Delay: r.Delay}
}

type ResetRequest struct {
	Backend string `json:"backend"`
}

type EventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type EventResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type (
	DebitResult = model.ChargeResult
	ResetResult = model.ResetResult
)
