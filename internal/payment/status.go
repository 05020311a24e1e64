package payment

import (
	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment/domain"
)

// MapGatewayStatus translates the gateway vocabulary to the internal one.
// Anything the gateway adds later maps to ERROR.
func MapGatewayStatus(s gateway.Status) domain.Status {
	switch s {
	case gateway.StatusPending:
		return domain.StatusPending
	case gateway.StatusApproved:
		return domain.StatusApproved
	case gateway.StatusDeclined:
		return domain.StatusDeclined
	case gateway.StatusVoided:
		return domain.StatusVoided
	case gateway.StatusError:
		return domain.StatusError
	default:
		return domain.StatusError
	}
}
