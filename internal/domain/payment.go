package domain

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentWallet PaymentMethod = "wallet"
	PaymentOnline PaymentMethod = "online"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentWallet, PaymentOnline:
		return true
	}
	return false
}

// ClearsCartOnCommit is false for external gateways: the cart has to survive
// an abandoned payment so the customer can retry.
func (m PaymentMethod) ClearsCartOnCommit() bool {
	return m == PaymentCOD || m == PaymentWallet
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)
