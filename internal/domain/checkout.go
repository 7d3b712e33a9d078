package domain

type ShippingAddress struct {
	FullName   string `json:"fullName" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country" validate:"required"`
}

type CustomerInfo struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,phone"`
}

const (
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "bank_transfer"
	PaymentMethodWallet   = "wallet"
)

// PaymentDetails is forwarded to the payment gateway untouched. OTP is required for
// card payments and is exactly six digits.
type PaymentDetails struct {
	Method string `json:"method" validate:"required,oneof=card bank_transfer wallet"`
	Token  string `json:"token" validate:"required"`
	OTP    string `json:"otp,omitempty" validate:"omitempty,len=6,numeric"`
}

// ConfirmRequest is the body of the checkout confirmation call.
type ConfirmRequest struct {
	ShippingAddress     ShippingAddress `json:"shippingAddress"`
	CustomerInfo        CustomerInfo    `json:"customerInfo"`
	PaymentDetails      PaymentDetails  `json:"paymentDetails"`
	ReservationDuration int             `json:"reservationDuration"`
}
