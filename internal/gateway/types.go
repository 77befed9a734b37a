package gateway

// Transaction is the gateway's view of a payment.
type Transaction struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	AmountInCents int64  `json:"amount_in_cents"`
	Currency      string `json:"currency"`
	StatusMessage string `json:"status_message,omitempty"`
	PaymentMethod string `json:"payment_method_type,omitempty"`
}

type PaymentMethod struct {
	Type         string `json:"type"`
	Token        string `json:"token,omitempty"`
	Installments int    `json:"installments,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
}

type CustomerData struct {
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	LegalID     string `json:"legal_id,omitempty"`
	LegalIDType string `json:"legal_id_type,omitempty"`
}

type ShippingAddress struct {
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	Country      string `json:"country"`
	Region       string `json:"region"`
	City         string `json:"city"`
	Name         string `json:"name,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// CreateTransactionRequest is the body of POST /transactions.
type CreateTransactionRequest struct {
	AmountInCents   int64            `json:"amount_in_cents"`
	Currency        string           `json:"currency"`
	Reference       string           `json:"reference"`
	Signature       string           `json:"signature"`
	CustomerEmail   string           `json:"customer_email"`
	AcceptanceToken string           `json:"acceptance_token,omitempty"`
	RedirectURL     string           `json:"redirect_url,omitempty"`
	PaymentMethod   *PaymentMethod   `json:"payment_method,omitempty"`
	CustomerData    *CustomerData    `json:"customer_data,omitempty"`
	ShippingAddress *ShippingAddress `json:"shipping_address,omitempty"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}
