package orders

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusProcessed  Status = "Processed"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

// Processed -> Completed hanya lewat fulfillment eksternal.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusProcessed: true, StatusCancelled: true},
	StatusProcessed:  {StatusCompleted: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Handled reports whether the processor has nothing left to do for an order in s.
func (s Status) Handled() bool {
	return s == StatusProcessed || s == StatusCompleted || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentCreditCard   PaymentMethod = "CreditCard"
	PaymentDebitCard    PaymentMethod = "DebitCard"
	PaymentBankTransfer PaymentMethod = "BankTransfer"
	PaymentPayPal       PaymentMethod = "PayPal"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCreditCard, PaymentDebitCard, PaymentBankTransfer, PaymentPayPal:
		return true
	}
	return false
}
