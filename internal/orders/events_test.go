package orders

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDecodeOrderPlaced(t *testing.T) {
	id := uuid.New()
	body := `{"orderId":"` + id.String() + `","userId":"U1","productId":"P1","quantity":2,"paymentMethod":"CreditCard","createdAt":"2024-05-01T09:30:00Z","source":"mobile"}`

	ev, err := DecodeOrderPlaced([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.OrderID != id || ev.UserID != "U1" || ev.Quantity != 2 || ev.PaymentMethod != PaymentCreditCard {
		t.Errorf("event = %+v", ev)
	}
	if !ev.CreatedAt.Equal(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("createdAt = %v", ev.CreatedAt)
	}
}

func TestDecodeOrderPlacedMalformed(t *testing.T) {
	valid := map[string]any{
		"orderId":       uuid.NewString(),
		"userId":        "U1",
		"productId":     "P1",
		"quantity":      1,
		"paymentMethod": "BankTransfer",
		"createdAt":     "2024-05-01T09:30:00Z",
	}
	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"missing orderId", func(m map[string]any) { delete(m, "orderId") }},
		{"bad orderId", func(m map[string]any) { m["orderId"] = "O1" }},
		{"missing userId", func(m map[string]any) { delete(m, "userId") }},
		{"missing productId", func(m map[string]any) { m["productId"] = "" }},
		{"missing quantity", func(m map[string]any) { delete(m, "quantity") }},
		{"zero quantity", func(m map[string]any) { m["quantity"] = 0 }},
		{"quantity as string", func(m map[string]any) { m["quantity"] = "2" }},
		{"unknown payment", func(m map[string]any) { m["paymentMethod"] = "Cash" }},
		{"missing createdAt", func(m map[string]any) { delete(m, "createdAt") }},
		{"bad createdAt", func(m map[string]any) { m["createdAt"] = "yesterday" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := map[string]any{}
			for k, v := range valid {
				m[k] = v
			}
			tt.mutate(m)
			b, _ := json.Marshal(m)
			if _, err := DecodeOrderPlaced(b); !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("err = %v, want ErrMalformedEvent", err)
			}
		})
	}
	if _, err := DecodeOrderPlaced([]byte(`[]`)); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("array payload: err = %v", err)
	}
}

func TestOrderPlacedEventWireNames(t *testing.T) {
	o, err := NewOrder("U1", "P1", 3, PaymentDebitCard, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(NewOrderPlacedEvent(o))
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"orderId", "userId", "productId", "quantity", "paymentMethod", "createdAt"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing field %q in %s", k, b)
		}
	}
	if len(m) != 6 {
		t.Errorf("unexpected fields in %s", b)
	}
}
