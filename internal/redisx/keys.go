package redisx

import (
	"fmt"
	"time"
)

const (
	// Penanda order selesai diproses: order_processed_{order_id} -> {"orderId","processedAt","status"}
	KeyOrderProcessed = "order_processed_%s"

	// Cache list order per user: user_orders_{user_id} -> [order...]
	KeyUserOrders = "user_orders_%s"
)

var (
	TTLOrderProcessed = 24 * time.Hour
	TTLUserOrders     = 2 * time.Minute
	TTLDefault        = 5 * time.Minute
)

func OrderProcessedKey(orderID string) string { return fmt.Sprintf(KeyOrderProcessed, orderID) }

func UserOrdersKey(userID string) string { return fmt.Sprintf(KeyUserOrders, userID) }
