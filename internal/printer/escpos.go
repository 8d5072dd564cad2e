package printer

import (
	"fmt"
	"strings"

	"florapos/internal/clock"
	"florapos/internal/domain"
	"florapos/internal/money"
)

var (
	escInit    = []byte{0x1b, 0x40}
	escCut     = []byte{0x1d, 0x56, 0x41, 0x10}
	drawerKick = []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
)

const ruleWidth = 32

// ReceiptLines renders the human readable body of a receipt.
func ReceiptLines(storeName string, header domain.OrderHeader, items []domain.OrderItem) []string {
	lines := []string{
		storeName,
		strings.Repeat("=", ruleWidth),
		"Order: " + header.OrderID,
		"Date : " + header.CreatedAt.Format(clock.TimestampLayout),
	}
	if header.CustomerID != "" {
		lines = append(lines, "Cust : "+header.CustomerID)
	}
	if header.Status == domain.OrderStatusHold {
		lines = append(lines, "*** HOLD ***")
	}
	lines = append(lines, strings.Repeat("-", ruleWidth))

	for _, item := range items {
		name := item.Description
		if name == "" {
			name = item.Code
		}
		if item.GeneralIndex != "" {
			name += " (" + item.GeneralIndex + ")"
		}
		lines = append(lines, fmt.Sprintf("%s x%d", name, item.Quantity))
		if item.DiscountCents > 0 {
			lines = append(lines, fmt.Sprintf("  @%s  -%s", money.Format(item.UnitPriceCents), money.Format(item.DiscountCents)))
		}
		lines = append(lines, fmt.Sprintf("  %s", money.Format(item.SubtotalCents)))
	}

	lines = append(lines,
		strings.Repeat("-", ruleWidth),
		fmt.Sprintf("Subtotal : %s", money.Format(header.ReferenceTotalCents)),
		fmt.Sprintf("Discount : %s", money.Format(header.DiscountCents)),
		fmt.Sprintf("Total    : %s", money.Format(header.GrandTotalCents)),
		fmt.Sprintf("Paid by  : %s", header.PaymentMethod),
	)
	if header.PaymentMethod == domain.PaymentCash && header.CashReceivedCents > 0 {
		lines = append(lines,
			fmt.Sprintf("Cash     : %s", money.Format(header.CashReceivedCents)),
			fmt.Sprintf("Change   : %s", money.Format(header.ChangeCents)),
		)
	}
	lines = append(lines,
		strings.Repeat("=", ruleWidth),
		"Thank you",
		"",
	)
	return lines
}

// BuildReceipt wraps the receipt lines in ESC/POS init and cut commands. Cash
// receipts also pulse the drawer.
func BuildReceipt(storeName string, header domain.OrderHeader, items []domain.OrderItem) []byte {
	escpos := append([]byte{}, escInit...)
	for _, line := range ReceiptLines(storeName, header, items) {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, escCut...)
	if header.PaymentMethod == domain.PaymentCash && header.Status == domain.OrderStatusCompleted {
		escpos = append(escpos, drawerKick...)
	}
	return escpos
}

// BuildLabel renders copies of a shelf label for one product.
func BuildLabel(item domain.InventoryItem, copies int) []byte {
	if copies < 1 {
		copies = 1
	}
	escpos := append([]byte{}, escInit...)
	for i := 0; i < copies; i++ {
		for _, line := range []string{
			item.Name,
			item.Code,
			money.Format(item.ListPriceCents),
		} {
			escpos = append(escpos, []byte(line)...)
			escpos = append(escpos, '\n')
		}
		escpos = append(escpos, escCut...)
	}
	return escpos
}
