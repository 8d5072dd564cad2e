// Package syncer exports submitted orders to the back office in the
// spreadsheet row shape and marks them synced once a sink accepted them.
package syncer

import (
	"strconv"
	"time"

	"florapos/internal/clock"
	"florapos/internal/domain"
	"florapos/internal/money"
)

var (
	OrderColumns = []string{"INDEX", "TIME", "ID", "REFTOTAL", "ALLDISC", "NEEDTOPAY", "PAIDBY", "%DISC", "$DISC", "FINALSET", "UUID", "OTN", "OSTATUS"}
	ItemColumns  = []string{"INDEX", "TIME", "CODE", "SKU", "GNINDEX", "QTY", "PRICE", "ITEMDISC", "SUBTOTAL", "UUID", "DESC"}
)

// OrderRecord renders a header in OrderColumns order. FINALSET is empty when
// no final price override was set.
func OrderRecord(h domain.OrderHeader, loc *time.Location) []string {
	finalSet := ""
	if h.FinalPriceCents != nil {
		finalSet = money.Format(*h.FinalPriceCents)
	}
	return []string{
		strconv.FormatInt(h.Index, 10),
		formatTime(h.CreatedAt, loc),
		h.OrderID,
		money.Format(h.ReferenceTotalCents),
		money.Format(h.DiscountCents),
		money.Format(h.GrandTotalCents),
		string(h.PaymentMethod),
		h.SysPercent.String(),
		money.Format(h.SysAmountCents),
		finalSet,
		h.UUID,
		h.CustomerID,
		string(h.Status),
	}
}

func ItemRecord(it domain.OrderItem, loc *time.Location) []string {
	return []string{
		strconv.FormatInt(it.Index, 10),
		formatTime(it.CreatedAt, loc),
		it.Code,
		it.SKU,
		it.GeneralIndex,
		strconv.Itoa(it.Quantity),
		money.Format(it.UnitPriceCents),
		money.Format(it.DiscountCents),
		money.Format(it.SubtotalCents),
		it.UUID,
		it.Description,
	}
}

func formatTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(clock.TimestampLayout)
}

// keyed pairs every value with its column name for the JSON sink.
func keyed(columns, values []string) map[string]string {
	out := make(map[string]string, len(columns))
	for i, col := range columns {
		out[col] = values[i]
	}
	return out
}
