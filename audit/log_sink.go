package audit

import (
	"context"

	"github.com/vitwit/gasstation/logger"
)

// LogSink writes every event to a structured logger.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	fields := map[string]any{
		"event_id": e.ID.String(),
		"seq":      e.Seq,
		"station":  e.StationID,
		"kind":     string(e.Kind),
		"at":       e.At,
	}

	switch e.Kind {
	case KindPriceChanged:
		fields["old_price"] = e.PriceChanged.Old
		fields["new_price"] = e.PriceChanged.New
		fields["caller"] = e.PriceChanged.Caller.Hex()
	case KindAdminChanged:
		fields["action"] = string(e.AdminChanged.Action)
		fields["admin"] = e.AdminChanged.Admin.Hex()
		fields["caller"] = e.AdminChanged.Caller.Hex()
	case KindFeePaid:
		fields["receipt_id"] = e.FeePaid.Receipt.ID.String()
		fields["payer"] = e.FeePaid.Receipt.Payer.Hex()
		fields["amount"] = e.FeePaid.Receipt.Amount
		fields["balance"] = e.FeePaid.Receipt.Balance
	case KindFundsWithdrawn:
		fields["caller"] = e.FundsWithdrawn.Caller.Hex()
		fields["recipient"] = e.FundsWithdrawn.Recipient.Hex()
		fields["amount"] = e.FundsWithdrawn.Amount
	}

	s.log.Info("audit event", fields)
	return nil
}
