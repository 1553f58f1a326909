package drafting

import (
	"context"
	"fmt"
	"strings"

	"lpbf-planner/internal/model"
)

// TemplateDrafter renders drafts locally. It is used when no drafting service
// is configured.
type TemplateDrafter struct {
	Signature string
}

// Draft implements Drafter.
func (t TemplateDrafter) Draft(_ context.Context, req Request) (Draft, error) {
	c := req.Context
	ref := c.InquiryNumber
	if c.OrderNumber != nil && *c.OrderNumber != "" {
		ref = *c.OrderNumber
	}

	var b strings.Builder
	b.WriteString("Dear customer,\n\n")
	if req.Type == model.NotificationReturning {
		b.WriteString("thank you for working with us again. ")
	} else {
		b.WriteString("thank you for your inquiry. ")
	}
	fmt.Fprintf(&b, "Your part %s (%d pcs, reference %s) can be built together with other parts in production run %s",
		c.PartName, c.Quantity, ref, c.RunNumber)
	if c.PlannedEndDate != nil {
		fmt.Fprintf(&b, ", planned to finish on %s", c.PlannedEndDate.Format("2006-01-02"))
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Sharing the build platform lowers your price from %s EUR to %s EUR, a reduction of %s EUR (%s%%).\n",
		c.PreviousPriceEUR.StringFixed(2), c.NewPriceEUR.StringFixed(2),
		c.ReductionEUR.StringFixed(2), c.ReductionPercent.StringFixed(1))
	if t.Signature != "" {
		b.WriteString("\n" + t.Signature + "\n")
	}

	return Draft{
		Subject: fmt.Sprintf("Lower price for %s (%s)", c.PartName, ref),
		Body:    b.String(),
	}, nil
}
