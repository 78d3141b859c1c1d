// Package report renders fulfillment documents (packing slips) for orders.
package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

const dateLayout = "2006-01-02 15:04 MST"

// Renderer writes a plain-text fulfillment document from an OrderView.
type Renderer struct {
	currency currency.Unit
	scale    int
	printer  *message.Printer
}

// NewRenderer formats money in the given ISO currency using the number
// conventions of locale (e.g. "es-MX").
func NewRenderer(currencyCode, locale string) (*Renderer, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(currencyCode)))
	if err != nil {
		return nil, fmt.Errorf("report: currency %q: %w", currencyCode, err)
	}
	tag := language.English
	if locale != "" {
		tag, err = language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("report: locale %q: %w", locale, err)
		}
	}
	scale, _ := currency.Standard.Rounding(unit)
	return &Renderer{currency: unit, scale: scale, printer: message.NewPrinter(tag)}, nil
}

// Money formats an amount with the renderer's currency and locale, e.g.
// "MXN 1,234.50".
func (r *Renderer) Money(amount decimal.Decimal) string {
	f, _ := amount.Round(int32(r.scale)).Float64()
	return r.currency.String() + " " + r.printer.Sprint(number.Decimal(f, number.Scale(r.scale)))
}

func (r *Renderer) Render(w io.Writer, view *domain.OrderView) error {
	if view == nil {
		return errors.New("report: order is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ORDER %s\n", view.SequenceNumber)
	fmt.Fprintf(&b, "Placed:      %s\n", view.CreatedAt.UTC().Format(dateLayout))
	fmt.Fprintf(&b, "Source:      %s\n", view.Source)
	fmt.Fprintf(&b, "Status:      %s / payment %s\n", view.FulfillmentStatus, view.PaymentStatus)
	if view.PaymentReference != "" {
		fmt.Fprintf(&b, "Payment ref: %s\n", view.PaymentReference)
	}
	b.WriteString("\n")

	b.WriteString("CUSTOMER\n")
	for _, line := range customerLines(view) {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	b.WriteString("\nSHIP TO\n")
	for _, line := range addressLines(view.Address) {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Product", "Qty", "Unit price", "Promotion", "Subtotal")
	for _, line := range view.Lines {
		promo := ""
		if line.Promotion.OnPromotion {
			promo = fmt.Sprintf("-%d%% (was %s)", line.Promotion.DiscountPercent, r.Money(line.Promotion.RegularPrice))
		}
		if err := table.Append([]string{
			line.ProductName,
			strconv.Itoa(line.Quantity),
			r.Money(line.UnitPrice),
			promo,
			r.Money(line.Subtotal),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	totals := tablewriter.NewWriter(w)
	totals.Header("", "Amount")
	rows := [][]string{
		{"Subtotal", r.Money(view.Subtotal)},
		{"Tax", r.Money(view.Tax)},
		{"Shipping", r.Money(view.Shipping)},
		{"Total", r.Money(view.Total)},
	}
	for _, row := range rows {
		if err := totals.Append(row); err != nil {
			return err
		}
	}
	return totals.Render()
}

func customerLines(view *domain.OrderView) []string {
	var out []string
	if view.CustomerName != "" {
		out = append(out, view.CustomerName)
	}
	if view.CustomerID != "" {
		out = append(out, "Account "+view.CustomerID)
	}
	if view.CustomerEmail != "" {
		out = append(out, view.CustomerEmail)
	}
	if view.CustomerPhone != "" {
		out = append(out, "Tel. "+view.CustomerPhone)
	}
	if len(out) == 0 {
		out = append(out, "-")
	}
	return out
}

func addressLines(a *domain.Address) []string {
	if a == nil {
		return []string{"-"}
	}
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	add(a.Recipient)
	add(a.Line1)
	add(a.Line2)
	add(strings.TrimSpace(strings.Join(nonEmpty(a.City, a.State, a.PostalCode), ", ")))
	add(a.Country)
	if a.Phone != "" {
		add("Tel. " + a.Phone)
	}
	if len(out) == 0 {
		out = append(out, "-")
	}
	return out
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
