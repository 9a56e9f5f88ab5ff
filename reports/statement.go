// Package reports renders fee account exports.
package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/money"
	"github.com/xuri/excelize/v2"
)

const (
	SheetSummary      = "Summary"
	SheetInstallments = "Installments"
	SheetPayments     = "Payments"
)

// Statement is everything printed on a fee statement.
type Statement struct {
	Account      models.FeeAccount
	Installments []models.Installment
	Payments     []models.PaymentEntry // display order
	Discounts    []models.DiscountRecord
	GeneratedAt  time.Time
}

// FileName is the download name of the statement.
func (s Statement) FileName() string {
	return fmt.Sprintf("fee-statement-%s-%s.xlsx", s.Account.StudentId, s.Account.AcademicYear)
}

// BuildFeeStatement writes the statement as an xlsx workbook with a summary,
// the installment schedule and the payment history.
func BuildFeeStatement(st Statement) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetInstallments, SheetPayments} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return nil, err
	}
	headStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	w := &sheetWriter{f: f, amountStyle: amountStyle, headStyle: headStyle}

	acc := st.Account
	w.sheet = SheetSummary
	w.row([]interface{}{"Student", acc.StudentId})
	w.row([]interface{}{"Academic Year", acc.AcademicYear})
	w.row([]interface{}{"Total Fee", acc.TotalFee})
	w.row([]interface{}{"Discount", acc.DiscountAmount})
	w.row([]interface{}{"Net Fee", acc.NetFee})
	w.row([]interface{}{"Paid", acc.PaidAmount})
	w.row([]interface{}{"Pending", acc.PendingAmount})
	w.row([]interface{}{"Status", string(acc.Status)})
	if acc.IsOverpaid {
		w.row([]interface{}{"Overpaid", acc.PaidAmount.Diff(acc.NetFee)})
	}
	w.row([]interface{}{"Generated At", st.GeneratedAt.Format("2006-01-02 15:04")})
	for _, d := range st.Discounts {
		if d.Status == models.DiscountStatusApproved {
			w.row([]interface{}{"Discount Reason", d.Reason})
			break
		}
	}
	_ = f.SetColWidth(SheetSummary, "A", "A", 18)
	_ = f.SetColWidth(SheetSummary, "B", "B", 20)

	w.sheet, w.rowNo = SheetInstallments, 0
	w.header("No", "Due Date", "Amount", "Paid", "Pending", "Status")
	for _, inst := range st.Installments {
		w.row([]interface{}{inst.SequenceNumber, inst.DueDate.Format("2006-01-02"), inst.Amount, inst.PaidAmount, inst.PendingAmount, string(inst.Status)})
	}
	_ = f.SetColWidth(SheetInstallments, "B", "F", 16)

	installmentNo := map[string]int{}
	for _, inst := range st.Installments {
		installmentNo[inst.ID] = inst.SequenceNumber
	}
	w.sheet, w.rowNo = SheetPayments, 0
	w.header("Payment Date", "Amount", "Mode", "Reference", "Installment", "Remarks", "Recorded By")
	for _, p := range st.Payments {
		var installment interface{} = ""
		if p.InstallmentId != nil {
			if n, ok := installmentNo[*p.InstallmentId]; ok {
				installment = n
			}
		}
		w.row([]interface{}{p.PaymentDate.Format("2006-01-02"), p.Amount, string(p.PaymentMode), p.TransactionRef, installment, p.Remarks, p.RecordedBy})
	}
	w.row([]interface{}{"Total", models.SumAmounts(st.Payments)})
	_ = f.SetColWidth(SheetPayments, "A", "G", 16)

	if w.err != nil {
		return nil, w.err
	}
	f.SetActiveSheet(0)
	return f.WriteToBuffer()
}

// sheetWriter appends rows to the current sheet and keeps the first error.
type sheetWriter struct {
	f           *excelize.File
	sheet       string
	rowNo       int
	amountStyle int
	headStyle   int
	err         error
}

func (w *sheetWriter) header(titles ...string) {
	values := make([]interface{}, len(titles))
	for i, t := range titles {
		values[i] = t
	}
	w.row(values)
	if w.err != nil {
		return
	}
	last, _ := excelize.CoordinatesToCellName(len(titles), w.rowNo)
	w.err = w.f.SetCellStyle(w.sheet, fmt.Sprintf("A%d", w.rowNo), last, w.headStyle)
}

func (w *sheetWriter) row(values []interface{}) {
	if w.err != nil {
		return
	}
	w.rowNo++
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.rowNo)
		if err != nil {
			w.err = err
			return
		}
		if m, ok := v.(money.Money); ok {
			if w.err = w.f.SetCellFloat(w.sheet, cell, m.Decimal().InexactFloat64(), 2, 64); w.err != nil {
				return
			}
			w.err = w.f.SetCellStyle(w.sheet, cell, cell, w.amountStyle)
		} else {
			w.err = w.f.SetCellValue(w.sheet, cell, v)
		}
		if w.err != nil {
			return
		}
	}
}
