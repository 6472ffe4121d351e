// README: Ledger statement export as an .xlsx workbook.
package wallet

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"ridematch/internal/types"
)

const statementSheet = "Ledger"

var statementHeaders = []string{"Date", "Type", "Category", "Amount", "Balance after", "Reference", "Description"}

// ExportStatement writes the caller's full ledger, oldest first, with the wallet summary on top.
func (s *Service) ExportStatement(ctx context.Context, caller types.Identity, w io.Writer) error {
	if !caller.Is(types.RoleDriver) {
		return ErrDriverOnly
	}
	wallet, err := s.store.GetWallet(ctx, caller.ID)
	if err != nil {
		return err
	}
	txs, err := s.store.ListTransactions(ctx, wallet.ID, 0)
	if err != nil {
		return err
	}
	f, err := buildStatement(wallet, txs)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func buildStatement(wallet *Wallet, txs []Transaction) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(statementSheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}

	f.SetCellValue(statementSheet, "A1", "Driver")
	f.SetCellValue(statementSheet, "B1", string(wallet.DriverID))
	f.SetCellValue(statementSheet, "A2", "Balance")
	f.SetCellValue(statementSheet, "B2", wallet.Balance)
	f.SetCellValue(statementSheet, "C2", wallet.Currency)

	const headerRow = 3
	for i, h := range statementHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(statementSheet, cell, h)
	}

	// txs are newest first
	row := headerRow + 1
	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		amount := t.Amount
		if t.Type == TxDebit {
			amount = -amount
		}
		values := []any{
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			string(t.Type),
			string(t.Category),
			amount,
			t.BalanceAfter,
			t.Reference,
			t.Description,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(statementSheet, cell, v)
		}
		row++
	}
	if err := f.SetColWidth(statementSheet, "A", "A", 20); err != nil {
		f.Close()
		return nil, fmt.Errorf("format statement: %w", err)
	}
	return f, nil
}
