// Package report renders exportable billing documents.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
)

const payoutSheet = "Payouts"

// PayoutsXLSX renders a store's payout history as an xlsx workbook.
func PayoutsXLSX(storeID int64, payouts []model.Payout) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(payoutSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headers := []string{
		"Payout ID", "Status", "Currency", "Gross (super units)",
		"Net (super units)", "Blockchain fee", "Wallet", "Orders",
		"Initiated", "Completed",
	}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(payoutSheet, cell, header); err != nil {
			return nil, err
		}
	}

	for row, payout := range payouts {
		completed := ""
		if payout.CompletedAt != nil {
			completed = payout.CompletedAt.Format(time.RFC3339)
		}
		currency := payout.Target.Currency
		values := []interface{}{
			payout.ID.String(),
			string(payout.Status),
			currency.String(),
			payout.GrossAmount.ToSuperUnit(currency).String(),
			payout.NetAmount.ToSuperUnit(currency).String(),
			payout.Target.BlockchainFee.ToSuperUnit(currency).String(),
			payout.Target.WalletAddress,
			len(payout.OrderIDs),
			payout.InitiatedAt.Format(time.RFC3339),
			completed,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(payoutSheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	title := fmt.Sprintf("store %d payouts", storeID)
	if err := f.SetDocProps(&excelize.DocProperties{Title: title}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
