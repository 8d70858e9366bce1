package reports

import (
	"fmt"

	"bitbucket.org/mmdatafocus/receivables_backend/models"
	"github.com/xuri/excelize/v2"
)

func formatYearMonth(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// BuildStatementWorkbook renders a statement into an xlsx workbook. Caller
// owns closing/writing the file.
func BuildStatementWorkbook(customer *models.Customer, statement *models.StatementResponse) (*excelize.File, error) {
	f := excelize.NewFile()
	sheetName := "Statement"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	f.SetCellValue(sheetName, "A1", "Customer")
	f.SetCellValue(sheetName, "B1", customer.Name)
	f.SetCellValue(sheetName, "A2", "Opening Balance")
	f.SetCellValue(sheetName, "B2", statement.OpeningBalance.String())

	headings := []string{"Date", "Type", "Number", "Description", "Debit", "Credit", "Balance"}
	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 4)
		if err != nil {
			return nil, err
		}
		f.SetCellValue(sheetName, cell, h)
	}

	row := 5
	for _, line := range statement.Lines {
		values := []interface{}{
			line.Date.Format("2006-01-02"),
			string(line.SourceType),
			line.Code,
			line.Description,
			line.Debit.String(),
			line.Credit.String(),
			line.Balance.String(),
		}
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return nil, err
			}
			f.SetCellValue(sheetName, cell, v)
		}
		row++
	}

	row++
	f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), "Totals")
	f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), statement.Stats.TotalDebit.String())
	f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), statement.Stats.TotalCredit.String())
	f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), statement.Stats.Balance.String())

	return f, nil
}
