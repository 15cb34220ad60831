package portfolio

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

var exportHeader = []string{
	"Asset", "Date Invested", "Sector", "Webpage", "Location", "Description",
	"Status", "Note", "Next Steps", "Financials", "Updated",
}

// WriteXLSX writes a sponsor's companies to a one-sheet workbook at path.
func WriteXLSX(path string, sponsor model.Sponsor, companies []model.PortfolioCompany) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName(sponsor.Name))
	if err != nil {
		return eris.Wrap(err, "portfolio: add sheet")
	}

	addRow(sheet, exportHeader)
	for _, c := range companies {
		addRow(sheet, []string{
			c.Asset, c.DateInvested, c.Sector, c.Webpage, c.Location, c.Description,
			c.Status, c.Note, c.NextSteps, c.Financials, c.UpdatedAt.Format("2006-01-02"),
		})
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "portfolio: save %s", path)
	}
	return nil
}

// ReadXLSX returns the data rows of the first sheet of an exported
// workbook, without the header row.
func ReadXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("portfolio: workbook has no sheets")
	}

	var rows [][]string
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// sheetName trims to Excel's 31 character limit and strips characters
// that are not allowed in sheet names.
func sheetName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			continue
		}
		out = append(out, r)
		if len(out) == 31 {
			break
		}
	}
	if len(out) == 0 {
		return "Portfolio " + strconv.Itoa(len(name))
	}
	return string(out)
}
