package xero

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"homeledger/internal/shared/logger"
)

// Statement report detail rows carry cells in this fixed order.
const (
	cellDate = iota
	cellDescription
	cellReference
	cellReconciled
	cellSource
	cellAmount
	cellBalance
	statementCellCount
)

var reportDateLayouts = []string{
	dateStringLayout,
	"2006-01-02",
	"2 Jan 2006",
	"2 January 2006",
}

// ReportsResponse is the envelope of the Reports endpoints.
type ReportsResponse struct {
	Reports []Report `json:"Reports"`
}

type Report struct {
	ReportID   string      `json:"ReportID"`
	ReportName string      `json:"ReportName"`
	Rows       []ReportRow `json:"Rows"`
}

// ReportRow is a node of the report tree. Sections hold Rows, detail rows
// hold Cells.
type ReportRow struct {
	RowType string       `json:"RowType"`
	Title   string       `json:"Title"`
	Cells   []ReportCell `json:"Cells"`
	Rows    []ReportRow  `json:"Rows"`
}

type ReportCell struct {
	Value string `json:"Value"`
}

// StatementLine is one flattened row of a bank statement report.
type StatementLine struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	Reconciled  bool            `json:"reconciled"`
	Source      string          `json:"source"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
}

// GetBankStatement fetches the statement report for one account over
// [from, to]. Remote failures are returned; a malformed report is not an
// error and yields no lines.
func (c *Client) GetBankStatement(ctx context.Context, accessToken, tenantID, accountID string, from, to time.Time) ([]StatementLine, error) {
	query := url.Values{}
	query.Set("bankAccountID", accountID)
	query.Set("fromDate", from.Format("2006-01-02"))
	query.Set("toDate", to.Format("2006-01-02"))

	body, _, err := c.get(ctx, accessToken, tenantID, c.baseURL+statementPath, query, nil)
	if err != nil {
		return nil, err
	}

	return ParseStatementReport(body), nil
}

// ParseStatementReport flattens a statement report body. It walks top-level
// rows, then section rows, then detail rows; a row whose shape does not fit
// is skipped and the rest of the report is kept.
func ParseStatementReport(body []byte) []StatementLine {
	lines := []StatementLine{}

	var resp ReportsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Warn("Malformed statement report, returning no lines")
		return lines
	}
	if len(resp.Reports) == 0 {
		return lines
	}

	skipped := 0
	for _, top := range resp.Reports[0].Rows {
		for _, section := range top.Rows {
			details := section.Rows
			if len(details) == 0 {
				details = []ReportRow{section}
			}
			for _, row := range details {
				if isHeaderOrSummary(row) {
					continue
				}
				line, ok := parseStatementRow(row)
				if !ok {
					skipped++
					continue
				}
				lines = append(lines, line)
			}
		}
	}

	if skipped > 0 {
		logger.Log.WithFields(logrus.Fields{"skipped": skipped, "parsed": len(lines)}).Debug("Skipped malformed statement rows")
	}
	return lines
}

func isHeaderOrSummary(row ReportRow) bool {
	switch strings.ToLower(row.RowType) {
	case "header", "summaryrow":
		return true
	}
	return false
}

func parseStatementRow(row ReportRow) (StatementLine, bool) {
	if len(row.Cells) < statementCellCount {
		return StatementLine{}, false
	}

	date, ok := parseReportDate(row.Cells[cellDate].Value)
	if !ok {
		return StatementLine{}, false
	}
	amount, ok := parseReportAmount(row.Cells[cellAmount].Value)
	if !ok {
		return StatementLine{}, false
	}
	balance, ok := parseReportAmount(row.Cells[cellBalance].Value)
	if !ok {
		balance = decimal.Zero
	}

	return StatementLine{
		Date:        date,
		Description: strings.TrimSpace(row.Cells[cellDescription].Value),
		Reference:   strings.TrimSpace(row.Cells[cellReference].Value),
		Reconciled:  parseReportBool(row.Cells[cellReconciled].Value),
		Source:      strings.TrimSpace(row.Cells[cellSource].Value),
		Amount:      amount,
		Balance:     balance,
	}, true
}

func parseReportDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range reportDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := parseMSDate(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseReportAmount(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseReportBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "y", "1", "reconciled":
		return true
	}
	return false
}
