package scraper

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/planillas/models"
)

// recordCells is the number of ordered text cells that make up a Record.
const recordCells = 5

// ParseTable turns the results table markup into records. The first row is
// the header and is dropped. Rows with fewer than five cells are padded
// with empty strings; extra cells are ignored.
func ParseTable(tableHTML string) ([]models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		return nil, fmt.Errorf("parse results table: %w", err)
	}

	rows := doc.Find("tr")
	records := make([]models.Record, 0, max(rows.Length()-1, 0))
	rows.Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := make([]string, recordCells)
		row.Find("td").EachWithBreak(func(j int, td *goquery.Selection) bool {
			if j >= recordCells {
				return false
			}
			cells[j] = strings.TrimSpace(td.Text())
			return true
		})

		amount, _ := ParseAmount(cells[2])
		records = append(records, models.Record{
			FormID:         cells[0],
			FormType:       cells[1],
			AmountOriginal: cells[2],
			Amount:         amount,
			Status:         cells[3],
			Period:         cells[4],
		})
	})
	return records, nil
}

// ParseAmount converts a displayed amount such as "$1.234" or "$ 1.234,50"
// to cents. "." groups thousands and "," separates decimals.
func ParseAmount(text string) (int64, error) {
	s := strings.NewReplacer("$", "", " ", "", "\u00a0", "", ".", "").Replace(strings.TrimSpace(text))
	if s == "" {
		return 0, fmt.Errorf("empty amount %q", text)
	}

	whole, frac, hasFrac := strings.Cut(s, ",")
	neg := strings.HasPrefix(whole, "-")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", text, err)
	}
	// Strict bounds leave room for the two decimal digits.
	if units >= math.MaxInt64/100 || units <= math.MinInt64/100 {
		return 0, fmt.Errorf("invalid amount %q: out of range", text)
	}
	cents := units * 100
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 || strings.Trim(frac, "0123456789") != "" {
			return 0, fmt.Errorf("invalid amount %q: bad decimals", text)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", text, err)
		}
		// The fraction takes the sign of the text, so "-0,50" stays negative.
		if neg {
			f = -f
		}
		cents += f
	}
	return cents, nil
}
