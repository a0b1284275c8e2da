package loader

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/survivorship/internal/models"
)

// bulletinPattern matches bulletin file names such as
// "BOLETIN_01-03-2010_al_31-03-2010.pdf". The second date closes the period.
var bulletinPattern = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})_al_(\d{2})-(\d{2})-(\d{4})`)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
}

// maxExcelSerial is 9999-12-31.
const maxExcelSerial = 2958465

// ParseEventDate parses an explicit date written as text. Bare numbers are
// rejected: in a CSV a "2010" is a year, not a day count.
func ParseEventDate(value string) (time.Time, error) {
	return parseDate(value, false)
}

// ParseCellDate parses a workbook date cell, which may also hold the raw
// Excel serial day number of a date-formatted cell.
func ParseCellDate(value string) (time.Time, error) {
	return parseDate(value, true)
}

func parseDate(value string, serials bool) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, &DateParseError{Value: value, Reason: models.DropInvalidDate}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	if serials {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 && f <= maxExcelSerial {
			if t, err := excelize.ExcelDateToTime(f, false); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, &DateParseError{Value: value, Reason: models.DropInvalidDate}
}

// BulletinEndDate extracts the closing date of the bulletin period named in a file name.
func BulletinEndDate(filename string) (time.Time, error) {
	m := bulletinPattern.FindStringSubmatch(filename)
	if m == nil {
		return time.Time{}, &DateParseError{Value: filename, Reason: models.DropUnmatchedFilename}
	}
	d, _ := strconv.Atoi(m[4])
	mo, _ := strconv.Atoi(m[5])
	y, _ := strconv.Atoi(m[6])
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != mo || t.Year() != y {
		return time.Time{}, &DateParseError{Value: filename, Reason: models.DropInvalidDate}
	}
	return t, nil
}
