package inquiry

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/internal/errs"
)

// MaxImportBytes bounds the size of an import file.
const MaxImportBytes = 10 << 20

var requiredColumns = []string{"inquiry_number", "customer_number", "machine", "material", "part_name"}

// RowError reports a row that could not be imported. Row counts the header
// as line 1.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult summarises a bulk import.
type ImportResult struct {
	Imported []uint     `json:"imported"`
	Pending  []uint     `json:"pending"`
	Errors   []RowError `json:"errors"`
}

// Import reads part-requests from a delimited text file with a header row and
// creates each row through Create. Rows fail individually; a part stored
// without an estimate is listed under Pending as well as Imported.
func (s *Service) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	if len(data) > MaxImportBytes {
		return nil, invalid("import exceeds %d bytes", MaxImportBytes)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, invalid("malformed import file: %v", err)
	}
	if len(records) < 2 {
		return nil, invalid("import needs a header and at least one row")
	}

	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		columns[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, invalid("missing columns: %s", strings.Join(missing, ", "))
	}

	out := &ImportResult{Imported: []uint{}, Pending: []uint{}, Errors: []RowError{}}
	for i, record := range records[1:] {
		line := i + 2
		row := importRow{columns: columns, record: record}
		in, err := row.input()
		if err != nil {
			out.Errors = append(out.Errors, RowError{Row: line, Error: err.Error()})
			continue
		}
		part, err := s.Create(ctx, in)
		switch {
		case part != nil && errors.Is(err, errs.ErrExternalService):
			out.Imported = append(out.Imported, part.ID)
			out.Pending = append(out.Pending, part.ID)
		case err != nil:
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out.Errors = append(out.Errors, RowError{Row: line, Error: err.Error()})
		default:
			out.Imported = append(out.Imported, part.ID)
		}
	}

	log.WithFields(log.Fields{
		"imported": len(out.Imported),
		"pending":  len(out.Pending),
		"failed":   len(out.Errors),
	}).Info("part-request import finished")
	return out, nil
}

// delimiter picks tab, semicolon or comma by frequency in the header line.
func delimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	best, count := ',', bytes.Count(header, []byte{','})
	for _, c := range []rune{'\t', ';'} {
		if n := bytes.Count(header, []byte(string(c))); n > count {
			best, count = c, n
		}
	}
	return best
}

type importRow struct {
	columns map[string]int
	record  []string
}

func (r importRow) get(name string) string {
	i, ok := r.columns[name]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// number parses a decimal, accepting a decimal comma. Empty cells are zero.
func (r importRow) number(name string) (decimal.Decimal, error) {
	v := r.get(name)
	if v == "" {
		return decimal.Zero, nil
	}
	if !strings.Contains(v, ".") {
		v = strings.ReplaceAll(v, ",", ".")
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, invalid("%s: %q is not a number", name, r.get(name))
	}
	return d, nil
}

func (r importRow) optional(name string) (*decimal.Decimal, error) {
	if r.get(name) == "" {
		return nil, nil
	}
	d, err := r.number(name)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r importRow) input() (PartInput, error) {
	in := PartInput{
		CustomerNumber: r.get("customer_number"),
		InquiryNumber:  r.get("inquiry_number"),
		InquiryName:    r.get("inquiry_name"),
		PartName:       r.get("part_name"),
		Machine:        r.get("machine"),
		Material:       r.get("material"),
		Quantity:       1,
	}
	if v := r.get("order_number"); v != "" {
		in.OrderNumber = &v
	}
	if v := r.get("quantity"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return in, invalid("quantity: %q is not a whole number", v)
		}
		in.Quantity = q
	}

	var err error
	for name, dst := range map[string]*decimal.Decimal{
		"part_volume_cm3":    &in.PartVolumeCM3,
		"support_volume_cm3": &in.SupportVolumeCM3,
		"part_height_mm":     &in.PartHeightMM,
		"projected_area_cm2": &in.ProjectedAreaCM2,
	} {
		if *dst, err = r.number(name); err != nil {
			return in, err
		}
	}
	for name, dst := range map[string]**decimal.Decimal{
		"prep_time_h":          &in.PrepTimeH,
		"post_handling_time_h": &in.PostHandlingTimeH,
		"blasting_time_h":      &in.BlastingTimeH,
		"leak_testing_time_h":  &in.LeakTestingTimeH,
		"qc_time_h":            &in.QCTimeH,
	} {
		if *dst, err = r.optional(name); err != nil {
			return in, err
		}
	}

	if v := r.get("requested_delivery_date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return in, invalid("requested_delivery_date: %q is not YYYY-MM-DD", v)
		}
		in.RequestedDeliveryDate = &d
	}
	if v := r.get("lead_time_flexible"); v != "" {
		flexible, err := strconv.ParseBool(v)
		if err != nil {
			return in, invalid("lead_time_flexible: %q is not a boolean", v)
		}
		in.LeadTimeFlexible = flexible
	}
	return in, nil
}
