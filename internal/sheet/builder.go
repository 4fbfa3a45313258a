package sheet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/mohammed-shakir/feature-export/internal/attributes"
	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	"github.com/mohammed-shakir/feature-export/internal/core/model"
)

const (
	borderThin   = 1
	borderMedium = 2

	minAutoWidth = 8
	maxAutoWidth = 80
)

// Resolver maps a column selection onto per-record getters.
type Resolver interface {
	Resolve(columns []string) ([]attributes.Getter, error)
}

// BuildTable writes a header row followed by one row per feature and
// auto-fits every column. Row r+2 holds features[r].
func BuildTable(columns []string, features []model.Feature, r Resolver) ([]byte, error) {
	getters, err := resolve(columns, r)
	if err != nil {
		return nil, err
	}
	d := current()
	b, err := newBook(d)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.f.Close() }()

	headerStyle, err := b.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: solid(d.HeaderFill),
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	widths := make([]int, len(columns))
	if err := b.writeRow(1, toAny(columns), widths); err != nil {
		return nil, err
	}
	if err := b.styleRange(1, 1, 1, len(columns), headerStyle); err != nil {
		return nil, err
	}
	for i, f := range features {
		if err := b.writeRow(i+2, values(getters, f), widths); err != nil {
			return nil, err
		}
	}
	for c, w := range widths {
		if err := b.colWidth(c+1, c+1, autoWidth(w)); err != nil {
			return nil, err
		}
	}
	return b.bytes()
}

// BuildReport writes a merged title row, a styled header row and the data
// rows starting at row 3, with banding and borders around the table.
func BuildReport(title string, columns []string, features []model.Feature, r Resolver) ([]byte, error) {
	getters, err := resolve(columns, r)
	if err != nil {
		return nil, err
	}
	d := current()
	b, err := newBook(d)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.f.Close() }()

	span := max(d.TitleSpan, len(columns))
	if err := b.title(title, span, d.TitleSize); err != nil {
		return nil, err
	}

	const headerRow = 2
	if err := b.writeRow(headerRow, toAny(columns), nil); err != nil {
		return nil, err
	}
	for i, f := range features {
		if err := b.writeRow(headerRow+1+i, values(getters, f), nil); err != nil {
			return nil, err
		}
	}

	last := headerRow + len(features)
	styles := newStyleCache(b.f, d)
	for row := headerRow; row <= last; row++ {
		if err := b.styleTableRow(styles, row, headerRow, last, len(columns)); err != nil {
			return nil, err
		}
	}
	if err := b.colWidth(1, d.WidthSpan, d.ColumnWidth); err != nil {
		return nil, err
	}
	return b.bytes()
}

func resolve(columns []string, r Resolver) ([]attributes.Getter, error) {
	if len(columns) == 0 {
		return nil, &exporterr.PreconditionError{Reason: "no columns selected"}
	}
	getters, err := r.Resolve(columns)
	if err != nil {
		return nil, fmt.Errorf("resolve columns: %w", err)
	}
	return getters, nil
}

type book struct {
	f     *excelize.File
	sheet string
}

func newBook(d Defaults) (*book, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), d.SheetName); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	return &book{f: f, sheet: d.SheetName}, nil
}

func (b *book) bytes() ([]byte, error) {
	buf, err := b.f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// writeRow stores vals as text from column A; widths, when non-nil, tracks the widest cell per column.
func (b *book) writeRow(row int, vals []any, widths []int) error {
	cells := make([]any, len(vals))
	for i, v := range vals {
		s := Text(v)
		cells[i] = s
		if widths != nil {
			widths[i] = max(widths[i], utf8.RuneCountInString(s))
		}
	}
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	if err := b.f.SetSheetRow(b.sheet, start, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func (b *book) title(text string, span int, size float64) error {
	end, err := excelize.CoordinatesToCellName(span, 1)
	if err != nil {
		return fmt.Errorf("title span: %w", err)
	}
	if err := b.f.SetCellStr(b.sheet, "A1", text); err != nil {
		return fmt.Errorf("title: %w", err)
	}
	if span > 1 {
		if err := b.f.MergeCell(b.sheet, "A1", end); err != nil {
			return fmt.Errorf("merge title: %w", err)
		}
	}
	id, err := b.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: size}})
	if err != nil {
		return fmt.Errorf("title style: %w", err)
	}
	if err := b.f.SetCellStyle(b.sheet, "A1", end, id); err != nil {
		return fmt.Errorf("apply title style: %w", err)
	}
	return nil
}

func (b *book) styleRange(row1, col1, row2, col2, style int) error {
	from, err := excelize.CoordinatesToCellName(col1, row1)
	if err != nil {
		return fmt.Errorf("style range: %w", err)
	}
	to, err := excelize.CoordinatesToCellName(col2, row2)
	if err != nil {
		return fmt.Errorf("style range: %w", err)
	}
	if err := b.f.SetCellStyle(b.sheet, from, to, style); err != nil {
		return fmt.Errorf("apply style %s:%s: %w", from, to, err)
	}
	return nil
}

// styleTableRow applies thin inner borders and a medium outline, so one row
// needs at most three styles: first column, inner columns, last column.
func (b *book) styleTableRow(sc *styleCache, row, first, last, cols int) error {
	base := cellKind{
		header: row == first,
		stripe: row != first && row%2 == 0,
		top:    row == first,
		bottom: row == last,
	}
	if cols == 1 {
		k := base
		k.left, k.right = true, true
		id, err := sc.get(k)
		if err != nil {
			return err
		}
		return b.styleRange(row, 1, row, 1, id)
	}

	left := base
	left.left = true
	id, err := sc.get(left)
	if err != nil {
		return err
	}
	if err := b.styleRange(row, 1, row, 1, id); err != nil {
		return err
	}
	if cols > 2 {
		id, err := sc.get(base)
		if err != nil {
			return err
		}
		if err := b.styleRange(row, 2, row, cols-1, id); err != nil {
			return err
		}
	}
	right := base
	right.right = true
	id, err = sc.get(right)
	if err != nil {
		return err
	}
	return b.styleRange(row, cols, row, cols, id)
}

func (b *book) colWidth(from, to int, width float64) error {
	if from < 1 || to < from {
		return nil
	}
	a, err := excelize.ColumnNumberToName(from)
	if err != nil {
		return fmt.Errorf("column %d: %w", from, err)
	}
	z, err := excelize.ColumnNumberToName(to)
	if err != nil {
		return fmt.Errorf("column %d: %w", to, err)
	}
	if err := b.f.SetColWidth(b.sheet, a, z, width); err != nil {
		return fmt.Errorf("width %s:%s: %w", a, z, err)
	}
	return nil
}

type cellKind struct {
	header, stripe           bool
	top, bottom, left, right bool
}

type styleCache struct {
	f   *excelize.File
	d   Defaults
	ids map[cellKind]int
}

func newStyleCache(f *excelize.File, d Defaults) *styleCache {
	return &styleCache{f: f, d: d, ids: map[cellKind]int{}}
}

func (s *styleCache) get(k cellKind) (int, error) {
	if id, ok := s.ids[k]; ok {
		return id, nil
	}
	st := &excelize.Style{
		Border: []excelize.Border{
			edge("left", k.left),
			edge("right", k.right),
			edge("top", k.top),
			edge("bottom", k.bottom),
		},
	}
	switch {
	case k.header:
		st.Font = &excelize.Font{Bold: true}
		st.Fill = solid(s.d.HeaderFill)
	case k.stripe:
		st.Fill = solid(s.d.StripeFill)
	}
	id, err := s.f.NewStyle(st)
	if err != nil {
		return 0, fmt.Errorf("table style: %w", err)
	}
	s.ids[k] = id
	return id, nil
}

func edge(side string, outer bool) excelize.Border {
	style := borderThin
	if outer {
		style = borderMedium
	}
	return excelize.Border{Type: side, Color: "000000", Style: style}
}

func solid(color string) excelize.Fill {
	return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
}

func autoWidth(runes int) float64 {
	w := float64(runes)*1.2 + 2
	if w < minAutoWidth {
		return minAutoWidth
	}
	if w > maxAutoWidth {
		return maxAutoWidth
	}
	return w
}

func values(getters []attributes.Getter, f model.Feature) []any {
	out := make([]any, len(getters))
	for i, g := range getters {
		out[i] = g(f)
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Text renders a cell value the way it is written into the sheet; nil is "".
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
