package curriculum

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet names read by LoadWorkbook. Each sheet has a header row naming its
// columns (matched case-insensitively), then one record per row.
const (
	SheetCurriculums = "Curriculums"
	SheetUnits       = "Units"
	SheetTopics      = "Topics"
	SheetSubTopics   = "SubTopics"
)

// LoadWorkbook reads a curriculum maintained as an XLSX workbook.
func LoadWorkbook(path string) (*MemoryRepository, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r Records

	if err := eachRow(f, SheetCurriculums, func(row sheetRow) error {
		r.Curriculums = append(r.Curriculums, Curriculum{
			ID:    row.get("id"),
			Name:  row.get("name"),
			Level: row.get("level"),
		})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(f, SheetUnits, func(row sheetRow) error {
		r.Units = append(r.Units, Unit{
			ID:           row.get("id"),
			Name:         row.get("name"),
			CurriculumID: row.get("curriculum_id"),
		})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(f, SheetTopics, func(row sheetRow) error {
		idx, err := row.number("order_index")
		if err != nil {
			return err
		}
		r.Topics = append(r.Topics, Topic{
			ID:         row.get("id"),
			Name:       row.get("name"),
			OrderIndex: idx,
			UnitID:     row.get("unit_id"),
		})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(f, SheetSubTopics, func(row sheetRow) error {
		idx, err := row.number("order_index")
		if err != nil {
			return err
		}
		r.SubTopics = append(r.SubTopics, SubTopic{
			ID:                row.get("id"),
			Name:              row.get("name"),
			OrderIndex:        idx,
			ContentGuidelines: row.get("content_guidelines"),
			TopicID:           row.get("topic_id"),
		})
		return nil
	}); err != nil {
		return nil, err
	}

	repo := NewMemoryRepository(r)
	cur, units, topics, subs := repo.Counts()
	slog.Info("curriculum workbook loaded",
		"path", path,
		"curriculums", cur,
		"units", units,
		"topics", topics,
		"sub_topics", subs,
	)
	return repo, nil
}

type sheetRow struct {
	sheet  string
	line   int
	header map[string]int
	cells  []string
}

func (r sheetRow) get(col string) string {
	i, ok := r.header[col]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

func (r sheetRow) number(col string) (int, error) {
	v := r.get(col)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s row %d: %s %q is not an integer", r.sheet, r.line, col, v)
	}
	return n, nil
}

func eachRow(f *excelize.File, sheet string, fn func(sheetRow) error) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("reading sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil
	}

	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := header["id"]; !ok {
		return fmt.Errorf("sheet %s: missing id column", sheet)
	}

	for i, cells := range rows[1:] {
		row := sheetRow{sheet: sheet, line: i + 2, header: header, cells: cells}
		if row.get("id") == "" {
			continue // blank or spacer row
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}
