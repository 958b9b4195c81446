package workbook

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
)

// Sheet and header names of the written workbooks.
const (
	SheetMaster        = "質問マスタ"
	SheetMerged        = "data"
	SheetExtractData   = "元データ"
	SheetExtractInfo   = "基準ファイル情報"
	SheetExtractMap    = "基準質問マッピング"
	HeaderQuestionText = "質問文"
	HeaderFirstSource  = "初出ファイル"
	HeaderSourceFile   = "ソースファイル"
)

// sheetWriter accumulates sheets into one workbook.
type sheetWriter struct {
	f     *excelize.File
	first bool
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{f: excelize.NewFile(), first: true}
}

// add writes header and rows as a new sheet with the stream writer.
func (w *sheetWriter) add(name string, header []string, rows [][]any) error {
	if w.first {
		if err := w.f.SetSheetName("Sheet1", name); err != nil {
			return err
		}
		w.first = false
	} else if _, err := w.f.NewSheet(name); err != nil {
		return err
	}
	sw, err := w.f.NewStreamWriter(name)
	if err != nil {
		return err
	}
	hdr := make([]any, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	if err := sw.SetRow("A1", hdr); err != nil {
		return err
	}
	for i, r := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := make([]any, len(r))
		for j, v := range r {
			if v != nil {
				vals[j] = table.CellString(v)
			}
		}
		if err := sw.SetRow(cellName, vals); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", name, i+2, err)
		}
	}
	return sw.Flush()
}

func (w *sheetWriter) writeTo(out io.Writer) error {
	defer w.f.Close()
	return w.f.Write(out)
}

// WriteMaster writes the question master: question text, first-appearance
// source and one code column per source named after the source.
func WriteMaster(out io.Writer, m *question.Master) error {
	header := append([]string{HeaderQuestionText, HeaderFirstSource}, m.Sources()...)
	rows := make([][]any, 0, m.Len())
	for _, r := range m.Rows() {
		row := make([]any, len(r))
		for i, v := range r {
			if v != "" {
				row[i] = v
			}
		}
		rows = append(rows, row)
	}
	w := newSheetWriter()
	if err := w.add(SheetMaster, header, rows); err != nil {
		return fmt.Errorf("write master: %w", err)
	}
	return w.writeTo(out)
}

// WriteDataset writes the merged dataset with each row's source file in a
// trailing column.
func WriteDataset(out io.Writer, d *aggregate.Dataset) error {
	header := append(d.Columns(), HeaderSourceFile)
	rows := make([][]any, len(d.Table.Rows))
	for i, r := range d.Table.Rows {
		row := make([]any, 0, len(r)+1)
		row = append(row, r...)
		rows[i] = append(row, d.Origin[i])
	}
	w := newSheetWriter()
	if err := w.add(SheetMerged, header, rows); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return w.writeTo(out)
}

// WriteExtract writes a recipient workbook: the data, the code scheme it was
// encoded with, and the documentation of each included question.
func WriteExtract(out io.Writer, ex *aggregate.Extract) error {
	w := newSheetWriter()
	if err := w.add(SheetExtractData, ex.Table.Columns, ex.Table.Rows); err != nil {
		return fmt.Errorf("write extract %s: %w", ex.Recipient, err)
	}
	info := [][]any{
		{"受信者", ex.Recipient},
		{"基準ファイル", ex.Base},
		{"コード体系", ex.Scheme},
		{"行数", ex.Table.Len()},
	}
	if err := w.add(SheetExtractInfo, []string{"項目", "値"}, info); err != nil {
		return fmt.Errorf("write extract %s: %w", ex.Recipient, err)
	}
	meta := make([][]any, len(ex.Meta))
	for i, m := range ex.Meta {
		meta[i] = []any{m.Code, m.Condition, m.Text, m.Type, m.Source}
	}
	if err := w.add(SheetExtractMap, []string{"番号", "条件", "内容", "形式", "ファイル"}, meta); err != nil {
		return fmt.Errorf("write extract %s: %w", ex.Recipient, err)
	}
	return w.writeTo(out)
}

// ExtractFileName is the output file name for a recipient's extract.
func ExtractFileName(recipient string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return r.Replace(strings.TrimSpace(recipient)) + "_集計結果.xlsx"
}
