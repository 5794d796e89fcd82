package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/xuri/excelize/v2"
)

// ExportFormat selects the results file type.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

const (
	resultsSheet = "Hasil"
	roomsSheet   = "Ruangan"
)

var resultsHeader = []string{"No", "Nama", "Ruangan", "Jenis", "Hadir", "English", "Arabic", "Al-Quran", "Rata-rata", "Rank"}

// ExportService renders exam results for download.
type ExportService struct {
	store    *localcache.Store
	stats    *StatsService
	activity *ActivityService
	log      zerolog.Logger
}

// NewExportService creates a new ExportService.
func NewExportService(store *localcache.Store, stats *StatsService, activity *ActivityService, log zerolog.Logger) *ExportService {
	return &ExportService{
		store:    store,
		stats:    stats,
		activity: activity,
		log:      log.With().Str("component", "export_service").Logger(),
	}
}

// ParseExportFormat defaults to CSV.
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch ExportFormat(s) {
	case "", ExportCSV:
		return ExportCSV, true
	case ExportXLSX:
		return ExportXLSX, true
	}
	return "", false
}

// resultRow is one participant line. Missing scores stay nil so the
// spreadsheet can leave the cell empty while CSV prints "-".
type resultRow struct {
	no      int
	student model.Student
	average *float64
	rank    int
}

func (s *ExportService) rows(ctx context.Context) ([]resultRow, error) {
	students, err := localcache.Load[[]model.Student](ctx, s.store, model.CollectionStudents)
	if err != nil {
		return nil, err
	}
	ranking, err := s.stats.Ranking(ctx, "")
	if err != nil {
		return nil, err
	}
	ranks := make(map[string]int, len(ranking))
	for _, r := range ranking {
		ranks[r.ID] = r.Rank
	}

	out := make([]resultRow, 0, len(students))
	for i, st := range students {
		row := resultRow{no: i + 1, student: st, rank: ranks[st.ID]}
		if st.Scores.Complete() {
			avg := st.Scores.Average()
			row.average = &avg
		}
		if row.student.Type == "" {
			row.student.Type = model.StudentTypeSiswa
		}
		out = append(out, row)
	}
	return out, nil
}

// Write renders the results in format to w and records the export.
func (s *ExportService) Write(ctx context.Context, actor model.Actor, format ExportFormat, w io.Writer) error {
	rows, err := s.rows(ctx)
	if err != nil {
		return err
	}

	switch format {
	case ExportXLSX:
		rooms, err := s.stats.RoomStats(ctx)
		if err != nil {
			return err
		}
		err = writeResultsXLSX(w, rows, rooms)
		if err != nil {
			return err
		}
	default:
		if err := writeResultsCSV(w, rows); err != nil {
			return err
		}
	}

	s.activity.record(ctx, actor, ActionExport, fmt.Sprintf("Exported results to %s", formatLabel(format)))
	s.log.Info().Str("format", string(format)).Int("rows", len(rows)).Msg("Results exported")
	return nil
}

func formatLabel(f ExportFormat) string {
	if f == ExportXLSX {
		return "XLSX"
	}
	return "CSV"
}

func writeResultsCSV(w io.Writer, rows []resultRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultsHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rank := "-"
		if r.rank > 0 {
			rank = strconv.Itoa(r.rank)
		}
		avg := "-"
		if r.average != nil {
			avg = strconv.FormatFloat(*r.average, 'f', 1, 64)
		}
		rec := []string{
			strconv.Itoa(r.no),
			r.student.Name,
			r.student.Class,
			string(r.student.Type),
			yesNo(r.student.Attended),
			scoreText(r.student.Scores.English),
			scoreText(r.student.Scores.Arabic),
			scoreText(r.student.Scores.Alquran),
			avg,
			rank,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeResultsXLSX(w io.Writer, rows []resultRow, rooms []model.RoomStats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, resultsSheet, 1, toCells(resultsHeader)); err != nil {
		return err
	}
	for i, r := range rows {
		cells := []interface{}{
			r.no,
			r.student.Name,
			r.student.Class,
			string(r.student.Type),
			yesNo(r.student.Attended),
			scoreCell(r.student.Scores.English),
			scoreCell(r.student.Scores.Arabic),
			scoreCell(r.student.Scores.Alquran),
			nil,
			nil,
		}
		if r.average != nil {
			cells[8] = round1(*r.average)
		}
		if r.rank > 0 {
			cells[9] = r.rank
		}
		if err := setRow(f, resultsSheet, i+2, cells); err != nil {
			return err
		}
	}
	formatSheet(f, resultsSheet, len(resultsHeader), []float64{6, 32, 12, 10, 8, 10, 10, 10, 11, 8})

	if _, err := f.NewSheet(roomsSheet); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}
	roomHeader := []string{"Ruangan", "Total", "Hadir", "Selesai", "Rata-rata"}
	if err := setRow(f, roomsSheet, 1, toCells(roomHeader)); err != nil {
		return err
	}
	for i, rs := range rooms {
		if err := setRow(f, roomsSheet, i+2, []interface{}{rs.Room, rs.Total, rs.Attended, rs.Completed, rs.AvgScore}); err != nil {
			return err
		}
	}
	formatSheet(f, roomsSheet, len(roomHeader), []float64{14, 8, 8, 8, 11})

	return f.Write(w)
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// formatSheet bolds the header, adds a filter and sets column widths.
func formatSheet(f *excelize.File, sheet string, cols int, widths []float64) {
	last, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return
	}
	if bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(sheet, "A1", last+"1", bold)
	}
	_ = f.AutoFilter(sheet, "A1:"+last+"1", nil)
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return
		}
		_ = f.SetColWidth(sheet, col, col, w)
	}
}

func toCells(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func scoreText(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func scoreCell(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func yesNo(b bool) string {
	if b {
		return "Ya"
	}
	return "Tidak"
}
