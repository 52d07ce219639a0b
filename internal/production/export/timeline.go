// Package export renders order timelines as spreadsheets for planners.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"atelier_backend/internal/production/transport"
)

const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	stagesSheet = "Stages"
	actorsSheet = "Actors"
)

var (
	stageHeader = []any{"Stage", "Code", "State", "Started", "Ended", "Duration (h)", "Quantity", "Rework", "Shortage"}
	actorHeader = []any{"Stage", "Actor kind", "Actor", "Started", "Completed", "Duration (h)", "Quantity", "Units", "Rework", "Closed"}
)

// Filename is the attachment name of an exported timeline.
func Filename(tl transport.TimelineResponse) string {
	return fmt.Sprintf("timeline-%s-v%d.xlsx", tl.OrderID, tl.Version)
}

// WriteTimeline writes the timeline as a workbook with one row per stage and
// one row per actor interval.
func WriteTimeline(w io.Writer, tl transport.TimelineResponse) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", stagesSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(actorsSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	stageRows := [][]any{stageHeader}
	actorRows := [][]any{actorHeader}
	for _, st := range tl.Stages {
		stageRows = append(stageRows, []any{
			st.Stage.Name, st.Stage.Code, stageState(st),
			timeCell(st.StartedAt), timeCell(st.EndedAt), hours(st.DurationSeconds),
			st.Quantity, st.ReworkQuantity, st.Shortage,
		})
		for _, a := range st.Actors {
			started := a.StartedAt
			actorRows = append(actorRows, []any{
				st.Stage.Code, a.Actor.Kind, a.Actor.ID,
				timeCell(&started), timeCell(a.CompletedAt), hours(a.DurationSeconds),
				a.Quantity, a.Units, a.ReworkQuantity, a.Closed,
			})
		}
	}

	if err := writeRows(f, stagesSheet, stageRows, bold); err != nil {
		return err
	}
	if err := writeRows(f, actorsSheet, actorRows, bold); err != nil {
		return err
	}
	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return f.SetRowStyle(sheet, 1, 1, headerStyle)
}

func stageState(st transport.StageTimelineResponse) string {
	switch {
	case st.Skipped:
		return "skipped"
	case st.Active:
		return "active"
	case st.Completed:
		return "completed"
	default:
		return "not_started"
	}
}

func timeCell(t *time.Time) any {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func hours(seconds int64) float64 {
	return float64(seconds) / 3600
}
