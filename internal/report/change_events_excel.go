// Package report 生成变化事件审计 Excel 文件（用于补算结果导出）
package report

import (
	"bytes"
	"fmt"
	"sort"

	"wisefido-setpoint/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	EventsSheet  = "Change Events"
	SummarySheet = "Summary"
	timeLayout   = "2006-01-02 15:04:05"
)

// ChangeEventsHeader 事件表头
var ChangeEventsHeader = []string{
	"Room",
	"Device Type",
	"Device Name",
	"Point Name",
	"Point Description",
	"Change Time",
	"Previous Value",
	"Current Value",
	"Change Type",
	"Change Detail",
	"Change Magnitude",
	"Detection Time",
}

var columnWidths = []float64{12, 15, 20, 20, 30, 20, 15, 15, 15, 30, 18, 20}

// ExportChangeEvents 生成审计文件：事件明细表 + 运行汇总表
// 事件按 房间、变化时间 排序；result 为 nil 时不生成汇总表
func ExportChangeEvents(events []models.ChangeEvent, result *models.RunResult) ([]byte, error) {
	f := excelize.NewFile()

	if _, err := f.NewSheet(EventsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1 后重新定位活动工作表
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	if index, err := f.GetSheetIndex(EventsSheet); err == nil {
		f.SetActiveSheet(index)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, EventsSheet, 1, toRow(ChangeEventsHeader)); err != nil {
		f.Close()
		return nil, err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(ChangeEventsHeader))
	if err := f.SetCellStyle(EventsSheet, "A1", lastCol+"1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(EventsSheet, col, col, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	sorted := make([]models.ChangeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RoomID != sorted[j].RoomID {
			return sorted[i].RoomID < sorted[j].RoomID
		}
		return sorted[i].ChangeTime.Before(sorted[j].ChangeTime)
	})

	for i, e := range sorted {
		row := []interface{}{
			e.RoomID,
			e.DeviceType,
			e.DeviceName,
			e.PointName,
			e.PointDescription,
			e.ChangeTime.Format(timeLayout),
			e.PreviousValue,
			e.CurrentValue,
			string(e.ChangeType),
			e.ChangeDetail,
			e.ChangeMagnitude,
			e.DetectionTime.Format(timeLayout),
		}
		if err := writeRow(f, EventsSheet, i+2, row); err != nil {
			f.Close()
			return nil, err
		}
	}

	// 冻结表头
	if err := f.SetPanes(EventsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	if result != nil {
		if err := writeSummary(f, result); err != nil {
			f.Close()
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, result *models.RunResult) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Status", string(result.Status)},
		{"Started At", result.StartedAt.Format(timeLayout)},
		{"Processing Time", result.ProcessingTime.String()},
		{"Total Rooms", result.TotalRooms},
		{"Successful Rooms", result.SuccessfulRooms},
		{"Total Changes", result.TotalChanges},
		{"Stored Count", result.StoredCount},
		{"Attempts", result.Attempts},
	}
	if result.Error != "" {
		rows = append(rows, []interface{}{"Error", result.Error})
	}
	if result.PersistError != "" {
		rows = append(rows, []interface{}{"Persist Error", result.PersistError})
	}
	for _, room := range result.ErrorRooms {
		rows = append(rows, []interface{}{"Error Room", room})
	}

	rooms := make([]string, 0, len(result.RoomChanges))
	for room := range result.RoomChanges {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		rows = append(rows, []interface{}{"Room Changes: " + room, result.RoomChanges[room]})
	}

	for i, row := range rows {
		if err := writeRow(f, SummarySheet, i+1, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SummarySheet, "A", "A", 28)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
