package lens

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/charts"
)

const bottomTableMaxRecords = 10

// chart color constants
var greenTextColor = charts.ColorGreenAlt3
var orangeTextColor = charts.ColorOrangeAlt1.WithAdjustHSL(0, .2, 0)
var redTextColor = charts.ColorRed.WithAdjustHSL(0, .1, -.1)

// ReportMetrics summarizes an enable run.
type ReportMetrics struct {
	GeneratedAt   time.Time        `json:"generated_at"`
	RunDuration   int64            `json:"run_ms"`
	FileCount     int              `json:"file_count"`
	FunctionCount int              `json:"function_count"`
	RequestCount  int              `json:"request_count"`
	Applied       int              `json:"applied_count"`
	Dropped       int              `json:"dropped_count"`
	Unmatched     int              `json:"unmatched_count"`
	Functions     []FunctionResult `json:"functions"`
	Dropouts      []DropDetail     `json:"dropped_requests"`
}

// DropDetail describes one request discarded by a transform.
type DropDetail struct {
	Ident    string `json:"ident"`
	Line     int    `json:"line"`
	Position string `json:"position"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// ReportMap represents a report as an extensible map structure.
// Custom implementations can add additional fields before writing to JSON.
type ReportMap map[string]interface{}

// NewReportMetrics builds the metrics of an enable result.
func NewReportMetrics(startTime time.Time, result EnableResult) ReportMetrics {
	applied, dropped, unmatched := result.Totals()
	report := ReportMetrics{
		GeneratedAt:   startTime,
		RunDuration:   time.Since(startTime).Milliseconds(),
		FileCount:     len(result.Files),
		FunctionCount: len(result.Functions),
		Applied:       applied,
		Dropped:       dropped,
		Unmatched:     unmatched,
		Functions:     result.Functions,
	}
	for _, fr := range result.Functions {
		report.RequestCount += fr.Requests
		for _, d := range fr.Diagnostics {
			report.Dropouts = append(report.Dropouts, DropDetail{
				Ident:    fr.Ident,
				Line:     d.Request.Line,
				Position: d.Request.Position.String(),
				Code:     d.Request.Code,
				Error:    d.Err.Error(),
			})
		}
	}
	return report
}

// BuildReportMap converts the metrics into a ReportMap that can be extended before writing to JSON.
func BuildReportMap(report ReportMetrics) (ReportMap, error) {
	reportBytes, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report to bytes failed: %w", err)
	}

	var reportMap ReportMap
	if err := json.Unmarshal(reportBytes, &reportMap); err != nil {
		return nil, fmt.Errorf("unmarshal report to map failed: %w", err)
	}
	return reportMap, nil
}

// WriteToFile writes the report map to a JSON file.
func (rm ReportMap) WriteToFile(path string) error {
	if path == "" {
		return nil
	}

	encodedReport, err := json.MarshalIndent(rm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report map failed: %w", err)
	}
	if err := os.WriteFile(path, encodedReport, 0644); err != nil {
		return fmt.Errorf("write report file failed: %w", err)
	}
	return nil
}

// ReadReportFile loads metrics previously written with WriteToFile.
func ReadReportFile(path string) (ReportMetrics, error) {
	var report ReportMetrics
	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("read report file failed: %w", err)
	} else if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("invalid report file %s: %w", path, err)
	}
	return report, nil
}

// WriteReportCharts renders the report to path, the format is selected by the file extension.
func WriteReportCharts(path string, report ReportMetrics) error {
	var outputType string
	if strings.HasSuffix(path, ".png") {
		outputType = charts.ChartOutputPNG
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		outputType = charts.ChartOutputJPG
	} else if strings.HasSuffix(path, ".svg") {
		outputType = charts.ChartOutputSVG
	} else {
		return fmt.Errorf("unhandled chart file type: %s", path)
	}

	painterOpt := charts.PainterOptions{
		OutputFormat: outputType,
		Width:        1024,
		Height:       640,
	}
	if buf, err := RenderReportCharts(painterOpt, report); err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

// RenderReportCharts renders the injection gauge and the function table.
func RenderReportCharts(painterOpt charts.PainterOptions, report ReportMetrics) ([]byte, error) {
	p := charts.NewPainter(painterOpt)
	if chartBox, err := renderChartsToPainter(p, report); err != nil {
		return nil, err
	} else if chartBox.Height() < p.Height()-128 || chartBox.Height() > p.Height() {
		// re-render with a painter sized to the content
		painterOpt.Height = max(chartBox.Height(), 200)
		p = charts.NewPainter(painterOpt)
		if _, err := renderChartsToPainter(p, report); err != nil {
			return nil, err
		}
	}
	return p.Bytes()
}

func renderChartsToPainter(p *charts.Painter, report ReportMetrics) (charts.Box, error) {
	const chartPadding = 10
	resultBox := charts.NewBoxEqual(0)
	resultBox.Right = p.Width()
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p = p.Child(charts.PainterPaddingOption(charts.NewBox(0, chartPadding, chartPadding, chartPadding)))

	painters, err := p.LayoutByRows().
		Row().Height("128").Columns("gauge").
		Row().Columns("bottom").
		Build()
	if err != nil {
		return resultBox, fmt.Errorf("error building chart layout: %w", err)
	}
	gauge := painters["gauge"]
	bottom := painters["bottom"]

	gaugeTheme := charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			{ /* Golden yellow */ R: 220, G: 210, B: 100, A: 255},
			charts.ColorRed,
		})
	total := max(report.RequestCount, 1)
	gaugeOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(report.Applied)}, {float64(report.Unmatched)}, {float64(report.Dropped)},
	})
	gaugeOpt.StackSeries = charts.Ptr(true)
	gaugeOpt.Theme = gaugeTheme
	gaugeOpt.Title.Text = "Injected Requests"
	gaugeOpt.XAxis.Unit = axisUnitForMax(total)
	gaugeOpt.YAxis.Show = charts.Ptr(false)
	gaugeOpt.SeriesList[2].Label.Show = charts.Ptr(true)
	gaugeOpt.SeriesList[2].Label.FontStyle.FontColor = firstValueSeriesRankColor(gaugeOpt.Theme, gaugeOpt.SeriesList)
	gaugeOpt.SeriesList[2].Label.ValueFormatter = func(f float64) string {
		return charts.FormatValueHumanize(100.0*float64(report.Applied)/float64(total), 1, false) + "%"
	}
	if err := gauge.HorizontalBarChart(gaugeOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}
	gauge.Text("("+strconv.Itoa(report.FunctionCount)+" functions in "+strconv.Itoa(report.FileCount)+" files)",
		180, 37, 0, charts.FontStyle{
			FontSize:  8,
			FontColor: gaugeOpt.Theme.GetTitleTextColor(),
			Font:      charts.GetDefaultFont(),
		})
	resultBox.Bottom += gauge.Height()

	if len(report.Functions) == 0 {
		return resultBox, nil
	}
	rows := make([][]string, 0, len(report.Functions))
	for _, fr := range report.Functions {
		status := "ok"
		if fr.Error != "" {
			status = "failed"
		}
		rows = append(rows, []string{shortIdent(fr.Ident), strconv.Itoa(fr.Applied), strconv.Itoa(fr.Unmatched),
			strconv.Itoa(fr.Dropped), status})
	}
	slices.SortStableFunc(rows, func(a, b []string) int {
		aCount, _ := strconv.Atoi(a[3])
		bCount, _ := strconv.Atoi(b[3])
		return bCount - aCount // most dropped first
	})
	if len(rows) > bottomTableMaxRecords {
		rows = rows[:bottomTableMaxRecords]
	}

	tableTitle := "Functions"
	tableTitleFont := charts.FontStyle{
		FontSize:  12,
		FontColor: gaugeTheme.GetTitleTextColor(),
		Font:      charts.GetDefaultFont(),
	}
	tableTitleBox := bottom.MeasureText(tableTitle, 0, tableTitleFont)
	bottom.Text(tableTitle, 10, tableTitleBox.Height(), 0, tableTitleFont)
	rowColors := []charts.Color{
		{R: 240, G: 240, B: 240, A: 255},
		charts.ColorTransparent,
	}
	if len(rows)%2 == 0 {
		rowColors[0], rowColors[1] = rowColors[1], rowColors[0]
	}
	defaultCellFontStyle := charts.FontStyle{
		FontSize:  12,
		FontColor: charts.Color{R: 50, G: 50, B: 50, A: 255},
		Font:      charts.GetDefaultFont(),
	}
	bottomOpt := charts.TableChartOption{
		Header:                []string{"Function", "Applied", "Unmatched", "Dropped", "Status"},
		Data:                  rows,
		HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
		RowBackgroundColors:   rowColors,
		Padding:               charts.NewBoxEqual(10),
		Spans:                 []int{28, 8, 8, 8, 8},
		TextAligns:            []string{charts.AlignLeft, charts.AlignCenter, charts.AlignCenter, charts.AlignCenter, charts.AlignLeft},
		CellModifier: func(cell charts.TableCell) charts.TableCell {
			if cell.Row == 0 {
				return cell
			}
			cell.FontStyle = defaultCellFontStyle

			switch cell.Column {
			case 2: // unmatched
				if cell.Text != "0" {
					cell.FontStyle.FontColor = orangeTextColor
				}
			case 3: // dropped
				if cell.Text != "0" {
					cell.FontStyle.FontColor = redTextColor
				} else {
					cell.FontStyle.FontColor = greenTextColor
				}
			case 4:
				if cell.Text != "ok" {
					cell.FontStyle.FontColor = redTextColor
				}
			}
			return cell
		},
	}
	tablePainter := bottom.Child(charts.PainterPaddingOption(charts.NewBox(10, tableTitleBox.Height()+8, 0, 0)))
	if err := tablePainter.TableChart(bottomOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering table: %w", err)
	}
	// charts does not return the table size, render directly to measure it
	bottomOpt.Width = bottom.Width()
	if tp, _ := charts.TableOptionRenderDirect(bottomOpt); tp != nil {
		resultBox.Bottom += tableTitleBox.Height() + tp.Height()
	} else {
		resultBox.Bottom += bottom.Height()
	}
	return resultBox, nil
}

func shortIdent(ident string) string {
	if index := strings.Index(ident, ":"); index >= 0 {
		return ident[index+1:]
	}
	return ident
}

func firstValueSeriesRankColor(theme charts.ColorPalette, sl charts.HorizontalBarSeriesList) charts.Color {
	sum := sl.SumSeriesValues()
	if sl[0].Values[0] < sum[0]/2 {
		return redTextColor
	} else if sl[0].Values[0] < sum[0]*.8 {
		return orangeTextColor
	} else {
		return theme.GetLabelTextColor()
	}
}

func axisUnitForMax(val int) float64 {
	if val >= 8000 {
		return 2000
	} else if val > 2000 {
		return 1000
	} else if val >= 800 {
		return 200
	} else if val > 200 {
		return 100
	} else if val >= 80 {
		return 20
	} else if val > 20 {
		return 10
	} else if val >= 10 {
		return 2
	} else {
		return 1
	}
}
