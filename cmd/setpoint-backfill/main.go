// setpoint-backfill 对任意历史窗口重新执行一次变化检测
//
//	setpoint-backfill -start 2026-03-01T00:00:00Z -end 2026-03-02T00:00:00Z -rooms R101,R102 -xlsx audit.xlsx
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wisefido-setpoint/internal/common/database"
	"wisefido-setpoint/internal/common/logger"
	"wisefido-setpoint/internal/config"
	"wisefido-setpoint/internal/models"
	"wisefido-setpoint/internal/report"
	"wisefido-setpoint/internal/repository"
	"wisefido-setpoint/internal/runner"
	"wisefido-setpoint/internal/service"

	"go.uber.org/zap"
)

func main() {
	var (
		startFlag = flag.String("start", "", "window start (RFC3339)")
		endFlag   = flag.String("end", "", "window end (RFC3339, default now)")
		roomsFlag = flag.String("rooms", "", "comma separated room ids (default all)")
		persist   = flag.Bool("persist", false, "append detected events to setpoint_change_events")
		xlsxPath  = flag.String("xlsx", "", "write an audit workbook to this path")
	)
	flag.Parse()

	window, err := parseWindow(*startFlag, *endFlag, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "setpoint-backfill")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect database", zap.Error(err))
	}
	defer database.Close(db)

	opts := service.RunnerOptions(cfg)
	opts.Rooms = splitRooms(*roomsFlag)
	// 补算窗口可能很长，不设整体截止时间
	opts.RunTimeout = 0

	res, orch := service.NewDetectionPipeline(cfg, db, log)
	var sink runner.ChangeSink
	if *persist {
		sink = repository.NewChangeEventsRepository(db, log)
	}
	r := runner.NewRunner(res, orch, sink, service.NewFallback(cfg, log), log, opts)

	result := r.RunWindow(ctx, window)
	printSummary(result)

	if *xlsxPath != "" {
		data, err := report.ExportChangeEvents(result.Events, result)
		if err != nil {
			log.Fatal("Failed to build audit workbook", zap.Error(err))
		}
		if err := os.WriteFile(*xlsxPath, data, 0o644); err != nil {
			log.Fatal("Failed to write audit workbook", zap.String("path", *xlsxPath), zap.Error(err))
		}
		log.Info("Audit workbook written",
			zap.String("path", *xlsxPath),
			zap.Int("events", len(result.Events)),
		)
	}

	if result.Status == models.RunStatusFailed {
		os.Exit(1)
	}
}

func parseWindow(start, end string, now time.Time) (models.TimeWindow, error) {
	if start == "" {
		return models.TimeWindow{}, fmt.Errorf("-start is required")
	}
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return models.TimeWindow{}, fmt.Errorf("invalid -start: %w", err)
	}
	e := now
	if end != "" {
		if e, err = time.Parse(time.RFC3339, end); err != nil {
			return models.TimeWindow{}, fmt.Errorf("invalid -end: %w", err)
		}
	}
	w := models.TimeWindow{Start: s, End: e}
	if !w.Valid() {
		return models.TimeWindow{}, fmt.Errorf("-end must not be before -start")
	}
	return w, nil
}

func splitRooms(s string) []string {
	var rooms []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

func printSummary(result *models.RunResult) {
	fmt.Printf("status=%s fallback=%t rooms=%d/%d changes=%d stored=%d attempts=%d time=%s\n",
		result.Status, result.Fallback, result.SuccessfulRooms, result.TotalRooms,
		result.TotalChanges, result.StoredCount, result.Attempts, result.ProcessingTime)
	if len(result.ErrorRooms) > 0 {
		fmt.Printf("error_rooms=%s\n", strings.Join(result.ErrorRooms, ","))
	}
	if result.PersistError != "" {
		fmt.Printf("persist_error=%s\n", result.PersistError)
	}
	if result.Error != "" {
		fmt.Printf("error=%s\n", result.Error)
	}
}
