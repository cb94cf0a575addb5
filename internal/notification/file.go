package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// FileSink writes each batch of alerts to a timestamped JSON file and logs
// every alert
type FileSink struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewFileSink creates a sink writing under dir
func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	return &FileSink{dir: dir, now: time.Now, logger: logger.With("component", "alert_log")}
}

// Publish writes alerts_YYYYMMDD_HHMMSS.json. A batch landing in the same
// second as an earlier one gets a _2, _3, ... suffix instead of overwriting it.
func (f *FileSink) Publish(ctx context.Context, alerts []*models.AlertEvent) error {
	if len(alerts) == 0 {
		return nil
	}

	for _, a := range alerts {
		f.logger.Warn("ALERT",
			"location", a.LocationRef,
			"parameter", a.Parameter,
			"severity", a.Severity,
			"aqi", a.AQI,
			"message", a.Message)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create alert log dir: %w", err)
	}

	data, err := json.MarshalIndent(alerts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode alerts: %w", err)
	}

	name, err := writeNew(f.dir, "alerts_"+f.now().Format("20060102_150405"), data)
	if err != nil {
		return fmt.Errorf("failed to write alert log: %w", err)
	}

	f.logger.Info("Alerts logged", "file", name, "alerts", len(alerts))
	return nil
}

// writeNew creates base.json, or the first free base_N.json, and writes data
func writeNew(dir, base string, data []byte) (string, error) {
	for n := 1; ; n++ {
		name := filepath.Join(dir, base+".json")
		if n > 1 {
			name = filepath.Join(dir, fmt.Sprintf("%s_%d.json", base, n))
		}

		file, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		_, err = file.Write(data)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		return name, err
	}
}
