package stats

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"archsearch/internal/model"
	"archsearch/internal/storage"
)

// SamplingFile is the CSV an enumeration run writes next to its artifacts.
const SamplingFile = "sampling.csv"

// OutputLogger receives one record per sampled (architecture, look-back)
// pair, in order.
type OutputLogger interface {
	Output(ctx context.Context, record model.SamplingRecord) error
	Close() error
}

// CSVOutputLogger writes records as rows of architecture, look_back and the
// metric columns fixed by the first record.
type CSVOutputLogger struct {
	mu      sync.Mutex
	closer  io.Closer
	writer  *csv.Writer
	metrics []string
}

func NewCSVOutputLogger(w io.Writer) *CSVOutputLogger {
	logger := &CSVOutputLogger{writer: csv.NewWriter(w)}
	if closer, ok := w.(io.Closer); ok {
		logger.closer = closer
	}
	return logger
}

// CreateCSVOutputLogger truncates path and logs into it.
func CreateCSVOutputLogger(path string) (*CSVOutputLogger, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewCSVOutputLogger(file), nil
}

func (l *CSVOutputLogger) Output(_ context.Context, record model.SamplingRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.metrics == nil {
		l.metrics = make([]string, 0, len(record.Metrics))
		for name := range record.Metrics {
			l.metrics = append(l.metrics, name)
		}
		sort.Strings(l.metrics)
		header := append([]string{"architecture", "look_back"}, l.metrics...)
		if err := l.writer.Write(header); err != nil {
			return err
		}
	}

	architecture, err := json.Marshal(record.Architecture)
	if err != nil {
		return err
	}
	row := make([]string, 0, 2+len(l.metrics))
	row = append(row, string(architecture), strconv.Itoa(record.LookBack))
	for _, name := range l.metrics {
		value, ok := record.Metrics[name]
		if !ok {
			return fmt.Errorf("record is missing metric %q", name)
		}
		row = append(row, formatFloat(value))
	}
	if err := l.writer.Write(row); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

func (l *CSVOutputLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Flush()
	err := l.writer.Error()
	if l.closer != nil {
		err = errors.Join(err, l.closer.Close())
		l.closer = nil
	}
	return err
}

// StoreOutputLogger appends records to a Store under a run id.
type StoreOutputLogger struct {
	Store storage.Store
	RunID string
}

func (l StoreOutputLogger) Output(ctx context.Context, record model.SamplingRecord) error {
	if record.RunID == "" {
		record.RunID = l.RunID
	}
	return l.Store.AppendSamplingRecords(ctx, l.RunID, []model.SamplingRecord{record})
}

func (StoreOutputLogger) Close() error {
	return nil
}

// MultiOutputLogger fans every record out to all loggers in order.
type MultiOutputLogger []OutputLogger

func (m MultiOutputLogger) Output(ctx context.Context, record model.SamplingRecord) error {
	for _, logger := range m {
		if err := logger.Output(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiOutputLogger) Close() error {
	var errs []error
	for _, logger := range m {
		errs = append(errs, logger.Close())
	}
	return errors.Join(errs...)
}
