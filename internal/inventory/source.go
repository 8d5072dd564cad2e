package inventory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Row is one raw record keyed by its source column name.
type Row map[string]string

type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Row, error)
}

// CSVSource reads a catalog export from a local path or an http(s) URL.
type CSVSource struct {
	Location   string
	HTTPClient *http.Client
}

func NewCSVSource(location string) *CSVSource {
	return &CSVSource{
		Location:   strings.TrimSpace(location),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *CSVSource) Name() string {
	return s.Location
}

func (s *CSVSource) Fetch(ctx context.Context) ([]Row, error) {
	body, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return readCSV(body)
}

func (s *CSVSource) open(ctx context.Context) (io.ReadCloser, error) {
	if !strings.HasPrefix(s.Location, "http://") && !strings.HasPrefix(s.Location, "https://") {
		return os.Open(s.Location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", s.Location, resp.Status)
	}
	return resp.Body, nil
}

func readCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Row{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	rows := make([]Row, 0, 128)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// TableSource reads the cloud inventory table.
type TableSource struct {
	db    *gorm.DB
	table string
}

func OpenTableSource(dsn string, table string) (*TableSource, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	return NewTableSource(db, table), nil
}

func NewTableSource(db *gorm.DB, table string) *TableSource {
	if table == "" {
		table = "inventory"
	}
	return &TableSource{db: db, table: table}
}

func (s *TableSource) Name() string {
	return "table:" + s.table
}

func (s *TableSource) Fetch(ctx context.Context) ([]Row, error) {
	var records []map[string]any
	if err := s.db.WithContext(ctx).Table(s.table).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}

	rows := make([]Row, 0, len(records))
	for _, record := range records {
		row := make(Row, len(record))
		for col, val := range record {
			row[col] = stringify(val)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *TableSource) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
