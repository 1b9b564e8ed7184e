package transmit

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/samber/lo"

	"github.com/banshee-data/pitwall/internal/fsutil"
	"github.com/banshee-data/pitwall/internal/packet"
	"github.com/banshee-data/pitwall/internal/timeutil"
)

const (
	localSinkName  = "local"
	sessionFileFmt = "2006-01-02_15-04-05"
)

// LocalConfig configures a LocalSink.
type LocalConfig struct {
	// Dir receives one CSV file per session.
	Dir string
	// Sensors are the configured sensor names, in column order.
	Sensors []string

	FS    fsutil.FileSystem
	Clock timeutil.Clock
}

// LocalSink appends records to a per-session CSV file. The header and the
// column projection are fixed at construction.
type LocalSink struct {
	fs      fsutil.FileSystem
	path    string
	columns []string

	mu sync.Mutex
}

// NewLocalSink creates the session file and writes its header row.
func NewLocalSink(cfg LocalConfig) (*LocalSink, error) {
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	s := &LocalSink{
		fs:      cfg.FS,
		path:    filepath.Join(cfg.Dir, cfg.Clock.Now().Format(sessionFileFmt)+"_car_data.csv"),
		columns: packet.Columns(cfg.Sensors),
	}
	if cfg.Dir != "" {
		if err := s.fs.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, sinkErr(localSinkName, ErrWrite, err)
		}
	}

	w, err := s.fs.Create(s.path)
	if err != nil {
		return nil, sinkErr(localSinkName, ErrWrite, err)
	}
	if err := writeRow(w, s.columns); err != nil {
		w.Close()
		return nil, sinkErr(localSinkName, ErrWrite, err)
	}
	if err := w.Close(); err != nil {
		return nil, sinkErr(localSinkName, ErrWrite, err)
	}
	return s, nil
}

// Path returns the session file path.
func (s *LocalSink) Path() string { return s.path }

// Columns returns the header row.
func (s *LocalSink) Columns() []string { return append([]string(nil), s.columns...) }

// HandleRecord appends rec as one row in header order.
func (s *LocalSink) HandleRecord(rec packet.Record) error {
	if rec == nil {
		return sinkErr(localSinkName, ErrNilRecord, nil)
	}
	if missing, ok := lo.Find(s.columns, func(c string) bool {
		_, present := rec[c]
		return !present
	}); ok {
		return sinkErr(localSinkName, ErrMissingField, fmt.Errorf("key %q", missing))
	}
	row := lo.Map(s.columns, func(c string, _ int) string {
		return strconv.FormatFloat(rec[c], 'f', -1, 64)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.fs.Append(s.path)
	if err != nil {
		return sinkErr(localSinkName, ErrWrite, err)
	}
	if err := writeRow(w, row); err != nil {
		w.Close()
		return sinkErr(localSinkName, ErrWrite, err)
	}
	if err := w.Close(); err != nil {
		return sinkErr(localSinkName, ErrWrite, err)
	}
	return nil
}

func writeRow(w io.Writer, row []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(row); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
