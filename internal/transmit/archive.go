package transmit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/db"
	"github.com/banshee-data/pitwall/internal/monitoring"
	"github.com/banshee-data/pitwall/internal/packet"
	"github.com/banshee-data/pitwall/internal/timeutil"
)

const (
	archiveSinkName = "archive"

	DefaultArchiveEvery   = 20
	DefaultArchiveTimeout = time.Second
)

// ArchiveStore is the part of *db.DB the archive sink writes to.
type ArchiveStore interface {
	InsertCarData(ctx context.Context, row db.CarDataRow) error
	StartSession(ctx context.Context, s db.Session) error
}

// ArchiveConfig configures an ArchiveSink.
type ArchiveConfig struct {
	// Every selects which records are archived: every Every-th one.
	Every int
	// Timeout bounds each database write.
	Timeout time.Duration
	// Car labels the archived rows.
	Car   string
	Clock timeutil.Clock
	Log   *zap.Logger
}

// ArchiveSink writes a sample of the records to the SQLite archive.
type ArchiveSink struct {
	store ArchiveStore
	cfg   ArchiveConfig
	log   *zap.Logger

	mu      sync.Mutex
	session string
	seen    int
}

// NewArchiveSink starts a session in store and returns the sink.
func NewArchiveSink(ctx context.Context, store ArchiveStore, cfg ArchiveConfig) (*ArchiveSink, error) {
	if cfg.Every <= 0 {
		cfg.Every = DefaultArchiveEvery
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultArchiveTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	s := &ArchiveSink{store: store, cfg: cfg, log: monitoring.OrDefault(cfg.Log).Named("archive")}
	if err := s.NewSession(ctx, "startup"); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSession starts a new archive session; later rows carry its id.
func (s *ArchiveSink) NewSession(ctx context.Context, reason string) error {
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.store.StartSession(ctx, db.Session{
		ID:        id,
		Car:       s.cfg.Car,
		Reason:    reason,
		StartedAt: timeutil.UnixMilli(s.cfg.Clock),
	}); err != nil {
		return sinkErr(archiveSinkName, ErrWrite, err)
	}

	s.mu.Lock()
	s.session = id
	s.seen = 0
	s.mu.Unlock()
	return nil
}

// Session returns the current session id.
func (s *ArchiveSink) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// HandleRecord archives every Every-th record within the write timeout.
func (s *ArchiveSink) HandleRecord(rec packet.Record) error {
	if rec == nil {
		return sinkErr(archiveSinkName, ErrNilRecord, nil)
	}

	s.mu.Lock()
	s.seen++
	if s.seen < s.cfg.Every {
		s.mu.Unlock()
		return nil
	}
	s.seen = 0
	session := s.session
	s.mu.Unlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		return sinkErr(archiveSinkName, ErrWrite, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.store.InsertCarData(ctx, db.CarDataRow{
		SessionID:  session,
		Car:        s.cfg.Car,
		Time:       rec.Time(),
		Speed:      rec[packet.FieldSpeed],
		Airspeed:   rec[packet.FieldAirspeed],
		EngineTemp: rec[packet.FieldEngineTemp],
		RadTemp:    rec[packet.FieldRadTemp],
		Distance:   rec[packet.FieldDistance],
		Record:     payload,
	}); err != nil {
		return sinkErr(archiveSinkName, ErrWrite, err)
	}
	s.log.Debug("archived record", zap.String("session_id", session), zap.Int64("time", rec.Time()))
	return nil
}
