package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

func (s *Service) ensureSpoolDir() error {
	return os.MkdirAll(s.spool.Dir, 0750)
}

func (s *Service) spoolFile() string {
	return filepath.Join(s.spool.Dir, "audit_spool.log")
}

// spoolEvent appends evt to the failover log, dropping the write if the
// spool is already at its size cap rather than growing unbounded.
func (s *Service) spoolEvent(evt Event) error {
	if err := s.ensureSpoolDir(); err != nil {
		return err
	}
	if s.spoolSize() >= s.spool.MaxBytes {
		return fmt.Errorf("audit spool at capacity (%d bytes), dropping event %s", s.spool.MaxBytes, evt.EventID)
	}

	payload := SpooledEvent{
		EventID:   evt.EventID.String(),
		Payload:   evt,
		Timestamp: time.Now().UTC(),
	}
	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.spoolFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *Service) spoolSize() int64 {
	var size int64
	filepath.Walk(s.spool.Dir, func(_ string, info fs.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// StartReplayer runs ReplaySpool on a ticker until ctx is cancelled.
func (s *Service) StartReplayer(ctx context.Context) {
	ticker := time.NewTicker(s.spool.ReplayEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

var replayLock sync.Mutex

// ReplaySpool drains the spool file into the DB. Events that still fail
// to insert are re-spooled by WriteEvent rather than lost.
func (s *Service) ReplaySpool(ctx context.Context) {
	replayLock.Lock()
	defer replayLock.Unlock()

	filename := s.spoolFile()
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return
	}
	if err != nil {
		return
	}

	replayFile := filepath.Join(s.spool.Dir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		s.log.Warn("audit spool rotation for replay failed", zap.Error(err))
		return
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	var succeeded, failed int
	for scanner.Scan() {
		var se SpooledEvent
		if err := json.Unmarshal(scanner.Bytes(), &se); err != nil {
			failed++
			continue
		}
		if err := s.WriteEvent(ctx, se.Payload); err == nil {
			succeeded++
		}
	}
	f.Close()
	os.Remove(replayFile)

	if succeeded > 0 || failed > 0 {
		s.log.Info("audit spool replay complete", zap.Int("replayed", succeeded), zap.Int("corrupt", failed))
	}
}
