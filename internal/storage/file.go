package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	logx "boorubot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl             (append-only JSON Lines)
//   - <prefix>.blacklist.snapshot.json (periodic snapshot)
//   - <prefix>.blacklist.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot on open and every
// compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	blacklist    map[int64]map[string]struct{}

	writes       int
	compactEvery int
}

type blacklistRecord struct {
	Origin int64  `json:"origin"`
	Tag    string `json:"tag"`
	Op     string `json:"op"` // "add" | "del"
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	snapPath := prefix + ".blacklist.snapshot.json"
	journalPath := prefix + ".blacklist.journal.jsonl"

	bl := map[int64]map[string]struct{}{}
	if err := loadBlacklistSnapshot(snapPath, bl); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("blacklist snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := replayBlacklistJournal(journalPath, bl); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("blacklist journal replay failed", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	s := &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		blacklist:    bl,
		compactEvery: 500,
	}
	s.mu.Lock()
	if err := s.compactLocked(); err != nil {
		log.Debug("blacklist compact failed", logx.Err(err))
	}
	s.mu.Unlock()
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) LoadBlacklist(_ context.Context) (map[int64][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return flattenBlacklist(s.blacklist), nil
}

func (s *fileStore) AddBlacklistTag(_ context.Context, origin int64, tag string) error {
	return s.apply(blacklistRecord{Origin: origin, Tag: tag, Op: "add"})
}

func (s *fileStore) RemoveBlacklistTag(_ context.Context, origin int64, tag string) error {
	return s.apply(blacklistRecord{Origin: origin, Tag: tag, Op: "del"})
}

// apply writes the journal record first; memory is only updated after the
// write succeeded so a failed write leaves both views consistent.
func (s *fileStore) apply(r blacklistRecord) error {
	r.Tag = strings.TrimSpace(r.Tag)
	if r.Tag == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("blacklist journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	applyRecord(s.blacklist, r)

	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("blacklist compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := make(map[string][]string, len(s.blacklist))
	for origin, tags := range flattenBlacklist(s.blacklist) {
		snap[strconv.FormatInt(origin, 10)] = tags
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func applyRecord(m map[int64]map[string]struct{}, r blacklistRecord) {
	switch r.Op {
	case "add":
		set := m[r.Origin]
		if set == nil {
			set = map[string]struct{}{}
			m[r.Origin] = set
		}
		set[r.Tag] = struct{}{}
	case "del":
		if set := m[r.Origin]; set != nil {
			delete(set, r.Tag)
			if len(set) == 0 {
				delete(m, r.Origin)
			}
		}
	}
}

func flattenBlacklist(m map[int64]map[string]struct{}) map[int64][]string {
	out := make(map[int64][]string, len(m))
	for origin, set := range m {
		tags := make([]string, 0, len(set))
		for t := range set {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		out[origin] = tags
	}
	return out
}

func loadBlacklistSnapshot(path string, out map[int64]map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, tags := range m {
		origin, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		for _, t := range tags {
			applyRecord(out, blacklistRecord{Origin: origin, Tag: t, Op: "add"})
		}
	}
	return nil
}

func replayBlacklistJournal(path string, out map[int64]map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r blacklistRecord
		// A torn last line after a crash is skipped.
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Tag == "" {
			continue
		}
		applyRecord(out, r)
	}
	return sc.Err()
}
