package tailer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/agentwatch/internal/metrics"
	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// Ingestor receives the records a scan derives.
type Ingestor interface {
	IngestCosts(ctx context.Context, entries []models.CostRecord) error
	IngestActivities(ctx context.Context, activities []models.ActivityRecord) error
}

// Config configures a Tailer.
type Config struct {
	// Root is the transcript tree: one subdirectory per agent, each with a
	// sessions/ folder of newline-delimited JSON files.
	Root string
	// Lookback discards cost records older than this on first encounter,
	// e.g. after a cold start. Default 24h.
	Lookback time.Duration
	// ActivityCap bounds derived activities per file per scan. Default 20.
	ActivityCap int
	// DedupRetention is how long cost fingerprints are kept. Default 7d.
	DedupRetention time.Duration
}

// Tailer scans the transcript tree and reads only newly appended bytes from
// each file, using per-file cursors. Scans are cheap when nothing changed:
// unchanged size+mtime means the file is skipped entirely.
type Tailer struct {
	cfg     Config
	cursors *CursorStore
	dedup   *Deduplicator
	sink    Ingestor
	now     func() time.Time
	verbose bool

	// scanMu keeps overlapping timer firings from scanning concurrently;
	// a scan that finds one in flight is a no-op.
	scanMu sync.Mutex

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
}

// New creates a Tailer writing into sink.
func New(cfg Config, sink Ingestor) *Tailer {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.ActivityCap <= 0 {
		cfg.ActivityCap = 20
	}
	return &Tailer{
		cfg:     cfg,
		cursors: NewCursorStore(),
		dedup:   NewDeduplicator(cfg.DedupRetention),
		sink:    sink,
		now:     time.Now,
	}
}

// SetVerbose enables verbose logging.
func (t *Tailer) SetVerbose(v bool) {
	t.verbose = v
}

// Dedup exposes the deduplicator for periodic pruning.
func (t *Tailer) Dedup() *Deduplicator {
	return t.dedup
}

// Scan walks the transcript tree once. A corrupt file or failed ingestion
// never aborts the remaining files; per-file errors are logged and skipped.
func (t *Tailer) Scan(ctx context.Context) error {
	if !t.scanMu.TryLock() {
		return nil
	}
	defer t.scanMu.Unlock()

	metrics.ScansTotal.Inc()

	agents, err := os.ReadDir(t.cfg.Root)
	if err != nil {
		return fmt.Errorf("read transcript root: %w", err)
	}

	for _, agentDir := range agents {
		if !agentDir.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		agent := agentDir.Name()
		sessionsDir := filepath.Join(t.cfg.Root, agent, "sessions")
		files, err := os.ReadDir(sessionsDir)
		if err != nil {
			continue // agent has no sessions folder yet
		}
		t.watchDir(sessionsDir)
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(sessionsDir, file.Name())
			if err := t.scanFile(ctx, agent, path); err != nil {
				log.Printf("[tailer] scan %s: %v", path, err)
			}
		}
	}
	return nil
}

// scanFile reads the new byte range of one file and ingests what it yields.
func (t *Tailer) scanFile(ctx context.Context, agent, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	cursor, known := t.cursors.Get(path)
	if known && info.Size() == cursor.Size && info.ModTime().Equal(cursor.ModTime) {
		return nil
	}
	if !known {
		cursor = FileCursor{Path: path}
	}

	size := info.Size()
	if size < cursor.LastPosition {
		// Rotation or truncation: start over from the top.
		t.logf("%s shrank (%d < %d), resetting cursor", path, size, cursor.LastPosition)
		metrics.CursorResets.Inc()
		cursor.LastPosition = 0
		cursor.PartialTail = ""
	}

	chunk, err := readRange(path, cursor.LastPosition, size)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	data := cursor.PartialTail + string(chunk)
	lines := strings.Split(data, "\n")
	tail := lines[len(lines)-1] // unterminated fragment, possibly empty
	complete := lines[:len(lines)-1]

	cursor.Size = size
	cursor.ModTime = info.ModTime()
	cursor.LastPosition = size
	cursor.PartialTail = tail
	t.cursors.Put(cursor)

	sessionKey := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	t.ingestLines(ctx, agent, sessionKey, path, complete)
	return nil
}

// ingestLines parses complete lines and emits one cost batch plus a capped
// set of activities for this file. Individual parse failures skip only the
// offending line.
func (t *Tailer) ingestLines(ctx context.Context, agent, sessionKey, path string, lines []string) {
	now := t.now()
	var costs []models.CostRecord
	var costKeys []string
	var activities []models.ActivityRecord

	for _, raw := range lines {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		metrics.LinesParsed.Inc()
		rec, err := parseTranscriptLine([]byte(raw))
		if err != nil {
			metrics.ParseFailures.Inc()
			continue
		}

		ts := rec.Timestamp.OrNow(now)
		activities = append(activities, rec.activities(agent, sessionKey, ts)...)

		if !rec.costBearing() {
			continue
		}
		if now.Sub(ts) > t.cfg.Lookback {
			continue // stale record from before the lookback boundary
		}

		usage := rec.Message.Usage
		total := 0.0
		if usage.Cost != nil {
			total = usage.Cost.Total
		}
		key := Key(path, ts, total)
		if t.dedup.Seen(key) {
			metrics.DedupDropped.Inc()
			continue
		}

		costs = append(costs, models.CostRecord{
			ID:               uuid.New().String(),
			Agent:            agent,
			SessionKey:       sessionKey,
			Provider:         rec.Message.Provider,
			Model:            rec.Message.Model,
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			CacheReadTokens:  usage.CacheReadTokens,
			CacheWriteTokens: usage.CacheWriteTokens,
			TotalCost:        total,
			Timestamp:        ts,
		})
		costKeys = append(costKeys, key)
	}

	if len(costs) > 0 {
		if err := t.sink.IngestCosts(ctx, costs); err != nil {
			log.Printf("[tailer] ingest %d costs from %s: %v", len(costs), path, err)
		} else {
			// Fingerprints are recorded only after a successful ingest so a
			// sink failure is retried by a later cursor reset or overlap.
			for _, key := range costKeys {
				t.dedup.Mark(key, now)
			}
			metrics.CostRecordsIngested.Add(float64(len(costs)))
		}
	}

	if len(activities) > t.cfg.ActivityCap {
		activities = activities[len(activities)-t.cfg.ActivityCap:]
	}
	if len(activities) > 0 {
		for i := range activities {
			activities[i].ID = uuid.New().String()
		}
		if err := t.sink.IngestActivities(ctx, activities); err != nil {
			log.Printf("[tailer] ingest %d activities from %s: %v", len(activities), path, err)
		} else {
			metrics.ActivitiesIngested.Add(float64(len(activities)))
		}
	}
}

// readRange returns the bytes in [from, to) of the file.
func readRange(path string, from, to int64) ([]byte, error) {
	if to <= from {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, to-from)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Watch emits a nudge whenever the transcript tree changes, so the caller
// can scan ahead of the next timer tick. The interval timer remains the
// correctness mechanism; watching is best-effort.
func (t *Tailer) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(t.cfg.Root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch transcript root: %w", err)
	}

	t.watchMu.Lock()
	t.watcher = watcher
	t.watchMu.Unlock()

	nudges := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					select {
					case nudges <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logf("watcher error: %v", err)
			}
		}
	}()
	return nudges, nil
}

// watchDir registers a discovered sessions directory with the watcher.
func (t *Tailer) watchDir(dir string) {
	t.watchMu.Lock()
	watcher := t.watcher
	t.watchMu.Unlock()
	if watcher == nil {
		return
	}
	// Add is idempotent for already-watched paths.
	if err := watcher.Add(dir); err != nil {
		t.logf("watch %s: %v", dir, err)
	}
}

func (t *Tailer) logf(format string, args ...any) {
	if t.verbose {
		log.Printf("[tailer] "+format, args...)
	}
}
