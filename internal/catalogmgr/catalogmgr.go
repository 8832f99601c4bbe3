// Package catalogmgr merges the messages extracted from all source files
// into one view and persists it as per-locale catalogs.
package catalogmgr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/analyzer"
	"github.com/romshark/intlbuild/internal/metrics"
	"github.com/romshark/intlbuild/internal/orphan"
	"github.com/romshark/intlbuild/internal/persist"
	"github.com/romshark/intlbuild/internal/savesched"
)

// Config configures a Manager.
type Config struct {
	FS afero.Fs

	// Roots are the source directories scanned by Scan.
	Roots []string

	// BaseDir makes reference paths relative. Paths are kept as they are
	// if empty.
	BaseDir string

	SourceLocale string

	// TargetLocales are the locales to keep in sync with the source
	// locale. If nil, they're inferred from the catalog files
	// in the messages directory.
	TargetLocales []string

	Analyzer  analyzer.Analyzer
	Persister *persist.Persister
	Orphans   *orphan.Cache

	// SaveDelay is the save debounce window.
	SaveDelay time.Duration

	// Concurrency limits parallel analysis during Scan.
	// Defaults to GOMAXPROCS.
	Concurrency int

	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

// Report summarizes one persistence pass.
type Report struct {
	Messages int

	// Written lists the locales whose catalog was persisted, sorted.
	Written []string

	// Failed maps locales to the error that prevented persisting them.
	Failed map[string]error
}

// fileState is the contribution of one source file.
type fileState struct {
	// seq orders merges. The file merged last supplies the text of
	// messages declared by more than one file.
	seq      uint64
	messages map[string]intlbuild.Message
}

// Manager owns the merged message view.
// Mutations of the view never wait on disk I/O, persistence goes through
// the save scheduler.
type Manager struct {
	conf    Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	sched   *savesched.Scheduler[Report]

	// initLock serializes the initial full scan.
	initLock sync.Mutex

	lock    sync.Mutex
	scanned bool
	seq     uint64
	files   map[string]*fileState
	idFiles map[string]map[string]struct{}
	merged  map[string]intlbuild.Message
}

func New(conf Config) *Manager {
	if conf.FS == nil {
		conf.FS = afero.NewOsFs()
	}
	if conf.Concurrency < 1 {
		conf.Concurrency = runtime.GOMAXPROCS(0)
	}
	m := metrics.OrNew(conf.Metrics)
	return &Manager{
		conf:    conf,
		log:     conf.Log,
		metrics: m,
		sched:   savesched.New[Report](conf.SaveDelay, conf.Log, m),
		files:   make(map[string]*fileState),
		idFiles: make(map[string]map[string]struct{}),
		merged:  make(map[string]intlbuild.Message),
	}
}

// SourceFiles lists the analyzable files under the configured roots, sorted.
func (m *Manager) SourceFiles() ([]string, error) {
	var files []string
	for _, root := range m.conf.Roots {
		err := afero.Walk(m.conf.FS, root, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				if path == root && errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				if path != root && analyzer.SkipDir(info.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if analyzer.Supported(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// Scan analyzes every source file and replaces the merged view.
// Files that fail to parse contribute nothing. A missing root
// contributes nothing either.
func (m *Manager) Scan(ctx context.Context) error {
	files, err := m.SourceFiles()
	if err != nil {
		return err
	}

	results := make([]*analyzer.Result, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.conf.Concurrency)
	for i, file := range files {
		g.Go(func() error {
			src, err := afero.ReadFile(m.conf.FS, file)
			if err != nil {
				return fmt.Errorf("reading source: %w", err)
			}
			r, err := m.analyze(ctx, file, src)
			if err != nil && !errors.Is(err, analyzer.ErrSyntax) {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	clear(m.files)
	clear(m.idFiles)
	clear(m.merged)
	for i, file := range files {
		m.setFileLocked(file, results[i])
	}
	m.scanned = true
	m.log.Info().
		Int("files", len(files)).
		Int("messages", len(m.merged)).
		Msg("scanned sources")
	return nil
}

// ensureScanned runs the initial full scan unless a scan has completed.
// Incremental updates and persistence passes must never operate on a
// view holding only some of the files.
func (m *Manager) ensureScanned(ctx context.Context) error {
	m.initLock.Lock()
	defer m.initLock.Unlock()

	m.lock.Lock()
	scanned := m.scanned
	m.lock.Unlock()
	if scanned {
		return nil
	}
	if err := m.Scan(ctx); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	return nil
}

// analyze runs the analyzer and reports source problems.
// On a syntax error the result is empty and the error is returned.
func (m *Manager) analyze(ctx context.Context, file string, src []byte) (*analyzer.Result, error) {
	m.metrics.FilesScanned.Inc()
	r, err := m.conf.Analyzer.Analyze(ctx, m.refPath(file), src)
	if errors.Is(err, analyzer.ErrSyntax) {
		m.metrics.ParseErrors.Inc()
		m.log.Warn().Err(err).Str("file", file).Msg("ignoring messages of unparsable file")
		return new(analyzer.Result), err
	}
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", file, err)
	}
	for _, e := range r.Errors {
		m.log.Warn().Str("pos", e.Pos.String()).Msg(e.Err)
	}
	return r, nil
}

// refPath is the path references to file use.
func (m *Manager) refPath(file string) string {
	if m.conf.BaseDir != "" {
		if rel, err := filepath.Rel(m.conf.BaseDir, file); err == nil {
			file = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(file))
}

// ScanFile re-analyzes one file and merges its new contribution.
// changed reports whether the merged view changed. A syntax error is
// returned alongside an empty result and the file's previous
// contribution is dropped. The first call on a manager that was never
// scanned runs a full scan first.
func (m *Manager) ScanFile(
	ctx context.Context, file string, src []byte,
) (r *analyzer.Result, changed bool, err error) {
	if err := m.ensureScanned(ctx); err != nil {
		return nil, false, err
	}
	r, err = m.analyze(ctx, file, src)
	if r == nil {
		return nil, false, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return r, m.setFileLocked(file, r), err
}

// RemoveFile drops the contribution of a deleted file.
func (m *Manager) RemoveFile(ctx context.Context, file string) (changed bool, err error) {
	if err := m.ensureScanned(ctx); err != nil {
		return false, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.setFileLocked(file, nil), nil
}

// setFileLocked replaces the contribution of file and recomputes
// every affected message. A nil result removes the file.
func (m *Manager) setFileLocked(file string, r *analyzer.Result) (changed bool) {
	affected := make(map[string]struct{})
	if prev, ok := m.files[file]; ok {
		for id := range prev.messages {
			affected[id] = struct{}{}
			delete(m.idFiles[id], file)
		}
		delete(m.files, file)
	}

	if r != nil {
		m.seq++
		st := &fileState{seq: m.seq, messages: make(map[string]intlbuild.Message)}
		for _, msg := range r.Messages {
			if prev, ok := st.messages[msg.ID]; ok {
				msg.References = intlbuild.MergeReferences(prev.References, msg.References)
			} else {
				msg.References = intlbuild.SortReferences(slices.Clone(msg.References))
			}
			st.messages[msg.ID] = msg
		}
		m.files[file] = st
		for id := range st.messages {
			affected[id] = struct{}{}
			if m.idFiles[id] == nil {
				m.idFiles[id] = make(map[string]struct{})
			}
			m.idFiles[id][file] = struct{}{}
		}
	}

	for _, id := range slices.Sorted(maps.Keys(affected)) {
		if m.recomputeLocked(id) {
			changed = true
		}
	}
	return changed
}

// recomputeLocked merges the contributions to id.
// The text comes from the most recently merged file, references
// are the union across all files.
func (m *Manager) recomputeLocked(id string) (changed bool) {
	prev, existed := m.merged[id]
	files := m.idFiles[id]
	if len(files) == 0 {
		delete(m.idFiles, id)
		delete(m.merged, id)
		return existed
	}

	var (
		next   intlbuild.Message
		latest uint64
		refs   []intlbuild.Reference
	)
	for _, file := range slices.Sorted(maps.Keys(files)) {
		st := m.files[file]
		msg := st.messages[id]
		refs = append(refs, msg.References...)
		if st.seq > latest {
			if latest != 0 && msg.Message != next.Message {
				m.log.Debug().
					Str("id", id).
					Str("file", file).
					Msg("conflicting message text, last seen wins")
			}
			latest = st.seq
			next = msg
		}
	}
	next.References = intlbuild.SortReferences(refs)
	m.merged[id] = next
	return !existed || !equal(prev, next)
}

func equal(a, b intlbuild.Message) bool {
	return a.ID == b.ID &&
		a.Message == b.Message &&
		a.Description == b.Description &&
		slices.Equal(a.References, b.References)
}

// Messages returns a copy of the merged view in catalog order.
func (m *Manager) Messages() []intlbuild.Message {
	m.lock.Lock()
	msgs := make([]intlbuild.Message, 0, len(m.merged))
	for _, msg := range m.merged {
		msgs = append(msgs, msg.Clone())
	}
	m.lock.Unlock()
	intlbuild.SortMessages(msgs)
	return msgs
}

// Lookup returns the merged message id.
func (m *Manager) Lookup(id string) (intlbuild.Message, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	msg, ok := m.merged[id]
	return msg.Clone(), ok
}

// Locales returns the target locales, sorted and excluding the
// source locale.
func (m *Manager) Locales() ([]string, error) {
	locales := m.conf.TargetLocales
	if locales == nil {
		var err error
		if locales, err = m.conf.Persister.Locales(); err != nil {
			return nil, err
		}
	}
	out := make([]string, 0, len(locales))
	for _, l := range locales {
		if l != m.conf.SourceLocale {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Save schedules a persistence pass and waits for it.
func (m *Manager) Save(ctx context.Context) (Report, error) {
	return m.sched.Schedule(ctx, m.persist)
}

// SaveAsync schedules a persistence pass without waiting.
// Failures are logged by the scheduler.
func (m *Manager) SaveAsync() {
	m.sched.Submit(m.persist)
}

// Flush runs a scheduled persistence pass now.
func (m *Manager) Flush(ctx context.Context) error { return m.sched.Flush(ctx) }

// Close persists pending changes. The manager can't be saved afterwards.
func (m *Manager) Close(ctx context.Context) error { return m.sched.Close(ctx) }

// persist writes the source catalog and synchronizes every target
// catalog with the current merged view. Locales fail independently.
func (m *Manager) persist(ctx context.Context) (Report, error) {
	if err := m.ensureScanned(ctx); err != nil {
		return Report{}, err
	}
	msgs := m.Messages()
	report := Report{Messages: len(msgs), Failed: make(map[string]error)}

	source := make(map[string]intlbuild.Message, len(msgs))
	for _, msg := range msgs {
		source[msg.ID] = msg
	}

	var errs []error
	fail := func(locale string, err error) {
		report.Failed[locale] = err
		errs = append(errs, fmt.Errorf("locale %s: %w", locale, err))
	}

	if err := m.conf.Persister.Write(m.conf.SourceLocale, msgs, source); err != nil {
		fail(m.conf.SourceLocale, err)
	} else {
		report.Written = append(report.Written, m.conf.SourceLocale)
	}

	locales, err := m.Locales()
	if err != nil {
		return report, err
	}
	for _, locale := range locales {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := m.persistTarget(locale, msgs, source); err != nil {
			fail(locale, err)
			continue
		}
		report.Written = append(report.Written, locale)
	}
	slices.Sort(report.Written)
	return report, errors.Join(errs...)
}

// persistTarget synchronizes the catalog of one target locale.
// Translations are taken from the existing catalog, then from the orphan
// cache. Translations of messages that are no longer live are moved to
// the orphan cache before the catalog is rewritten without them.
func (m *Manager) persistTarget(
	locale string, live []intlbuild.Message, source map[string]intlbuild.Message,
) error {
	log := m.log.With().Str("locale", locale).Logger()

	existing, err := m.conf.Persister.Read(locale, false)
	if err != nil {
		// Rewriting would destroy translations.
		log.Error().Err(err).Msg("skipping catalog that can't be read")
		return err
	}
	translations := make(map[string]string, len(existing))
	for _, e := range existing {
		translations[e.ID] = e.Message
	}

	msgs := make([]intlbuild.Message, len(live))
	var restored []string
	for i, src := range live {
		msg := intlbuild.Message{
			ID:          src.ID,
			Description: src.Description,
			References:  src.References,
		}
		if t := translations[src.ID]; t != "" {
			msg.Message = t
		} else if m.conf.Orphans != nil {
			e, ok, err := m.conf.Orphans.Lookup(locale, src.ID)
			switch {
			case err != nil:
				log.Warn().Err(err).Msg("looking up orphaned translation")
			case ok:
				msg.Message = e.Message
				restored = append(restored, src.ID)
			}
		}
		msgs[i] = msg
	}

	if m.conf.Orphans != nil {
		for _, e := range existing {
			if _, ok := source[e.ID]; ok || e.Message == "" {
				continue
			}
			err := m.conf.Orphans.Add(locale, e.ID, orphan.Entry{Message: e.Message})
			if err != nil {
				// Keep the catalog until the translation is safe.
				return fmt.Errorf("orphaning %s: %w", e.ID, err)
			}
			log.Debug().Str("id", e.ID).Msg("orphaned translation")
		}
	}

	if err := m.conf.Persister.Write(locale, msgs, source); err != nil {
		return err
	}

	for _, id := range restored {
		if err := m.conf.Orphans.Delete(locale, id); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("deleting restored orphan")
			continue
		}
		log.Debug().Str("id", id).Msg("restored orphaned translation")
	}
	return nil
}
