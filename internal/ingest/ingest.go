// Package ingest imports recorded provider payloads into the snapshot
// store. Sources are local files and directories, HTTP(S) and FTP URLs,
// ZIP archives of JSON payloads, and CSV or XLSX fixture sheets. Every
// payload is wrapped in a recorded envelope and stored content-addressed,
// so re-importing the same data is a no-op.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/decision-cli/internal/fetcher"
	"github.com/sells-group/decision-cli/internal/guardrails"
	"github.com/sells-group/decision-cli/internal/ops"
	"github.com/sells-group/decision-cli/internal/resilience"
	"github.com/sells-group/decision-cli/internal/snapshot"
	"github.com/sells-group/decision-cli/internal/store"
)

// DefaultSource is the envelope source name for imported payloads.
const DefaultSource = "recorded_provider"

// Options configures an Importer. Zero values get defaults.
type Options struct {
	// Source is the connector name stamped on stored envelopes.
	Source string

	// MaxRetries counts FTP retries after the first attempt.
	MaxRetries int

	HTTP    fetcher.Fetcher
	FTP     fetcher.Fetcher
	Metrics *guardrails.Metrics
	Now     func() time.Time
}

// Importer routes payload sources to the right fetcher and parser, then
// writes each payload as a recorded snapshot. Remote fetches feed the
// live-IO metrics counters and are guarded per host by a circuit breaker.
type Importer struct {
	store   store.Store
	http    fetcher.Fetcher
	ftp     fetcher.Fetcher
	source  string
	retry   resilience.RetryConfig
	metrics *guardrails.Metrics

	breakers  map[string]*resilience.CircuitBreaker
	latencies []float64
	now       func() time.Time
}

// New creates an Importer over the given store.
func New(st store.Store, opts Options) *Importer {
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.HTTP == nil {
		opts.HTTP = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: opts.MaxRetries})
	}
	if opts.FTP == nil {
		opts.FTP = fetcher.NewFTPFetcher(fetcher.FTPOptions{})
	}
	if opts.Metrics == nil {
		opts.Metrics = &guardrails.Metrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Importer{
		store:    st,
		http:     opts.HTTP,
		ftp:      opts.FTP,
		source:   opts.Source,
		retry:    resilience.FromRetrySettings(opts.MaxRetries),
		metrics:  opts.Metrics,
		breakers: make(map[string]*resilience.CircuitBreaker),
		now:      opts.Now,
	}
}

// Metrics exposes the live-IO counters accumulated by remote fetches.
func (im *Importer) Metrics() *guardrails.Metrics { return im.metrics }

// Result summarizes one import invocation.
type Result struct {
	Sources       int      `json:"sources"`
	SourcesFailed int      `json:"sources_failed"`
	Payloads      int      `json:"payloads"`
	Stored        int      `json:"stored"`
	Duplicates    int      `json:"duplicates"`
	Failed        int      `json:"failed"`
	Matches       []string `json:"matches,omitempty"`

	matchSet map[string]bool
}

func (r *Result) touch(matchID string) {
	if r.matchSet == nil {
		r.matchSet = make(map[string]bool)
	}
	r.matchSet[matchID] = true
}

// Import ingests every source in order. A failed source is logged and
// counted, not fatal; the error return covers setup failure and context
// cancellation only.
func (im *Importer) Import(ctx context.Context, sources []string) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest"))
	res := &Result{}

	tempDir, err := os.MkdirTemp("", "decision-import-*")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create temp dir")
	}
	defer os.RemoveAll(tempDir) //nolint:errcheck

	queue, err := expandSources(sources)
	if err != nil {
		return nil, err
	}

	for n, src := range queue {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "ingest: cancelled")
		}
		if err := im.importSource(ctx, src, tempDir, n, res); err != nil {
			log.Warn("ingest: source failed", zap.String("source", src), zap.Error(err))
			res.SourcesFailed++
			continue
		}
		res.Sources++
	}

	im.metrics.LatencyCount = len(im.latencies)
	im.metrics.P95LatencyMS = p95(im.latencies)

	res.Matches = make([]string, 0, len(res.matchSet))
	for id := range res.matchSet {
		res.Matches = append(res.Matches, id)
	}
	sort.Strings(res.Matches)
	return res, nil
}

// expandSources replaces local directories with the importable files
// under them, walked in lexical order. URLs and plain files pass through.
func expandSources(sources []string) ([]string, error) {
	var out []string
	for _, src := range sources {
		if isRemote(src) {
			out = append(out, src)
			continue
		}
		info, err := os.Stat(src)
		if err == nil && info.IsDir() {
			files, err := expandDir(src)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: walk %s", src)
			}
			out = append(out, files...)
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") ||
		strings.HasPrefix(src, "https://") ||
		strings.HasPrefix(src, "ftp://")
}

func expandDir(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".json", ".zip", ".csv", ".xlsx":
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func (im *Importer) importSource(ctx context.Context, src, tempDir string, n int, res *Result) error {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		local, err := im.fetchHTTP(ctx, src, tempDir, n)
		if err != nil {
			return err
		}
		return im.importFile(ctx, local, src, res)
	case strings.HasPrefix(src, "ftp://"):
		local, err := im.fetchFTP(ctx, src, tempDir, n)
		if err != nil {
			return err
		}
		return im.importFile(ctx, local, src, res)
	default:
		if _, err := os.Stat(src); err != nil {
			return eris.Wrapf(err, "ingest: stat %s", src)
		}
		return im.importFile(ctx, src, src, res)
	}
}

func (im *Importer) importFile(ctx context.Context, local, origin string, res *Result) error {
	switch strings.ToLower(filepath.Ext(local)) {
	case ".json":
		return im.importJSON(ctx, local, origin, res)
	case ".zip":
		return im.importZIP(ctx, local, origin, res)
	case ".csv":
		return im.importCSV(ctx, local, origin, res)
	case ".xlsx":
		return im.importXLSX(ctx, local, origin, res)
	default:
		return eris.Errorf("ingest: unsupported payload file %s", origin)
	}
}

// fetchHTTP downloads a URL into the temp dir through the host's circuit
// breaker. The fetcher handles transport retries itself; the breaker
// stops hammering a host whose retries keep exhausting.
func (im *Importer) fetchHTTP(ctx context.Context, rawURL, tempDir string, n int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: parse url %s", rawURL)
	}

	dest := filepath.Join(tempDir, downloadName(u, n))
	cb := im.breakerFor(u.Host)

	start := time.Now()
	err = cb.Execute(ctx, func(ctx context.Context) error {
		_, err := im.http.DownloadToFile(ctx, rawURL, dest)
		return err
	})
	im.observe(time.Since(start), err)
	if err != nil {
		return "", err
	}
	return dest, nil
}

func (im *Importer) fetchFTP(ctx context.Context, rawURL, tempDir string, n int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: parse url %s", rawURL)
	}

	dest := filepath.Join(tempDir, downloadName(u, n))

	cfg := im.retry
	cfg.OnRetry = resilience.RetryLogger(im.source, "ftp_download")

	start := time.Now()
	err = resilience.Do(ctx, cfg, func(ctx context.Context) error {
		_, err := im.ftp.DownloadToFile(ctx, rawURL, dest)
		return err
	})
	im.observe(time.Since(start), err)
	if err != nil {
		return "", err
	}
	return dest, nil
}

func (im *Importer) breakerFor(host string) *resilience.CircuitBreaker {
	if cb, ok := im.breakers[host]; ok {
		return cb
	}
	cfg := resilience.FromCircuitConfig(0, 0)
	cfg.OnChange = resilience.BreakerLogger(host)
	cb := resilience.NewCircuitBreaker(cfg)
	im.breakers[host] = cb
	return cb
}

func (im *Importer) observe(elapsed time.Duration, err error) {
	im.metrics.RequestsTotal++
	if err != nil {
		im.metrics.FailuresTotal++
		if resilience.IsRateLimited(err) {
			im.metrics.RateLimitedTotal++
		}
		if resilience.IsTimeout(err) {
			im.metrics.TimeoutsTotal++
		}
		return
	}
	im.latencies = append(im.latencies, float64(elapsed.Milliseconds()))
}

func downloadName(u *url.URL, n int) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		base = "payload"
	}
	// Endpoints without an extension are assumed to serve JSON.
	if filepath.Ext(base) == "" {
		base += ".json"
	}
	return fmt.Sprintf("%03d_%s", n, base)
}

func (im *Importer) importJSON(ctx context.Context, local, origin string, res *Result) error {
	f, err := os.Open(local)
	if err != nil {
		return eris.Wrapf(err, "ingest: open %s", origin)
	}
	defer f.Close() //nolint:errcheck

	br := bufio.NewReader(f)
	first, err := firstNonSpace(br)
	if err != nil {
		return eris.Wrapf(err, "ingest: read %s", origin)
	}

	if first != '[' {
		payload, err := fetcher.DecodeJSONObject[map[string]any](br)
		if err != nil {
			return err
		}
		return im.storePayload(ctx, origin, *payload, res)
	}

	payloadCh, errCh := fetcher.StreamJSONArray[map[string]any](ctx, br)
	for payload := range payloadCh {
		if err := im.storePayload(ctx, origin, payload, res); err != nil {
			return err
		}
	}
	return <-errCh
}

// importZIP extracts the archive to a scratch dir and imports every JSON
// payload inside it. Non-JSON entries (readmes and the like) are skipped.
func (im *Importer) importZIP(ctx context.Context, local, origin string, res *Result) error {
	dir, err := os.MkdirTemp("", "decision-zip-*")
	if err != nil {
		return eris.Wrap(err, "ingest: create zip temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	files, err := fetcher.ExtractZIP(local, dir)
	if err != nil {
		return err
	}

	var imported int
	for _, fp := range files {
		if strings.ToLower(filepath.Ext(fp)) != ".json" {
			continue
		}
		if err := im.importJSON(ctx, fp, origin, res); err != nil {
			return err
		}
		imported++
	}
	if imported == 0 {
		return eris.Errorf("ingest: no JSON payloads in %s", origin)
	}
	return nil
}

func (im *Importer) importCSV(ctx context.Context, local, origin string, res *Result) error {
	f, err := os.Open(local)
	if err != nil {
		return eris.Wrapf(err, "ingest: open %s", origin)
	}
	defer f.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
		SkipBlank: true,
	})
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return err
	}

	header := takeHeader(headerCh)
	if header == nil {
		return eris.Errorf("ingest: fixture sheet %s is empty", origin)
	}
	return im.importSheet(ctx, header, rows, origin, res)
}

func (im *Importer) importXLSX(ctx context.Context, local, origin string, res *Result) error {
	headerCh := make(chan []string, 1)
	rows, err := fetcher.ReadXLSX(local, fetcher.XLSXOptions{SkipRows: 1, HeaderCh: headerCh})
	if err != nil {
		return err
	}

	header := takeHeader(headerCh)
	if header == nil {
		return eris.Errorf("ingest: fixture sheet %s is empty", origin)
	}
	return im.importSheet(ctx, header, rows, origin, res)
}

// takeHeader drains the buffered header channel without blocking; the
// producing goroutine has already finished by the time this runs.
func takeHeader(headerCh chan []string) []string {
	select {
	case header := <-headerCh:
		return header
	default:
		return nil
	}
}

func (im *Importer) importSheet(ctx context.Context, header []string, rows [][]string, origin string, res *Result) error {
	parsed, err := ParseSheet(header, rows, im.source)
	if err != nil {
		return err
	}
	for _, md := range parsed {
		if err := im.storeMatchData(ctx, origin, md, res); err != nil {
			return err
		}
	}
	return nil
}

// storePayload accepts either payload form: normalized match data
// (detected by the identity key) or a ready domain payload carrying
// match_id, domain, and data. Invalid payloads are counted and skipped;
// only storage failures abort the source.
func (im *Importer) storePayload(ctx context.Context, origin string, payload map[string]any, res *Result) error {
	if _, ok := payload["identity"]; ok {
		md, err := decodeMatchData(payload)
		if err != nil {
			res.Payloads++
			im.skip(origin, err, res)
			return nil
		}
		return im.storeMatchData(ctx, origin, md, res)
	}

	res.Payloads++
	matchID, ok := domainPayloadID(payload)
	if !ok {
		im.skip(origin, eris.New("ingest: payload is neither match data nor a domain payload"), res)
		return nil
	}
	return im.put(ctx, origin, matchID, payload, res)
}

func (im *Importer) storeMatchData(ctx context.Context, origin string, md MatchData, res *Result) error {
	res.Payloads++
	if err := md.Validate(); err != nil {
		im.skip(origin, err, res)
		return nil
	}
	converted, err := md.ToPayload(im.source)
	if err != nil {
		return err
	}
	return im.put(ctx, origin, md.Identity.MatchID, converted, res)
}

func (im *Importer) skip(origin string, err error, res *Result) {
	zap.L().Warn("ingest: skipping payload", zap.String("origin", origin), zap.Error(err))
	res.Failed++
}

// put wraps a domain payload in a recorded envelope and writes it. The
// snapshot id is the payload checksum, so a duplicate write reports
// inserted=false and nothing changes.
func (im *Importer) put(ctx context.Context, origin, matchID string, payload map[string]any, res *Result) error {
	env, err := snapshot.NewRecorded(payload, im.now(), im.source)
	if err != nil {
		return err
	}
	body, err := snapshot.MarshalStored(env, payload)
	if err != nil {
		return err
	}

	inserted, err := im.store.PutSnapshot(ctx, store.SnapshotRecord{
		SnapshotID:   env.SnapshotID,
		MatchID:      matchID,
		SnapshotType: snapshot.TypeRecorded,
		Source:       im.source,
		Body:         body,
		CreatedAt:    im.now(),
	})
	if err != nil {
		return eris.Wrapf(err, "ingest: store payload for %s", matchID)
	}

	if inserted {
		res.Stored++
	} else {
		res.Duplicates++
	}
	res.touch(matchID)
	ops.IngestionSource(im.source, origin, matchID)
	return nil
}

func decodeMatchData(payload map[string]any) (MatchData, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return MatchData{}, eris.Wrap(err, "ingest: marshal payload")
	}
	var md MatchData
	if err := json.Unmarshal(raw, &md); err != nil {
		return MatchData{}, eris.Wrap(err, "ingest: decode match data")
	}
	return md, nil
}

func domainPayloadID(payload map[string]any) (string, bool) {
	matchID, _ := payload["match_id"].(string)
	domain, _ := payload["domain"].(string)
	_, hasData := payload["data"].(map[string]any)
	if matchID == "" || domain == "" || !hasData {
		return "", false
	}
	return matchID, true
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(rune(b)) {
			if err := br.UnreadByte(); err != nil {
				return 0, err
			}
			return b, nil
		}
	}
}

func p95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
