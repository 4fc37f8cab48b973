package xfoil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const reportSuffix = ".pol.zst"

// zstd frame magic number.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ReportCache stores raw solver reports on disk, zstd compressed, one
// timestamped file per write. At most maxFiles files are kept per job key.
type ReportCache struct {
	dir      string
	maxFiles int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewReportCache creates a ReportCache rooted at dir.
func NewReportCache(dir string, maxFiles int) (*ReportCache, error) {
	if maxFiles <= 0 {
		maxFiles = 5
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &ReportCache{
		dir:      dir,
		maxFiles: maxFiles,
		enc:      enc,
		dec:      dec,
	}, nil
}

// Write saves a report under key and prunes old files beyond maxFiles.
func (c *ReportCache) Write(key string, data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}

	path := filepath.Join(c.dir, fmt.Sprintf("%s_%d%s", key, ts.Unix(), reportSuffix))
	if err := os.WriteFile(path, c.enc.EncodeAll(data, nil), 0644); err != nil {
		return fmt.Errorf("writing report cache file: %w", err)
	}

	return c.prune(key)
}

// LoadLatest reads the newest report stored under key.
// Returns the data, the timestamp, and any error.
func (c *ReportCache) LoadLatest(key string) ([]byte, time.Time, error) {
	files, err := c.listFiles(key)
	if err != nil {
		return nil, time.Time{}, err
	}

	if len(files) == 0 {
		return nil, time.Time{}, fmt.Errorf("no cached report for %s", key)
	}

	// Files are sorted oldest first; take the last one.
	latest := files[len(files)-1]
	raw, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading report cache file: %w", err)
	}

	if !bytes.HasPrefix(raw, zstdMagic) {
		// Stored uncompressed, e.g. copied in by hand.
		return raw, latest.ts, nil
	}
	data, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decompressing %s: %w", latest.name, err)
	}
	return data, latest.ts, nil
}

type reportFile struct {
	name string
	ts   time.Time
}

func (c *ReportCache) listFiles(key string) ([]reportFile, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing report cache dir: %w", err)
	}

	prefix := key + "_"
	var files []reportFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, reportSuffix) {
			continue
		}
		tsStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), reportSuffix)
		unix, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, reportFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})

	return files, nil
}

func (c *ReportCache) prune(key string) error {
	files, err := c.listFiles(key)
	if err != nil {
		return err
	}

	if len(files) <= c.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-c.maxFiles] {
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil {
			return fmt.Errorf("pruning report cache file %s: %w", f.name, err)
		}
	}

	return nil
}
