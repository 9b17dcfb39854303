package threat

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// FeedFormat names the layout of a feed file.
type FeedFormat string

const (
	// FormatRecords is a JSON array of IndicatorInput objects.
	FormatRecords FeedFormat = "records"
	// FormatURLhaus is the URLhaus CSV dump.
	FormatURLhaus FeedFormat = "urlhaus"
	// FormatPhishTank is the PhishTank online-valid JSON dump.
	FormatPhishTank FeedFormat = "phishtank"
)

// ErrUnknownFeedFormat is returned for a feed spec whose format cannot be
// determined.
var ErrUnknownFeedFormat = errors.New("unknown feed format")

const (
	urlhausConfidence   = 85
	phishtankConfidence = 90
	phishtankMaxEntries = 1000
	phishingTechnique   = "T1476"
)

// FileSource reads indicators from an already downloaded feed file.
type FileSource struct {
	path   string
	format FeedFormat
}

func NewFileSource(path string, format FeedFormat) *FileSource {
	return &FileSource{path: path, format: format}
}

// ParseFeedSpec parses "format:path" or a bare path whose extension selects
// the format (.csv urlhaus, .json records).
func ParseFeedSpec(spec string) (*FileSource, error) {
	spec = strings.TrimSpace(spec)
	if prefix, path, found := strings.Cut(spec, ":"); found {
		switch f := FeedFormat(prefix); f {
		case FormatRecords, FormatURLhaus, FormatPhishTank:
			return NewFileSource(path, f), nil
		}
	}
	switch strings.ToLower(filepath.Ext(spec)) {
	case ".csv":
		return NewFileSource(spec, FormatURLhaus), nil
	case ".json":
		return NewFileSource(spec, FormatRecords), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFeedFormat, spec)
}

func (s *FileSource) Name() string {
	return string(s.format) + ":" + filepath.Base(s.path)
}

func (s *FileSource) Fetch(ctx context.Context) ([]IndicatorInput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", s.path, err)
	}

	switch s.format {
	case FormatRecords:
		return decodeRecords(data)
	case FormatURLhaus:
		return decodeURLhaus(bytes.NewReader(data))
	case FormatPhishTank:
		return decodePhishTank(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeedFormat, s.format)
	}
}

func decodeRecords(data []byte) ([]IndicatorInput, error) {
	var out []IndicatorInput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode indicator records: %w", err)
	}
	return out, nil
}

// decodeURLhaus reads id,dateadded,url,url_status,last_online,threat,...
// rows. Comment lines start with '#'.
func decodeURLhaus(r io.Reader) ([]IndicatorInput, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var out []IndicatorInput
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("decode urlhaus csv: %w", err)
		}
		if len(row) < 4 {
			continue
		}
		url := strings.TrimSpace(row[2])
		if url == "" {
			continue
		}
		threat := "malware"
		if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
			threat = strings.TrimSpace(row[5])
		}
		out = append(out, IndicatorInput{
			Type:  string(TypeURL),
			Value: url,
			IndicatorMeta: IndicatorMeta{
				Confidence: intPtr(urlhausConfidence),
				Source:     "urlhaus",
				Tags:       []string{threat, "malicious_url"},
				Techniques: []string{phishingTechnique},
			},
		})
	}
	return out, nil
}

type phishtankEntry struct {
	URL string `json:"url"`
}

func decodePhishTank(data []byte) ([]IndicatorInput, error) {
	var entries []phishtankEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode phishtank feed: %w", err)
	}
	if len(entries) > phishtankMaxEntries {
		entries = entries[:phishtankMaxEntries]
	}

	out := make([]IndicatorInput, 0, len(entries))
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		out = append(out, IndicatorInput{
			Type:  string(TypeURL),
			Value: e.URL,
			IndicatorMeta: IndicatorMeta{
				Confidence: intPtr(phishtankConfidence),
				Source:     "phishtank",
				Tags:       []string{"phishing", "verified"},
				Techniques: []string{phishingTechnique},
			},
		})
	}
	return out, nil
}
