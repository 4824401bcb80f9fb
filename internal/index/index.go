package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	indexVersionKey = "whisperq_index_version"
	indexVersion    = "1"
	lastBuiltKey    = "whisperq_index_last_built"
)

// Transcript is the indexed form of a completed transcription.
type Transcript struct {
	TaskID      string    `json:"task_id"`
	File        string    `json:"file"`
	Output      string    `json:"output"`
	Language    string    `json:"language"`
	Duration    float64   `json:"duration"`
	Text        string    `json:"text"`
	CompletedAt time.Time `json:"completed_at"`
}

// SearchHit is one search result with a highlighted snippet.
type SearchHit struct {
	Transcript *Transcript
	Snippet    string
	Score      float64
}

// Index wraps a Bleve index of completed transcripts.
type Index struct {
	mu   sync.RWMutex
	idx  bleve.Index
	path string
}

// Open opens the index at path, creating it with the transcript mapping
// when it does not yet exist.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index parent dir: %w", err)
	}

	var (
		idx bleve.Index
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		idx, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open transcript index: %w", err)
		}
	} else if errors.Is(statErr, os.ErrNotExist) {
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create transcript index: %w", err)
		}
	} else {
		return nil, fmt.Errorf("stat transcript index: %w", statErr)
	}

	i := &Index{idx: idx, path: path}
	if err := i.ensureVersion(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return i, nil
}

// Close closes the underlying Bleve index.
func (i *Index) Close() error {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.idx == nil {
		return nil
	}
	err := i.idx.Close()
	i.idx = nil
	return err
}

// Add indexes one transcript, keyed by task id.
func (i *Index) Add(t *Transcript) error {
	if t == nil {
		return errors.New("nil transcript")
	}
	doc, err := newDocument(t)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.idx == nil {
		return errors.New("index not initialized")
	}
	if err := i.idx.Index(doc.ID, doc); err != nil {
		return fmt.Errorf("index transcript %s: %w", t.TaskID, err)
	}
	return i.idx.SetInternal([]byte(lastBuiltKey), []byte(time.Now().UTC().Format(time.RFC3339)))
}

// Remove drops a transcript from the index. Unknown ids are a no-op.
func (i *Index) Remove(taskID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.idx == nil {
		return errors.New("index not initialized")
	}
	return i.idx.Delete(taskID)
}

// Search runs a full-text query over transcript bodies with optional
// language filter.
func (i *Index) Search(input, language string, offset, limit int) ([]*SearchHit, int, error) {
	queryObj := buildQuery(input, language)
	if queryObj == nil {
		return []*SearchHit{}, 0, nil
	}

	i.mu.RLock()
	idx := i.idx
	i.mu.RUnlock()
	if idx == nil {
		return nil, 0, errors.New("index not initialized")
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	req := bleve.NewSearchRequestOptions(queryObj, limit, offset, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Fields = []string{"transcript_json"}

	result, err := idx.Search(req)
	if err != nil {
		return nil, 0, fmt.Errorf("transcript search: %w", err)
	}

	hits := make([]*SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		raw, ok := hit.Fields["transcript_json"].(string)
		if !ok || raw == "" {
			continue
		}
		var t Transcript
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, 0, fmt.Errorf("decode transcript: %w", err)
		}

		snippet := ""
		if frags, ok := hit.Fragments["text"]; ok && len(frags) > 0 {
			snippet = strings.Join(frags, " … ")
		}

		hits = append(hits, &SearchHit{
			Transcript: &t,
			Snippet:    snippet,
			Score:      hit.Score,
		})
	}

	return hits, int(result.Total), nil
}

// Count returns the number of indexed transcripts.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.idx == nil {
		return 0, errors.New("index not initialized")
	}
	return i.idx.DocCount()
}

func (i *Index) ensureVersion() error {
	current, _ := i.idx.GetInternal([]byte(indexVersionKey))
	if string(current) == indexVersion {
		return nil
	}
	return i.idx.SetInternal([]byte(indexVersionKey), []byte(indexVersion))
}

type document struct {
	ID             string  `json:"id"`
	File           string  `json:"file"`
	Language       string  `json:"language"`
	Duration       float64 `json:"duration"`
	Text           string  `json:"text"`
	CompletedUnix  int64   `json:"completed_unix"`
	TranscriptJSON string  `json:"transcript_json"`
}

func newDocument(t *Transcript) (*document, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	return &document{
		ID:             t.TaskID,
		File:           t.File,
		Language:       t.Language,
		Duration:       t.Duration,
		Text:           t.Text,
		CompletedUnix:  t.CompletedAt.Unix(),
		TranscriptJSON: string(raw),
	}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "standard"

	docMapping := mapping.NewDocumentMapping()

	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "standard"
	textField.Store = false
	docMapping.AddFieldMappingsAt("text", textField)

	fileField := mapping.NewTextFieldMapping()
	fileField.Analyzer = "keyword"
	fileField.Store = true
	fileField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("file", fileField)

	langField := mapping.NewTextFieldMapping()
	langField.Analyzer = "keyword"
	langField.Store = true
	langField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("language", langField)

	completedField := mapping.NewNumericFieldMapping()
	completedField.Store = true
	docMapping.AddFieldMappingsAt("completed_unix", completedField)

	rawField := mapping.NewTextFieldMapping()
	rawField.Analyzer = "keyword"
	rawField.Store = true
	rawField.Index = false
	docMapping.AddFieldMappingsAt("transcript_json", rawField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func buildQuery(input, language string) query.Query {
	contentQuery := buildContentQuery(input)

	var must []query.Query
	if contentQuery != nil {
		must = append(must, contentQuery)
	}
	if lang := strings.TrimSpace(language); lang != "" {
		tq := query.NewTermQuery(lang)
		tq.SetField("language")
		must = append(must, tq)
	}

	switch len(must) {
	case 0:
		return nil
	case 1:
		return must[0]
	default:
		return query.NewConjunctionQuery(must)
	}
}

func buildContentQuery(input string) query.Query {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil
	}

	upper := strings.ToUpper(s)
	advanced := strings.ContainsAny(s, "\"'*()") ||
		strings.Contains(upper, " AND ") ||
		strings.Contains(upper, " OR ") ||
		strings.HasPrefix(upper, "NOT ")
	if advanced {
		return query.NewQueryStringQuery(s)
	}

	tokens := strings.Fields(s)
	conj := make([]query.Query, 0, len(tokens))
	for _, token := range tokens {
		mq := query.NewMatchQuery(token)
		mq.SetField("text")
		conj = append(conj, mq)
	}

	switch len(conj) {
	case 0:
		return nil
	case 1:
		return conj[0]
	default:
		return query.NewConjunctionQuery(conj)
	}
}
