// Package search provides full-text task lookup over a Bleve index.
//
// The index is a secondary structure: the store stays the source of
// truth, search returns ids and the caller re-reads each task. An entry
// going briefly stale therefore costs a wasted lookup, never a wrong
// answer.
package search

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/wrannaman/agentdo/board"
)

// taskDocument is the indexed projection of a task.
type taskDocument struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Status      string   `json:"status"`
}

// Index is a full-text index over tasks.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewMemoryIndex creates an in-memory index. Contents rebuild from the
// store on restart, so nothing is persisted.
func NewMemoryIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &Index{index: idx}, nil
}

// buildMapping analyzes title and description for full-text match and
// keeps tags and status as exact keywords.
func buildMapping() mapping.IndexMapping {
	taskMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	keywordField := bleve.NewKeywordFieldMapping()

	taskMapping.AddFieldMappingsAt("title", textField)
	taskMapping.AddFieldMappingsAt("description", textField)
	taskMapping.AddFieldMappingsAt("tags", keywordField)
	taskMapping.AddFieldMappingsAt("status", keywordField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = taskMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Upsert indexes a task, replacing any prior entry for its id.
func (x *Index) Upsert(task *board.Task) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.index.Index(task.ID, taskDocument{
		Title:       task.Title,
		Description: task.Description,
		Tags:        task.Tags,
		Status:      string(task.Status),
	})
}

// Delete removes a task from the index.
func (x *Index) Delete(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Delete(id)
}

// Query returns ids of tasks matching the text, best first. An optional
// status narrows the hits; limit caps them.
func (x *Index) Query(text, status string, limit int) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	matchQuery := bleve.NewMatchQuery(text)

	req := bleve.NewSearchRequest(matchQuery)
	if status != "" && status != "all" {
		statusQuery := bleve.NewTermQuery(status)
		statusQuery.SetField("status")

		boolQuery := bleve.NewBooleanQuery()
		boolQuery.AddMust(matchQuery)
		boolQuery.AddMust(statusQuery)
		req = bleve.NewSearchRequest(boolQuery)
	}
	req.Size = limit

	result, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close releases the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Close()
}
