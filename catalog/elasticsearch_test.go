// +build integration

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/funktionslust/goingest"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const testIndex = "goingest-catalog-test"

func buildCatalog(indices ...Index) (*ElasticsearchCatalog, error) {
	c := NewElasticsearchCatalog(ElasticsearchCatalogConfig{
		ServerURL: os.Getenv("ELASTICSEARCH_CATALOG_URL"),
		Index:     testIndex,
		Indices:   indices,
	})
	if err := goingest.InitStorage(context.Background(), c, "integration", zap.NewNop()); err != nil {
		return nil, err
	}
	return c, nil
}

func TestElasticsearchCatalog_Setup(t *testing.T) {
	t.Run("Simple", func(t *testing.T) {
		_, err := buildCatalog()
		assert.Nilf(t, err, "setup error")
	})
	t.Run("IndexMappingsDoNotMatch", func(t *testing.T) {
		_, err := buildCatalog(Index{
			Name: testIndex,
			Mappings: map[string]interface{}{
				"properties": map[string]interface{}{
					"title": map[string]interface{}{"type": "text"},
				},
			},
		})
		if assert.NotNilf(t, err, "mappings mismatch expected") {
			assert.Containsf(t, err.Error(), fmt.Sprintf("the mappings of %s index do not match", testIndex), "error message mismatch")
		}
	})
}

func TestElasticsearchCatalog_Notify(t *testing.T) {
	c, err := buildCatalog()
	if err != nil {
		t.Fatalf("catalog build error: %v", err)
	}
	done := &goingest.ImportDone{Unit: testUnit(), Checksums: []string{"aa", "bb"}}
	c.Notify(done)
	assert.Equalf(t, 0, c.Pending(), "records expected to be flushed")

	record, _ := NewRecord(done, testNow)
	doc, err := c.client.Get().Index(testIndex).Id(record.ID).Do(context.Background())
	if assert.Nilf(t, err, "get document error") {
		var source Record
		_ = json.Unmarshal(doc.Source, &source)
		assert.Equalf(t, done.Unit.EntryPath, source.EntryPath, "indexed entry path mismatch")
		assert.Equalf(t, StatusImported, source.Status, "indexed status mismatch")
	}
}
