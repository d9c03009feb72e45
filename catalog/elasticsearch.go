package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/funktionslust/goingest"

	"github.com/divideandconquer/go-merge/merge"
	"github.com/go-test/deep"
	"github.com/olivere/elastic/v7"
	"go.uber.org/zap"
)

const (
	// DefaultIndex is the name of the records index used when none is configured.
	DefaultIndex = "goingest-imports"
	// bulkRetries is the number of attempts of a throttled bulk request.
	bulkRetries = 15
	// defaultRetryDelay is the pause after a throttled bulk request.
	defaultRetryDelay = time.Minute
)

// Index represents the definition of a single Elasticsearch index.
type Index struct {
	Name     string
	Mappings map[string]interface{}
	Settings map[string]interface{}
}

// ElasticsearchCatalogConfig represents the ElasticsearchCatalog configurable fields model.
type ElasticsearchCatalogConfig struct {
	// ServerURL is the ES server URL with protocol and port. E.g. https://my.es.instance:9200.
	ServerURL string `validate:"required,url"`
	// Index is the name of the records index. Its mappings are always based on the record fields.
	Index string `validate:"required"`
	// Indices represents indices that will be created in case they don't exist.
	// Base index config support: set Index.Name to foo-base to make sure its definitions will be
	// merged with all configs that have the name foo-*.
	Indices []Index
	// IndicesPath represents the path to a directory that contains *.json files with createIndex
	// payload (mappings and settings). The file name is used as the index name.
	IndicesPath string
	// IndexSuffixes (prefix -> suffix) suffix will be appended to all index names that have a
	// matching prefix, this can be useful for versioning.
	IndexSuffixes map[string]string
	// FlushSize is the number of records buffered before they're sent in a single bulk request.
	FlushSize int `validate:"gte=0"`
	// RetryDelay is the pause after a throttled bulk request. Defaults to a minute.
	RetryDelay time.Duration
}

// NewElasticsearchCatalog returns a new instance of the ElasticsearchCatalog.
func NewElasticsearchCatalog(cfg ElasticsearchCatalogConfig) *ElasticsearchCatalog {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.FlushSize == 0 {
		cfg.FlushSize = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &ElasticsearchCatalog{
		Cfg: cfg,
		now: time.Now,
	}
}

// ElasticsearchCatalog is a goingest.Observer that indexes a Record per finished import into
// Elasticsearch. Subscribe it to the bus the driver publishes on.
type ElasticsearchCatalog struct {
	goingest.BaseStorage
	Cfg     ElasticsearchCatalogConfig
	client  *elastic.Client
	now     func() time.Time
	mu      sync.Mutex
	pending []*Record
}

// Setup contains the storage preparations like connection etc. Is called only once at the very
// beginning of the work with the storage. As for the ElasticsearchCatalog, it setups the internal
// client and indices.
func (c *ElasticsearchCatalog) Setup() error {
	if err := c.setupClient(); err != nil {
		return err
	}
	return c.setupIndices()
}

// AfterRun sends the buffered records.
func (c *ElasticsearchCatalog) AfterRun() error {
	return c.Flush()
}

// Shutdown sends the buffered records. Failures are logged only.
func (c *ElasticsearchCatalog) Shutdown() {
	if err := c.Flush(); err != nil {
		c.Logger.Error("failed to flush the catalog records", zap.Error(err))
	}
}

// Notify buffers the record of a finished import and sends the buffer once it's full.
func (c *ElasticsearchCatalog) Notify(e goingest.Event) {
	record, ok := NewRecord(e, c.now())
	if !ok {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, record)
	full := len(c.pending) >= c.Cfg.FlushSize
	c.mu.Unlock()
	if !full {
		return
	}
	if err := c.Flush(); err != nil {
		c.Logger.Error("failed to index the catalog records", zap.String("entry_path", record.EntryPath), zap.Error(err))
	}
}

// Pending returns the number of buffered records.
func (c *ElasticsearchCatalog) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush sends the buffered records in a single bulk request. The records which failed to be
// indexed stay in the buffer.
func (c *ElasticsearchCatalog) Flush() error {
	c.mu.Lock()
	records := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(records) == 0 {
		return nil
	}
	failed, err := c.index(records)
	if len(failed) != 0 {
		c.mu.Lock()
		c.pending = append(failed, c.pending...)
		c.mu.Unlock()
	}
	return err
}

// index indexes the records and returns the ones that failed.
func (c *ElasticsearchCatalog) index(records []*Record) ([]*Record, error) {
	index := c.indexWithSuffix(c.Cfg.Index)
	bulkService := c.client.Bulk()
	for _, r := range records {
		bulkService.Add(elastic.NewBulkIndexRequest().Index(index).Id(r.ID).Doc(r))
	}
	c.Logger.Debug("indexing catalog records", zap.Int("records", len(records)), zap.String("index", index))
	bulkResponse, err := c.executeBulkWithRetries(bulkService, bulkRetries, 1)
	if err != nil {
		return records, err
	}
	items := bulkResponse.Indexed()
	if len(items) != len(records) {
		return records, errors.New("length of indexed and sent records do not match")
	}
	var failed []*Record
	var errs []string
	for i, item := range items {
		if item.Status < 200 || item.Status > 299 {
			failed = append(failed, records[i])
			errs = append(errs, fmt.Sprintf("%s: status %d: %+v", records[i].EntryPath, item.Status, item.Error))
		}
	}
	if len(failed) != 0 {
		return failed, fmt.Errorf("failed to index %d records: %s", len(failed), strings.Join(errs, " || "))
	}
	return nil, nil
}

// executeBulkWithRetries executes the bulkService operations with taking care of possible throttling
// from the ES server side as pause and retry.
func (c *ElasticsearchCatalog) executeBulkWithRetries(bulkService *elastic.BulkService, retries int, try int) (*elastic.BulkResponse, error) {
	bulkResponse, err := bulkService.Do(c.Context)
	if err != nil && elastic.IsStatusCode(err, http.StatusTooManyRequests) && try <= retries {
		c.Logger.Info("automatic throttling due to Error 429 (Too Many Requests)", zap.Int("try", try))
		select {
		case <-time.After(c.Cfg.RetryDelay):
		case <-c.Context.Done():
			return nil, c.Context.Err()
		}
		return c.executeBulkWithRetries(bulkService, retries, try+1)
	}
	return bulkResponse, err
}

// setupClient initializes a ES client for the catalog needs.
func (c *ElasticsearchCatalog) setupClient() error {
	client, err := elastic.NewClient(elastic.SetURL(c.Cfg.ServerURL), elastic.SetSniff(false))
	if err != nil {
		return err
	}
	if _, _, err = client.Ping(c.Cfg.ServerURL).Do(c.Context); err != nil {
		return err
	}
	c.client = client
	return nil
}

// setupIndices creates the missing indices and validates the existing ones.
func (c *ElasticsearchCatalog) setupIndices() error {
	fileIndices, err := readIndices(c.Cfg.IndicesPath)
	if err != nil {
		return err
	}
	indices := c.indices(append(c.Cfg.Indices, fileIndices...))
	existing, err := c.client.IndexGet(indexNames(indices)...).IgnoreUnavailable(true).Do(c.Context)
	if err != nil {
		return err
	}
	for _, config := range indices {
		if index, ok := existing[config.Name]; ok {
			if err := validateIndex(index, config); err != nil {
				return err
			}
			continue
		}
		body := map[string]interface{}{"settings": config.Settings, "mappings": config.Mappings}
		if _, err := c.client.CreateIndex(config.Name).BodyJson(body).Do(c.Context); err != nil {
			return fmt.Errorf("failed to create the %s index: %v", config.Name, err)
		}
		c.Logger.Info("index created", zap.String("index", config.Name))
	}
	return nil
}

// indices returns the final definitions of the configured indices. The records index is always
// among them and its mappings are based on the record fields.
func (c *ElasticsearchCatalog) indices(configured []Index) []Index {
	all := append([]Index{{Name: c.Cfg.Index + "-base", Mappings: recordMappings()}}, configured...)
	hasRecords := false
	for _, index := range configured {
		if index.Name == c.Cfg.Index {
			hasRecords = true
		}
	}
	if !hasRecords {
		all = append(all, Index{Name: c.Cfg.Index})
	}
	return preprocessIndices(all, c.Cfg.IndexSuffixes)
}

// indexWithSuffix appends a suffix to the index name based on the IndexSuffixes.
func (c *ElasticsearchCatalog) indexWithSuffix(name string) string {
	return withSuffix(name, c.Cfg.IndexSuffixes)
}

// preprocessIndices appends the index suffix to all index names and merges base index
// configurations into them.
func preprocessIndices(indices []Index, suffixes map[string]string) []Index {
	baseIndices := make(map[string]Index, len(indices))
	nonBaseIndices := make([]Index, 0, len(indices))
	for _, index := range indices {
		index.Mappings = orEmpty(index.Mappings)
		index.Settings = orEmpty(index.Settings)
		if name := strings.TrimSuffix(index.Name, "-base"); name != index.Name {
			baseIndices[name] = index
		} else {
			nonBaseIndices = append(nonBaseIndices, index)
		}
	}
	processed := make([]Index, 0, len(nonBaseIndices))
	for _, index := range nonBaseIndices {
		for prefix, base := range baseIndices {
			if strings.HasPrefix(index.Name, prefix) {
				index.Mappings = merge.Merge(base.Mappings, index.Mappings).(map[string]interface{})
				index.Settings = merge.Merge(base.Settings, index.Settings).(map[string]interface{})
			}
		}
		index.Name = withSuffix(index.Name, suffixes)
		processed = append(processed, index)
	}
	return processed
}

// validateIndex compares the mappings of the existing index with the configured ones.
func validateIndex(existing *elastic.IndicesGetResponse, config Index) error {
	if diff := deep.Equal(existing.Mappings, config.Mappings); diff != nil {
		return fmt.Errorf("the mappings of %s index do not match: %s", config.Name, strings.Join(diff, " || "))
	}
	return nil
}

// readIndices reads the index definition files of the directory.
func readIndices(dir string) ([]Index, error) {
	if dir == "" {
		return nil, nil
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	indices := []Index{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		var definition struct {
			Settings map[string]interface{} `json:"settings"`
			Mappings map[string]interface{} `json:"mappings"`
		}
		if err := json.Unmarshal(content, &definition); err != nil {
			return nil, fmt.Errorf("invalid index definition %s: %v", file.Name(), err)
		}
		indices = append(indices, Index{
			Name:     strings.TrimSuffix(file.Name(), ".json"),
			Settings: definition.Settings,
			Mappings: definition.Mappings,
		})
	}
	return indices, nil
}

// indexNames returns the names of the indices.
func indexNames(indices []Index) []string {
	names := make([]string, 0, len(indices))
	for _, index := range indices {
		if index.Name != "" {
			names = append(names, index.Name)
		}
	}
	return names
}

func withSuffix(name string, suffixes map[string]string) string {
	for prefix, suffix := range suffixes {
		if strings.HasPrefix(name, prefix) {
			return name + suffix
		}
	}
	return name
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
