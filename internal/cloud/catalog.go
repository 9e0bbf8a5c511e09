package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
)

// GlueAPI is the subset of the Glue client used by the Catalog adapter.
type GlueAPI interface {
	GetDatabase(ctx context.Context, params *glue.GetDatabaseInput, optFns ...func(*glue.Options)) (*glue.GetDatabaseOutput, error)
	CreateDatabase(ctx context.Context, params *glue.CreateDatabaseInput, optFns ...func(*glue.Options)) (*glue.CreateDatabaseOutput, error)
	DeleteTable(ctx context.Context, params *glue.DeleteTableInput, optFns ...func(*glue.Options)) (*glue.DeleteTableOutput, error)
	CreateTable(ctx context.Context, params *glue.CreateTableInput, optFns ...func(*glue.Options)) (*glue.CreateTableOutput, error)
	StartCrawler(ctx context.Context, params *glue.StartCrawlerInput, optFns ...func(*glue.Options)) (*glue.StartCrawlerOutput, error)
	GetCrawler(ctx context.Context, params *glue.GetCrawlerInput, optFns ...func(*glue.Options)) (*glue.GetCrawlerOutput, error)
}

// Column is one column of a catalog table schema.
type Column struct {
	Name string
	Type string
}

// TableSpec describes a catalog table: its name, explicit column schema and
// the storage location it points at. Tables are delimited text with a header
// row.
type TableSpec struct {
	Name     string
	Columns  []Column
	Location string
}

// Catalog manages the query engine's table metadata and the crawler.
type Catalog struct {
	api      GlueAPI
	database string
	crawler  string
}

// NewCatalog creates a Catalog bound to a database and crawler.
func NewCatalog(api GlueAPI, database, crawler string) *Catalog {
	return &Catalog{api: api, database: database, crawler: crawler}
}

// EnsureDatabase creates the database if it does not already exist.
func (c *Catalog) EnsureDatabase(ctx context.Context) error {
	_, err := c.api.GetDatabase(ctx, &glue.GetDatabaseInput{Name: aws.String(c.database)})
	if err == nil {
		return nil
	}
	var notFound *gluetypes.EntityNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("catalog: GetDatabase %q: %w", c.database, err)
	}

	_, err = c.api.CreateDatabase(ctx, &glue.CreateDatabaseInput{
		DatabaseInput: &gluetypes.DatabaseInput{Name: aws.String(c.database)},
	})
	if err != nil {
		var exists *gluetypes.AlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("catalog: CreateDatabase %q: %w", c.database, err)
	}
	return nil
}

// RecreateTable drops the table if it exists and creates it with the explicit
// schema and location from spec. Drop-then-create guarantees the catalog
// matches the exact uploaded layout instead of whatever the crawler last
// inferred.
func (c *Catalog) RecreateTable(ctx context.Context, spec TableSpec) error {
	_, err := c.api.DeleteTable(ctx, &glue.DeleteTableInput{
		DatabaseName: aws.String(c.database),
		Name:         aws.String(spec.Name),
	})
	if err != nil {
		var notFound *gluetypes.EntityNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("catalog: DeleteTable %q: %w", spec.Name, err)
		}
	}

	columns := make([]gluetypes.Column, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		columns = append(columns, gluetypes.Column{
			Name: aws.String(col.Name),
			Type: aws.String(col.Type),
		})
	}

	_, err = c.api.CreateTable(ctx, &glue.CreateTableInput{
		DatabaseName: aws.String(c.database),
		TableInput: &gluetypes.TableInput{
			Name:      aws.String(spec.Name),
			TableType: aws.String("EXTERNAL_TABLE"),
			Parameters: map[string]string{
				"classification":         "csv",
				"skip.header.line.count": "1",
			},
			StorageDescriptor: &gluetypes.StorageDescriptor{
				Columns:      columns,
				Location:     aws.String(spec.Location),
				InputFormat:  aws.String("org.apache.hadoop.mapred.TextInputFormat"),
				OutputFormat: aws.String("org.apache.hadoop.hive.ql.io.HiveIgnoreKeyTextOutputFormat"),
				SerdeInfo: &gluetypes.SerDeInfo{
					SerializationLibrary: aws.String("org.apache.hadoop.hive.serde2.lazy.LazySimpleSerDe"),
					Parameters: map[string]string{
						"field.delim":            ",",
						"skip.header.line.count": "1",
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: CreateTable %q: %w", spec.Name, err)
	}
	return nil
}

// StartCrawl starts the crawler. A crawler that is already running is treated
// as started.
func (c *Catalog) StartCrawl(ctx context.Context) error {
	_, err := c.api.StartCrawler(ctx, &glue.StartCrawlerInput{Name: aws.String(c.crawler)})
	if err != nil {
		var running *gluetypes.CrawlerRunningException
		if errors.As(err, &running) {
			return nil
		}
		return fmt.Errorf("catalog: StartCrawler %q: %w", c.crawler, err)
	}
	return nil
}

// CrawlerState fetches the crawler's current state. The crawler's model has
// no distinct failure state; returning to READY is its only terminal signal.
func (c *Catalog) CrawlerState(ctx context.Context) (string, error) {
	out, err := c.api.GetCrawler(ctx, &glue.GetCrawlerInput{Name: aws.String(c.crawler)})
	if err != nil {
		return "", fmt.Errorf("catalog: GetCrawler %q: %w", c.crawler, err)
	}
	if out.Crawler == nil {
		return "", fmt.Errorf("catalog: GetCrawler %q returned nil crawler", c.crawler)
	}
	return string(out.Crawler.State), nil
}

// CrawlerReady is the terminal crawler state awaited by the crawl stage.
const CrawlerReady = string(gluetypes.CrawlerStateReady)
