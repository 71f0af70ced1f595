package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is passed explicitly into every pipeline task.
type Config struct {
	Source    Source    `yaml:"source"`
	Rates     Rates     `yaml:"rates"`
	Paths     Paths     `yaml:"paths"`
	Transform Transform `yaml:"transform"`
	Storage   Storage   `yaml:"storage"`
	Warehouse Warehouse `yaml:"warehouse"`
	DAG       DAG       `yaml:"dag"`

	LogLevel        string `yaml:"log_level"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Source describes the relational database holding the sales tables.
type Source struct {
	Driver            string `yaml:"driver"`
	DSN               string `yaml:"dsn"`
	TransactionsTable string `yaml:"transactions_table"`
	CatalogTable      string `yaml:"catalog_table"`
	TransactionKey    string `yaml:"transaction_key"`
	CatalogKey        string `yaml:"catalog_key"`
}

// Rates describes the conversion-rate endpoint.
type Rates struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Paths are the three CSV artifacts exchanged between tasks.
type Paths struct {
	Transactions    string `yaml:"transactions"`
	ConversionRates string `yaml:"conversion_rates"`
	Output          string `yaml:"output"`
}

// Transform names the columns the merge step works on.
type Transform struct {
	TimestampColumn string `yaml:"timestamp_column"`
	PriceColumn     string `yaml:"price_column"`
	RateColumn      string `yaml:"rate_column"`
	ConvertedColumn string `yaml:"converted_column"`
	CurrencySymbol  string `yaml:"currency_symbol"`
}

// Storage mirrors artifacts to a GCS bucket when Bucket is set.
type Storage struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Warehouse is the BigQuery load destination.
type Warehouse struct {
	Project          string `yaml:"project"`
	Dataset          string `yaml:"dataset"`
	Table            string `yaml:"table"`
	SourceURI        string `yaml:"source_uri"`
	Location         string `yaml:"location"`
	WriteDisposition string `yaml:"write_disposition"`
}

// DAG holds the task-graph metadata.
type DAG struct {
	ID          string   `yaml:"id"`
	Tags        []string `yaml:"tags"`
	Schedule    string   `yaml:"schedule"`
	MaxParallel int      `yaml:"max_parallel"`
}

// Default values, matching the workshop deployment.
const (
	DefaultDriver            = "mysql"
	DefaultTransactionsTable = "audible_transaction"
	DefaultCatalogTable      = "audible_data"
	DefaultTransactionKey    = "book_id"
	DefaultCatalogKey        = "Book_ID"

	DefaultRatesTimeout = 30 * time.Second

	DefaultTransactionsPath    = "data/audible_data_merged.csv"
	DefaultConversionRatesPath = "data/conversion_rate.csv"
	DefaultOutputPath          = "data/output.csv"

	DefaultTimestampColumn = "timestamp"
	DefaultPriceColumn     = "Price"
	DefaultRateColumn      = "conversion_rate"
	DefaultConvertedColumn = "THBPrice"
	DefaultCurrencySymbol  = "$"

	DefaultDataset          = "workshop"
	DefaultTable            = "audible_data"
	DefaultWriteDisposition = "WRITE_APPEND"

	DefaultDAGID       = "bq_load_dag"
	DefaultSchedule    = "@once"
	DefaultMaxParallel = 2

	DefaultLogLevel = "info"
)

// Load builds a Config from an optional YAML file, a .env file in the working
// directory, ETL_* environment variables and defaults, in increasing order of
// precedence except defaults, which only fill what is still empty.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Source.Driver, "ETL_SOURCE_DRIVER")
	setString(&c.Source.DSN, "ETL_SOURCE_DSN")
	setString(&c.Source.TransactionsTable, "ETL_SOURCE_TRANSACTIONS_TABLE")
	setString(&c.Source.CatalogTable, "ETL_SOURCE_CATALOG_TABLE")

	setString(&c.Rates.URL, "ETL_RATES_URL")
	if v, ok := os.LookupEnv("ETL_RATES_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ETL_RATES_TIMEOUT: %w", err)
		}
		c.Rates.Timeout = d
	}

	setString(&c.Paths.Transactions, "ETL_PATH_TRANSACTIONS")
	setString(&c.Paths.ConversionRates, "ETL_PATH_CONVERSION_RATES")
	setString(&c.Paths.Output, "ETL_PATH_OUTPUT")

	setString(&c.Storage.Bucket, "ETL_STORAGE_BUCKET")
	setString(&c.Storage.Prefix, "ETL_STORAGE_PREFIX")

	setString(&c.Warehouse.Project, "ETL_WAREHOUSE_PROJECT")
	setString(&c.Warehouse.Dataset, "ETL_WAREHOUSE_DATASET")
	setString(&c.Warehouse.Table, "ETL_WAREHOUSE_TABLE")
	setString(&c.Warehouse.SourceURI, "ETL_WAREHOUSE_SOURCE_URI")
	setString(&c.Warehouse.Location, "ETL_WAREHOUSE_LOCATION")

	if v, ok := os.LookupEnv("ETL_DAG_MAX_PARALLEL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ETL_DAG_MAX_PARALLEL: %w", err)
		}
		c.DAG.MaxParallel = n
	}

	setString(&c.LogLevel, "ETL_LOG_LEVEL")
	setString(&c.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func orDefault(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func (c *Config) applyDefaults() {
	orDefault(&c.Source.Driver, DefaultDriver)
	orDefault(&c.Source.TransactionsTable, DefaultTransactionsTable)
	orDefault(&c.Source.CatalogTable, DefaultCatalogTable)
	orDefault(&c.Source.TransactionKey, DefaultTransactionKey)
	orDefault(&c.Source.CatalogKey, DefaultCatalogKey)

	if c.Rates.Timeout <= 0 {
		c.Rates.Timeout = DefaultRatesTimeout
	}

	orDefault(&c.Paths.Transactions, DefaultTransactionsPath)
	orDefault(&c.Paths.ConversionRates, DefaultConversionRatesPath)
	orDefault(&c.Paths.Output, DefaultOutputPath)

	orDefault(&c.Transform.TimestampColumn, DefaultTimestampColumn)
	orDefault(&c.Transform.PriceColumn, DefaultPriceColumn)
	orDefault(&c.Transform.RateColumn, DefaultRateColumn)
	orDefault(&c.Transform.ConvertedColumn, DefaultConvertedColumn)
	orDefault(&c.Transform.CurrencySymbol, DefaultCurrencySymbol)

	orDefault(&c.Warehouse.Dataset, DefaultDataset)
	orDefault(&c.Warehouse.Table, DefaultTable)
	orDefault(&c.Warehouse.WriteDisposition, DefaultWriteDisposition)

	orDefault(&c.DAG.ID, DefaultDAGID)
	orDefault(&c.DAG.Schedule, DefaultSchedule)
	if len(c.DAG.Tags) == 0 {
		c.DAG.Tags = []string{"workshop"}
	}
	if c.DAG.MaxParallel <= 0 {
		c.DAG.MaxParallel = DefaultMaxParallel
	}

	orDefault(&c.LogLevel, DefaultLogLevel)
}

// Validate reports every setting the full pipeline needs but does not have.
func (c *Config) Validate() error {
	var errs []error
	if c.Source.DSN == "" {
		errs = append(errs, errors.New("source.dsn is required"))
	}
	switch c.Source.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("source.driver %q is not supported", c.Source.Driver))
	}
	if c.Rates.URL == "" {
		errs = append(errs, errors.New("rates.url is required"))
	}
	if c.Warehouse.Project == "" {
		errs = append(errs, errors.New("warehouse.project is required"))
	}
	if !strings.HasPrefix(c.Warehouse.SourceURI, "gs://") {
		errs = append(errs, fmt.Errorf("warehouse.source_uri must be a gs:// URI, got %q", c.Warehouse.SourceURI))
	}
	switch c.Warehouse.WriteDisposition {
	case "WRITE_APPEND", "WRITE_TRUNCATE", "WRITE_EMPTY":
	default:
		errs = append(errs, fmt.Errorf("warehouse.write_disposition %q is not supported", c.Warehouse.WriteDisposition))
	}
	return errors.Join(errs...)
}

// DestinationTable returns "dataset.table".
func (w Warehouse) DestinationTable() string {
	return w.Dataset + "." + w.Table
}
