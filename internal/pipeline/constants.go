package pipeline

// Task IDs of the ETL graph.
const (
	TaskExtractTransactions = "get_data_from_mysql"
	TaskFetchRates          = "get_conversion_rate"
	TaskMergeData           = "merge_data"
	TaskLoadToBQ            = "load_to_bq"
)

// DAGDoc is the description attached to the graph.
const DAGDoc = "# Load to BigQuery by bq load"
