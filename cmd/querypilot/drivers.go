package main

// DuckDB needs cgo, so only the binary registers it.
import _ "github.com/duckdb/duckdb-go/v2"
