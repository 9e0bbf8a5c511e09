package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

// AthenaAPI is the subset of the Athena client used by the QueryEngine adapter.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

// Query execution terminal states awaited by the query stages.
const (
	QuerySucceeded = string(athenatypes.QueryExecutionStateSucceeded)
	QueryFailed    = string(athenatypes.QueryExecutionStateFailed)
	QueryCancelled = string(athenatypes.QueryExecutionStateCancelled)
)

// QueryStatus is the normalized status of a query execution.
type QueryStatus struct {
	State  string
	Reason string // state change reason, populated on failure
}

// QueryEngine wraps the query execution service, scoped to one database.
type QueryEngine struct {
	api      AthenaAPI
	database string
}

// NewQueryEngine creates a QueryEngine bound to a database.
func NewQueryEngine(api AthenaAPI, database string) *QueryEngine {
	return &QueryEngine{api: api, database: database}
}

// Start submits a query with results written to outputLocation and returns
// the execution ID immediately; completion is observed via Status.
func (q *QueryEngine) Start(ctx context.Context, sql, outputLocation string) (string, error) {
	out, err := q.api.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(q.database),
		},
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(outputLocation),
		},
	})
	if err != nil {
		return "", fmt.Errorf("query: StartQueryExecution: %w", err)
	}
	return aws.ToString(out.QueryExecutionId), nil
}

// Status fetches the execution state of a query.
func (q *QueryEngine) Status(ctx context.Context, executionID string) (QueryStatus, error) {
	out, err := q.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return QueryStatus{}, fmt.Errorf("query: GetQueryExecution %q: %w", executionID, err)
	}
	if out.QueryExecution == nil || out.QueryExecution.Status == nil {
		return QueryStatus{}, fmt.Errorf("query: GetQueryExecution %q returned no status", executionID)
	}
	st := out.QueryExecution.Status
	return QueryStatus{
		State:  string(st.State),
		Reason: aws.ToString(st.StateChangeReason),
	}, nil
}

// ResultRows fetches all result rows of a completed query, following
// pagination. The first row is the column header for SELECT queries.
func (q *QueryEngine) ResultRows(ctx context.Context, executionID string) ([][]string, error) {
	var (
		rows  [][]string
		token *string
	)
	for {
		out, err := q.api.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(executionID),
			NextToken:        token,
		})
		if err != nil {
			return nil, fmt.Errorf("query: GetQueryResults %q: %w", executionID, err)
		}
		if out.ResultSet != nil {
			for _, row := range out.ResultSet.Rows {
				cells := make([]string, 0, len(row.Data))
				for _, d := range row.Data {
					cells = append(cells, aws.ToString(d.VarCharValue))
				}
				rows = append(rows, cells)
			}
		}
		if out.NextToken == nil {
			return rows, nil
		}
		token = out.NextToken
	}
}
