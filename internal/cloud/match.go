package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/entityresolution"
	ertypes "github.com/aws/aws-sdk-go-v2/service/entityresolution/types"
)

// MatchAPI is the subset of the Entity Resolution client used by the
// MatchEngine adapter.
type MatchAPI interface {
	GetSchemaMapping(ctx context.Context, params *entityresolution.GetSchemaMappingInput, optFns ...func(*entityresolution.Options)) (*entityresolution.GetSchemaMappingOutput, error)
	CreateSchemaMapping(ctx context.Context, params *entityresolution.CreateSchemaMappingInput, optFns ...func(*entityresolution.Options)) (*entityresolution.CreateSchemaMappingOutput, error)
	GetMatchingWorkflow(ctx context.Context, params *entityresolution.GetMatchingWorkflowInput, optFns ...func(*entityresolution.Options)) (*entityresolution.GetMatchingWorkflowOutput, error)
	CreateMatchingWorkflow(ctx context.Context, params *entityresolution.CreateMatchingWorkflowInput, optFns ...func(*entityresolution.Options)) (*entityresolution.CreateMatchingWorkflowOutput, error)
	StartMatchingJob(ctx context.Context, params *entityresolution.StartMatchingJobInput, optFns ...func(*entityresolution.Options)) (*entityresolution.StartMatchingJobOutput, error)
	GetMatchingJob(ctx context.Context, params *entityresolution.GetMatchingJobInput, optFns ...func(*entityresolution.Options)) (*entityresolution.GetMatchingJobOutput, error)
	ListMatchingJobs(ctx context.Context, params *entityresolution.ListMatchingJobsInput, optFns ...func(*entityresolution.Options)) (*entityresolution.ListMatchingJobsOutput, error)
}

// ErrQuotaExceeded reports that the matching service refused to start a job
// because its concurrency limit is reached. Callers recover by waiting on an
// already-active job instead.
var ErrQuotaExceeded = errors.New("matching job concurrency limit exceeded")

// ErrNoActiveJob reports that no running or queued matching job exists for
// the workflow.
var ErrNoActiveJob = errors.New("no active matching job")

// WorkflowSpec describes the matching workflow binding: schema, input table
// reference, output location and execution role. Matching is exact on email
// and phone.
type WorkflowSpec struct {
	Name           string
	SchemaName     string
	SchemaARN      string
	InputSourceARN string
	OutputS3Path   string
	RoleARN        string
}

// Matching job terminal states awaited by the match-job stage.
const (
	JobSucceeded = string(ertypes.JobStatusSucceeded)
	JobFailed    = string(ertypes.JobStatusFailed)
)

// MatchEngine wraps the record-matching service.
type MatchEngine struct {
	api MatchAPI
}

// NewMatchEngine creates a MatchEngine.
func NewMatchEngine(api MatchAPI) *MatchEngine {
	return &MatchEngine{api: api}
}

// EnsureSchema gets or creates the named schema mapping describing borrower
// identity fields and returns its ARN. Idempotent by name.
func (m *MatchEngine) EnsureSchema(ctx context.Context, name string) (string, error) {
	out, err := m.api.GetSchemaMapping(ctx, &entityresolution.GetSchemaMappingInput{
		SchemaName: aws.String(name),
	})
	if err == nil {
		return aws.ToString(out.SchemaArn), nil
	}
	var notFound *ertypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return "", fmt.Errorf("match: GetSchemaMapping %q: %w", name, err)
	}

	created, err := m.api.CreateSchemaMapping(ctx, &entityresolution.CreateSchemaMappingInput{
		SchemaName:  aws.String(name),
		Description: aws.String("Borrower Information Schema"),
		MappedInputFields: []ertypes.SchemaInputAttribute{
			{FieldName: aws.String("borrower_id"), Type: ertypes.SchemaAttributeTypeUniqueId},
			{FieldName: aws.String("first_name"), Type: ertypes.SchemaAttributeTypeName},
			{FieldName: aws.String("last_name"), Type: ertypes.SchemaAttributeTypeName},
			{FieldName: aws.String("email"), Type: ertypes.SchemaAttributeTypeEmailAddress, MatchKey: aws.String("email")},
			{FieldName: aws.String("phone"), Type: ertypes.SchemaAttributeTypePhoneNumber, MatchKey: aws.String("phone")},
			{FieldName: aws.String("property_id"), Type: ertypes.SchemaAttributeTypeProviderId, SubType: aws.String("property")},
		},
	})
	if err != nil {
		var conflict *ertypes.ConflictException
		if errors.As(err, &conflict) {
			// Lost a creation race; the mapping exists now.
			existing, getErr := m.api.GetSchemaMapping(ctx, &entityresolution.GetSchemaMappingInput{
				SchemaName: aws.String(name),
			})
			if getErr != nil {
				return "", fmt.Errorf("match: GetSchemaMapping after conflict %q: %w", name, getErr)
			}
			return aws.ToString(existing.SchemaArn), nil
		}
		return "", fmt.Errorf("match: CreateSchemaMapping %q: %w", name, err)
	}
	return aws.ToString(created.SchemaArn), nil
}

// EnsureWorkflow gets or creates the named matching workflow. Creation
// acknowledgment and read-availability are not synchronous in the service;
// callers must wait for WorkflowVisible before starting a job.
func (m *MatchEngine) EnsureWorkflow(ctx context.Context, spec WorkflowSpec) error {
	_, err := m.api.GetMatchingWorkflow(ctx, &entityresolution.GetMatchingWorkflowInput{
		WorkflowName: aws.String(spec.Name),
	})
	if err == nil {
		return nil
	}
	var notFound *ertypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("match: GetMatchingWorkflow %q: %w", spec.Name, err)
	}

	_, err = m.api.CreateMatchingWorkflow(ctx, &entityresolution.CreateMatchingWorkflowInput{
		WorkflowName: aws.String(spec.Name),
		Description:  aws.String("Borrower Matching Workflow"),
		RoleArn:      aws.String(spec.RoleARN),
		InputSourceConfig: []ertypes.InputSource{
			{
				InputSourceARN: aws.String(spec.InputSourceARN),
				SchemaName:     aws.String(spec.SchemaName),
			},
		},
		OutputSourceConfig: []ertypes.OutputSource{
			{
				OutputS3Path: aws.String(spec.OutputS3Path),
				Output: []ertypes.OutputAttribute{
					{Name: aws.String("borrower_id")},
					{Name: aws.String("email")},
					{Name: aws.String("phone")},
				},
			},
		},
		ResolutionTechniques: &ertypes.ResolutionTechniques{
			ResolutionType: ertypes.ResolutionTypeRuleMatching,
			RuleBasedProperties: &ertypes.RuleBasedProperties{
				AttributeMatchingModel: ertypes.AttributeMatchingModelOneToOne,
				Rules: []ertypes.Rule{
					{
						RuleName:     aws.String("ExactMatch"),
						MatchingKeys: []string{"email", "phone"},
					},
				},
			},
		},
	})
	if err != nil {
		var conflict *ertypes.ConflictException
		if errors.As(err, &conflict) {
			return nil
		}
		// Duplicate workflows surface under more than one code depending on
		// the service revision.
		switch apiErrorCode(err) {
		case "ConflictException", "ResourceAlreadyExistsException":
			return nil
		}
		return fmt.Errorf("match: CreateMatchingWorkflow %q: %w", spec.Name, err)
	}
	return nil
}

// WorkflowVisible reports whether the workflow can be read back yet.
func (m *MatchEngine) WorkflowVisible(ctx context.Context, name string) (bool, error) {
	_, err := m.api.GetMatchingWorkflow(ctx, &entityresolution.GetMatchingWorkflowInput{
		WorkflowName: aws.String(name),
	})
	if err == nil {
		return true, nil
	}
	var notFound *ertypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("match: GetMatchingWorkflow %q: %w", name, err)
}

// StartJob starts a matching job for the workflow and returns its job ID.
// Returns ErrQuotaExceeded when the service's concurrency limit is reached.
func (m *MatchEngine) StartJob(ctx context.Context, workflow string) (string, error) {
	out, err := m.api.StartMatchingJob(ctx, &entityresolution.StartMatchingJobInput{
		WorkflowName: aws.String(workflow),
	})
	if err != nil {
		var limit *ertypes.ExceedsLimitException
		if errors.As(err, &limit) {
			return "", ErrQuotaExceeded
		}
		return "", fmt.Errorf("match: StartMatchingJob %q: %w", workflow, err)
	}
	return aws.ToString(out.JobId), nil
}

// ActiveJob lists the workflow's jobs and returns the most recently started
// one that is still running or queued. Used to recover from ErrQuotaExceeded
// by adopting the job already in flight.
func (m *MatchEngine) ActiveJob(ctx context.Context, workflow string) (string, error) {
	var (
		bestID    string
		bestStart time.Time
		token     *string
	)
	for {
		out, err := m.api.ListMatchingJobs(ctx, &entityresolution.ListMatchingJobsInput{
			WorkflowName: aws.String(workflow),
			NextToken:    token,
		})
		if err != nil {
			return "", fmt.Errorf("match: ListMatchingJobs %q: %w", workflow, err)
		}
		for _, job := range out.Jobs {
			if job.Status != ertypes.JobStatusRunning && job.Status != ertypes.JobStatusQueued {
				continue
			}
			started := time.Time{}
			if job.StartTime != nil {
				started = *job.StartTime
			}
			if bestID == "" || started.After(bestStart) {
				bestID = aws.ToString(job.JobId)
				bestStart = started
			}
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	if bestID == "" {
		return "", ErrNoActiveJob
	}
	return bestID, nil
}

// JobStatus fetches the status of a matching job.
func (m *MatchEngine) JobStatus(ctx context.Context, workflow, jobID string) (string, error) {
	out, err := m.api.GetMatchingJob(ctx, &entityresolution.GetMatchingJobInput{
		WorkflowName: aws.String(workflow),
		JobId:        aws.String(jobID),
	})
	if err != nil {
		return "", fmt.Errorf("match: GetMatchingJob %q/%q: %w", workflow, jobID, err)
	}
	return string(out.Status), nil
}
