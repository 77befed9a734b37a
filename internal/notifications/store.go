package notifications

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
)

// DueIndex is the GSI (status, next_attempt_at) used to find due jobs.
const DueIndex = "status-next_attempt_at-index"

const (
	condJobNotExists = "attribute_not_exists(job_id)"
	condLeasable     = "attribute_exists(job_id) AND (#s = :pending OR #s = :failed OR #s = :processing) AND next_attempt_at <= :now"
	condOwned        = "#s = :processing AND locked_by = :owner"
	condDead         = "#s = :dead"
)

// Store encapsulates operations on the notification jobs table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Enqueue inserts a pending job for (orderID, kind). Returns created=false
// without error if the job already exists.
func (s *Store) Enqueue(ctx context.Context, orderID string, kind Kind, payload Payload) (Job, bool, error) {
	now := s.nowFunc().UTC()
	job := Job{
		JobID:         JobID(orderID, kind),
		OrderID:       orderID,
		Kind:          kind,
		Status:        StatusPending,
		NextAttemptAt: now.Unix(),
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return Job{}, false, fmt.Errorf("marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(condJobNotExists),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException" {
			return job, false, nil
		}
		return Job{}, false, fmt.Errorf("put job: %w", err)
	}
	return job, true, nil
}

// Get returns the job, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            jobKey(jobID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var j Job
	if err := attributevalue.UnmarshalMap(out.Item, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

// Lease claims a due job for owner until now+lease and counts the attempt.
// Pending and failed jobs are due once next_attempt_at has passed; processing
// jobs are due once their lease has expired. Returns ErrLeaseHeld otherwise.
func (s *Store) Lease(ctx context.Context, jobID, owner string, lease time.Duration) (*Job, error) {
	now := s.nowFunc().UTC()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      jobKey(jobID),
		UpdateExpression:         awsString("SET #s = :processing, locked_by = :owner, locked_at = :lockedAt, next_attempt_at = :until, attempts = attempts + :one, updated_at = :ua"),
		ConditionExpression:      awsString(condLeasable),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending":    &types.AttributeValueMemberS{Value: string(StatusPending)},
			":failed":     &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":processing": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":owner":      &types.AttributeValueMemberS{Value: owner},
			":lockedAt":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":until":      unixValue(now.Add(lease)),
			":now":        unixValue(now),
			":one":        &types.AttributeValueMemberN{Value: "1"},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return nil, s.whyNotLeasable(ctx, jobID)
		}
		return nil, fmt.Errorf("lease job: %w", err)
	}
	var j Job
	if err := attributevalue.UnmarshalMap(out.Attributes, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

func (s *Store) whyNotLeasable(ctx context.Context, jobID string) error {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j == nil {
		return ErrNotFound
	}
	return fmt.Errorf("%w: status %s", ErrLeaseHeld, j.Status)
}

// MarkSent records a successful delivery by the lease owner.
func (s *Store) MarkSent(ctx context.Context, jobID, owner, messageID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      jobKey(jobID),
		UpdateExpression:         awsString("SET #s = :sent, sent_at = :now, message_id = :mid, updated_at = :now REMOVE locked_by, locked_at"),
		ConditionExpression:      awsString(condOwned),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sent":       &types.AttributeValueMemberS{Value: string(StatusSent)},
			":processing": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":owner":      &types.AttributeValueMemberS{Value: owner},
			":mid":        &types.AttributeValueMemberS{Value: messageID},
			":now":        &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	return s.ownedErr(err, "mark sent")
}

// MarkFailed records a failed attempt by the lease owner. The job is retried
// after policy.Backoff(attempts), or dead-lettered once attempts reaches
// policy.MaxAttempts. Returns the status written and the retry time.
func (s *Store) MarkFailed(ctx context.Context, job *Job, owner, reason string, policy Policy) (Status, time.Time, error) {
	now := s.nowFunc().UTC()
	status := StatusFailed
	next := now.Add(policy.Backoff(job.Attempts))
	if job.Attempts >= policy.MaxAttempts {
		status = StatusDead
		next = now
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      jobKey(job.JobID),
		UpdateExpression:         awsString("SET #s = :status, last_error = :reason, next_attempt_at = :next, updated_at = :ua REMOVE locked_by, locked_at"),
		ConditionExpression:      awsString(condOwned),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(status)},
			":processing": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":owner":      &types.AttributeValueMemberS{Value: owner},
			":reason":     &types.AttributeValueMemberS{Value: truncate(reason, 1024)},
			":next":       unixValue(next),
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err := s.ownedErr(err, "mark failed"); err != nil {
		return "", time.Time{}, err
	}
	return status, next, nil
}

// Requeue moves a dead job back to pending with a fresh attempt budget.
func (s *Store) Requeue(ctx context.Context, jobID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      jobKey(jobID),
		UpdateExpression:         awsString("SET #s = :pending, attempts = :zero, next_attempt_at = :now, updated_at = :ua"),
		ConditionExpression:      awsString(condDead),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":dead":    &types.AttributeValueMemberS{Value: string(StatusDead)},
			":zero":    &types.AttributeValueMemberN{Value: "0"},
			":now":     unixValue(now),
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			j, getErr := s.Get(ctx, jobID)
			if getErr != nil {
				return getErr
			}
			if j == nil {
				return ErrNotFound
			}
			return fmt.Errorf("%w: status %s", ErrNotDead, j.Status)
		}
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// ListDue returns up to limit job ids that are due now across the pending,
// failed and processing (expired lease) partitions, oldest first per status.
func (s *Store) ListDue(ctx context.Context, limit int32) ([]string, error) {
	now := s.nowFunc().UTC()
	var ids []string
	for _, st := range []Status{StatusPending, StatusFailed, StatusProcessing} {
		if int32(len(ids)) >= limit {
			break
		}
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                &s.tableName,
			IndexName:                awsString(DueIndex),
			KeyConditionExpression:   awsString("#s = :status AND next_attempt_at <= :now"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(st)},
				":now":    unixValue(now),
			},
			Limit: awsInt32(limit - int32(len(ids))),
		})
		if err != nil {
			return nil, fmt.Errorf("query due %s jobs: %w", st, err)
		}
		for _, item := range out.Items {
			if v, ok := item["job_id"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
	}
	return ids, nil
}

func (s *Store) ownedErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var cfe *types.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		return ErrLeaseLost
	}
	return fmt.Errorf("%s: %w", op, err)
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: jobID},
	}
}

func unixValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }
