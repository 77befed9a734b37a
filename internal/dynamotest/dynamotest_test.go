package dynamotest

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestPutItem_ConditionalCreate(t *testing.T) {
	db := New().CreateTable("things", "id")
	ctx := context.Background()

	in := &dyn.PutItemInput{
		TableName:           aws.String("things"),
		Item:                Item{"id": s("a"), "count": n("1")},
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	}
	_, err := db.PutItem(ctx, in)
	require.NoError(t, err)

	_, err = db.PutItem(ctx, in)
	var ccf *types.ConditionalCheckFailedException
	assert.True(t, errors.As(err, &ccf))
	assert.Equal(t, 1, db.Len("things"))
	assert.Equal(t, 2, db.Calls("PutItem"))
}

func TestUpdateItem_ArithmeticAndConditions(t *testing.T) {
	db := New().CreateTable("things", "id")
	db.Seed("things", Item{"id": s("a"), "stock": n("5"), "status": s("open")})
	ctx := context.Background()

	update := func(qty string) error {
		_, err := db.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                aws.String("things"),
			Key:                      Item{"id": s("a")},
			UpdateExpression:         aws.String("SET stock = stock - :q, #s = :s"),
			ConditionExpression:      aws.String("stock >= :q AND (#s = :open OR #s = :low)"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":    n(qty),
				":s":    s("low"),
				":open": s("open"),
				":low":  s("low"),
			},
		})
		return err
	}

	require.NoError(t, update("3"))
	assert.Equal(t, n("2"), db.Get("things", "a")["stock"])
	assert.Equal(t, s("low"), db.Get("things", "a")["status"])

	var ccf *types.ConditionalCheckFailedException
	assert.True(t, errors.As(update("3"), &ccf))
	assert.Equal(t, n("2"), db.Get("things", "a")["stock"])
}

func TestUpdateItem_IfNotExistsAndRemove(t *testing.T) {
	db := New().CreateTable("things", "id")
	ctx := context.Background()

	_, err := db.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        aws.String("things"),
		Key:              Item{"id": s("a")},
		UpdateExpression: aws.String("SET hits = if_not_exists(hits, :zero) + :one, owner = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": n("0"),
			":one":  n("1"),
			":o":    s("w1"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, n("1"), db.Get("things", "a")["hits"])

	_, err = db.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           aws.String("things"),
		Key:                 Item{"id": s("a")},
		UpdateExpression:    aws.String("SET hits = hits + :one REMOVE owner"),
		ConditionExpression: aws.String("attribute_exists(owner) AND NOT hits > :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": n("1"),
		},
	})
	require.NoError(t, err)
	it := db.Get("things", "a")
	assert.Equal(t, n("2"), it["hits"])
	assert.NotContains(t, it, "owner")
}

func TestQuery_SparseIndexOrdering(t *testing.T) {
	db := New().CreateTable("jobs", "id").AddIndex("jobs", "Due", "status", "due_at")
	db.Seed("jobs", Item{"id": s("j1"), "status": s("pending"), "due_at": n("30")})
	db.Seed("jobs", Item{"id": s("j2"), "status": s("pending"), "due_at": n("10")})
	db.Seed("jobs", Item{"id": s("j3"), "status": s("sent"), "due_at": n("5")})
	db.Seed("jobs", Item{"id": s("j4"), "status": s("pending")})

	out, err := db.Query(context.Background(), &dyn.QueryInput{
		TableName:                aws.String("jobs"),
		IndexName:                aws.String("Due"),
		KeyConditionExpression:   aws.String("#s = :p AND due_at <= :now"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":   s("pending"),
			":now": n("20"),
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, s("j2"), out.Items[0]["id"])

	out, err = db.Query(context.Background(), &dyn.QueryInput{
		TableName:                aws.String("jobs"),
		IndexName:                aws.String("Due"),
		KeyConditionExpression:   aws.String("#s = :p"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": s("pending"),
		},
		Limit: aws.Int32(5),
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	assert.Equal(t, s("j2"), out.Items[0]["id"])
	assert.Equal(t, s("j1"), out.Items[1]["id"])
}

func TestTransactWriteItems_AllOrNothing(t *testing.T) {
	db := New().CreateTable("orders", "id").CreateTable("keys", "key")
	db.Seed("keys", Item{"key": s("k1")})

	_, err := db.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String("orders"),
				Item:                Item{"id": s("o1")},
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String("keys"),
				Item:                Item{"key": s("k1")},
				ConditionExpression: aws.String("attribute_not_exists(#k)"),
				ExpressionAttributeNames: map[string]string{
					"#k": "key",
				},
			}},
		},
	})
	var tce *types.TransactionCanceledException
	require.True(t, errors.As(err, &tce))
	require.Len(t, tce.CancellationReasons, 2)
	assert.Equal(t, "None", aws.ToString(tce.CancellationReasons[0].Code))
	assert.Equal(t, "ConditionalCheckFailed", aws.ToString(tce.CancellationReasons[1].Code))
	assert.Equal(t, 0, db.Len("orders"))
}

func TestHook_FailsCall(t *testing.T) {
	db := New().CreateTable("things", "id")
	boom := errors.New("throttled")
	db.Hook = func(op string) error {
		if op == "GetItem" {
			return boom
		}
		return nil
	}

	_, err := db.GetItem(context.Background(), &dyn.GetItemInput{
		TableName: aws.String("things"),
		Key:       Item{"id": s("a")},
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, db.Calls("GetItem"))
}
