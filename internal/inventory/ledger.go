// Package inventory applies order stock decrements exactly once per order.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

const (
	condMarkerNotExists = "attribute_not_exists(order_id)"
	condProductExists   = "attribute_exists(product_id)"
)

// Line is one product decrement.
type Line struct {
	ProductID string `dynamodbav:"product_id" json:"productId"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
}

// Result describes what DecrementOnce did.
type Result struct {
	Applied []Line
	// Missing lists products that no longer exist; their lines were not applied.
	Missing []string
	// Skipped lists combo and implement lines, which carry no stock.
	Skipped []string
	// Unknown lists lines whose kind is not recognised.
	Unknown        []string
	AlreadyApplied bool
}

// Partial reports whether some product lines could not be applied.
func (r Result) Partial() bool {
	return len(r.Missing) > 0 || len(r.Unknown) > 0
}

type marker struct {
	OrderID   string    `dynamodbav:"order_id"`
	Applied   []Line    `dynamodbav:"applied"`
	Missing   []string  `dynamodbav:"missing,omitempty"`
	Unknown   []string  `dynamodbav:"unknown,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

type Ledger struct {
	client        aws.DynamoDBAPI
	productsTable string
	ledgerTable   string
	nowFunc       func() time.Time
}

func NewLedger(client aws.DynamoDBAPI, productsTable, ledgerTable string) *Ledger {
	return &Ledger{
		client:        client,
		productsTable: productsTable,
		ledgerTable:   ledgerTable,
		nowFunc:       time.Now,
	}
}

// DecrementOnce decrements stock for the Product lines of an order. The
// decrement and a per-order ledger marker are written in one transaction, so a
// second call for the same order is a no-op reporting AlreadyApplied.
func (l *Ledger) DecrementOnce(ctx context.Context, orderID string, items []orders.Item) (Result, error) {
	var res Result
	wanted := map[string]int{}
	for _, it := range items {
		switch it.Kind {
		case orders.KindProduct:
			wanted[it.ReferenceID] += it.Quantity
		case orders.KindCombo, orders.KindImplement:
			res.Skipped = append(res.Skipped, it.ReferenceID)
		default:
			res.Unknown = append(res.Unknown, it.ReferenceID)
		}
	}
	if len(wanted) > orders.MaxProductLines {
		return Result{}, fmt.Errorf("order %s has %d product lines, limit is %d", orderID, len(wanted), orders.MaxProductLines)
	}

	applied, err := l.applied(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if applied {
		res.AlreadyApplied = true
		return res, nil
	}

	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// a product deleted between the existence check and the write cancels the
	// transaction; the second pass sees it as missing
	for attempt := 0; attempt < 2; attempt++ {
		res.Applied, res.Missing = nil, nil
		for _, id := range ids {
			ok, err := l.productExists(ctx, id)
			if err != nil {
				return Result{}, err
			}
			if ok {
				res.Applied = append(res.Applied, Line{ProductID: id, Quantity: wanted[id]})
			} else {
				res.Missing = append(res.Missing, id)
			}
		}

		err := l.write(ctx, orderID, res)
		if err == nil {
			return res, nil
		}
		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return Result{}, fmt.Errorf("transact write: %w", err)
		}
		if markerConflict(tce) {
			return Result{Skipped: res.Skipped, Unknown: res.Unknown, AlreadyApplied: true}, nil
		}
	}
	return Result{}, fmt.Errorf("decrement stock for order %s: products changed concurrently", orderID)
}

func (l *Ledger) write(ctx context.Context, orderID string, res Result) error {
	now := l.nowFunc().UTC()
	m, err := attributevalue.MarshalMap(marker{
		OrderID:   orderID,
		Applied:   res.Applied,
		Missing:   res.Missing,
		Unknown:   res.Unknown,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("marshal ledger marker: %w", err)
	}

	txItems := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           &l.ledgerTable,
			Item:                m,
			ConditionExpression: awsString(condMarkerNotExists),
		},
	}}
	for _, line := range res.Applied {
		txItems = append(txItems, types.TransactWriteItem{
			Update: &types.Update{
				TableName: &l.productsTable,
				Key: map[string]types.AttributeValue{
					"product_id": &types.AttributeValueMemberS{Value: line.ProductID},
				},
				UpdateExpression: awsString("SET stock = stock - :q, updated_at = :ua"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(line.Quantity)},
					":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
				},
				ConditionExpression: awsString(condProductExists),
			},
		})
	}
	_, err = l.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: txItems})
	return err
}

func (l *Ledger) applied(ctx context.Context, orderID string) (bool, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &l.ledgerTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get ledger marker: %w", err)
	}
	return len(out.Item) > 0, nil
}

func (l *Ledger) productExists(ctx context.Context, productID string) (bool, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &l.productsTable,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get product %s: %w", productID, err)
	}
	return len(out.Item) > 0, nil
}

// markerConflict reports whether the cancellation came from the ledger marker,
// which is always the first transact item.
func markerConflict(tce *types.TransactionCanceledException) bool {
	if len(tce.CancellationReasons) == 0 {
		return false
	}
	code := tce.CancellationReasons[0].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
