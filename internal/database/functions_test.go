package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestIsConditionalCheckFailed(t *testing.T) {
	wrapped := fmt.Errorf("operation error: %w", &types.ConditionalCheckFailedException{Message: aws.String("nope")})
	if !isConditionalCheckFailed(wrapped) {
		t.Fatal("expected conditional check failure to be detected")
	}
	if isConditionalCheckFailed(errors.New("throttled")) {
		t.Fatal("plain error should not be a conditional failure")
	}
}

func TestIsTransactionConditionFailed(t *testing.T) {
	cancelled := &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	if !isTransactionConditionFailed(fmt.Errorf("wrap: %w", cancelled)) {
		t.Fatal("expected cancelled transaction with condition failure")
	}

	conflict := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("TransactionConflict")},
		},
	}
	if isTransactionConditionFailed(conflict) {
		t.Fatal("transaction conflict is not a condition failure")
	}
}
