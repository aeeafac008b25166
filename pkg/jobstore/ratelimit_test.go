package jobstore

import (
	"testing"
	"time"
)

func TestTokenBucket_RefundRestoresConsumedToken(t *testing.T) {
	b := NewTokenBucket(1, time.Hour)

	if !b.Allow() {
		t.Fatal("expected the first Allow to succeed on a full bucket")
	}
	if b.Allow() {
		t.Fatal("expected the bucket to be empty after its one token was consumed")
	}

	b.Refund()

	if !b.Allow() {
		t.Error("expected Refund to restore the token Allow consumed")
	}
}

func TestTokenBucket_RefundNeverExceedsMax(t *testing.T) {
	b := NewTokenBucket(1, time.Hour)

	b.Refund()
	b.Refund()

	if !b.Allow() {
		t.Fatal("expected a token to be available")
	}
	if b.Allow() {
		t.Error("expected Refund to cap tokens at max rather than accumulate")
	}
}
