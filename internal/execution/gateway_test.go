package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/multierr"

	"ladderbot/internal/exchange"
	"ladderbot/internal/ladder"
	"ladderbot/internal/market"
)

type mockOrderClient struct {
	batchSize int
	chunks    []int
	failRung  map[int]bool
	abortAt   int
}

func (m *mockOrderClient) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{BatchSize: m.batchSize}
}

func (m *mockOrderClient) SubmitOrders(ctx context.Context, pair market.AssetPair, orders []ladder.Order) (exchange.SubmitResult, error) {
	m.chunks = append(m.chunks, len(orders))
	if m.abortAt > 0 && len(m.chunks) == m.abortAt {
		return exchange.SubmitResult{}, context.Canceled
	}

	var result exchange.SubmitResult
	for _, o := range orders {
		if m.failRung[o.Rung] {
			result.Failed = append(result.Failed, &exchange.OrderError{Rung: o.Rung, Side: o.Side, Leg: "开仓", Err: errors.New("rejected")})
			continue
		}
		result.IDs = append(result.IDs, fmt.Sprintf("id-%d", o.Rung))
	}
	return result, nil
}

func makeOrders(n int) []ladder.Order {
	orders := make([]ladder.Order, 0, n)
	for i := 1; i <= n; i++ {
		orders = append(orders, ladder.Order{Pair: "XETHZUSD", Rung: i, Side: market.SideSell, Price: float64(100 + i), Volume: 1})
	}
	return orders
}

func testPair() market.AssetPair {
	return market.AssetPair{ID: "XETHZUSD", Symbol: "ETH/USD", Base: "ETH", Quote: "USD", PriceDecimals: 2, VolumeDecimals: 8}
}

func TestGatewayPlace_ChunksByBatchSize(t *testing.T) {
	client := &mockOrderClient{batchSize: 15}
	gateway := NewGateway(client, nil)

	result, err := gateway.Place(context.Background(), testPair(), makeOrders(32))
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if result.Placed != 32 || result.Expected != 32 {
		t.Fatalf("unexpected result %+v", result)
	}

	expected := []int{15, 15, 2}
	if len(client.chunks) != len(expected) {
		t.Fatalf("unexpected chunk count: got %v want %v", client.chunks, expected)
	}
	for i, size := range expected {
		if client.chunks[i] != size {
			t.Errorf("chunk %d mismatch: got %d want %d", i, client.chunks[i], size)
		}
	}
}

func TestGatewayPlace_EmptyIsNoop(t *testing.T) {
	client := &mockOrderClient{batchSize: 15}
	result, err := NewGateway(client, nil).Place(context.Background(), testPair(), nil)
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if result.Expected != 0 || len(client.chunks) != 0 {
		t.Fatalf("empty placement must not reach the exchange: %+v %v", result, client.chunks)
	}
}

func TestGatewayPlace_AggregatesFailures(t *testing.T) {
	client := &mockOrderClient{batchSize: 2, failRung: map[int]bool{2: true, 5: true}}
	result, err := NewGateway(client, nil).Place(context.Background(), testPair(), makeOrders(5))

	var placementErr *OrderPlacementError
	if !errors.As(err, &placementErr) {
		t.Fatalf("expected OrderPlacementError, got %v", err)
	}
	if placementErr.Placed != 3 || placementErr.Expected != 5 || result.Placed != 3 {
		t.Fatalf("unexpected counts: %+v", placementErr)
	}
	if got := len(multierr.Errors(placementErr.Err)); got != 2 {
		t.Fatalf("expected 2 aggregated errors, got %d", got)
	}

	var orderErr *exchange.OrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("per-order errors should be reachable through errors.As")
	}
}

func TestGatewayPlace_StopsWhenSubmissionAborts(t *testing.T) {
	client := &mockOrderClient{batchSize: 2, abortAt: 2}
	result, err := NewGateway(client, nil).Place(context.Background(), testPair(), makeOrders(6))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface, got %v", err)
	}
	if len(client.chunks) != 2 || result.Placed != 2 {
		t.Fatalf("expected to stop after the aborted chunk, chunks=%v placed=%d", client.chunks, result.Placed)
	}
}
