package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "http://localhost:8080"
	cartLines      = 5
	totalRequests  = 50
)

var client = &http.Client{Timeout: 30 * time.Second}

func main() {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// Clear previous test data
	var stale []struct {
		ID string `json:"id"`
	}
	call(baseURL, http.MethodGet, "/cart-lines", nil, nil, &stale)
	for _, l := range stale {
		call(baseURL, http.MethodDelete, "/cart-lines/"+l.ID, nil, nil, nil)
	}

	// Seed a product and fill the shared cart
	var product struct {
		ID string `json:"id"`
	}
	code := "stress-" + uuid.NewString()[:8]
	status := call(baseURL, http.MethodPost, "/products", nil,
		map[string]any{"code": code, "name": "Stress " + code, "price": "12500"}, &product)
	if status != http.StatusCreated {
		log.Fatalf("failed to create product: status %d", status)
	}
	lines := make([]map[string]any, 0, cartLines)
	for i := 0; i < cartLines; i++ {
		lines = append(lines, map[string]any{"productId": product.ID, "quantity": 2})
		if status := call(baseURL, http.MethodPost, "/cart-lines", nil,
			map[string]any{"productId": product.ID, "quantity": 2}, nil); status != http.StatusCreated {
			log.Fatalf("failed to add cart line: status %d", status)
		}
	}

	var (
		successCount  atomic.Int32
		emptyCount    atomic.Int32
		conflictCount atomic.Int32
		otherCount    atomic.Int32
		orderIDs      sync.Map
	)

	// Every request carries its own idempotency key, so the only thing that
	// stops a double order is the checkout transaction.
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(table int) {
			defer wg.Done()

			var out struct {
				OrderID string `json:"orderId"`
			}
			header := http.Header{"Idempotency-Key": []string{uuid.NewString()}}
			body := map[string]any{"customerName": "stress", "tableId": fmt.Sprintf("T%d", table), "lines": lines}
			switch call(baseURL, http.MethodPost, "/checkout", header, body, &out) {
			case http.StatusCreated:
				successCount.Add(1)
				orderIDs.Store(out.OrderID, struct{}{})
			case http.StatusBadRequest:
				emptyCount.Add(1)
			case http.StatusConflict:
				conflictCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Results
	fmt.Println("========== CHECKOUT RACE RESULTS ==========")
	fmt.Printf("Cart Lines:       %d\n", cartLines)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Placed:           %d\n", successCount.Load())
	fmt.Printf("Empty Cart:       %d\n", emptyCount.Load())
	fmt.Printf("Conflict:         %d\n", conflictCount.Load())
	fmt.Printf("Other:            %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("===========================================")

	if successCount.Load() == 1 && otherCount.Load() == 0 {
		fmt.Println("PASS: exactly one order placed from the cart")
	} else {
		fmt.Printf("FAIL: expected 1 order and no server errors, got %d orders and %d other\n",
			successCount.Load(), otherCount.Load())
	}

	// Verify the placed order carries every cart line
	orderIDs.Range(func(key, _ any) bool {
		var lines []json.RawMessage
		call(baseURL, http.MethodGet, "/admin/orders/"+key.(string)+"/lines", nil, nil, &lines)
		if len(lines) == cartLines {
			fmt.Printf("PASS: order %s has %d lines\n", key, len(lines))
		} else {
			fmt.Printf("FAIL: order %s has %d lines, expected %d\n", key, len(lines), cartLines)
		}
		return true
	})

	var remaining []json.RawMessage
	call(baseURL, http.MethodGet, "/cart-lines", nil, nil, &remaining)
	if len(remaining) == 0 {
		fmt.Println("PASS: cart is empty")
	} else {
		fmt.Printf("FAIL: cart still has %d lines\n", len(remaining))
	}
}

func call(baseURL, method, path string, header http.Header, body, out any) int {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("encode %s: %v", path, err)
		}
	}
	req, err := http.NewRequest(method, baseURL+path, &buf)
	if err != nil {
		log.Fatalf("build %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("%s %s: %v", method, path, err)
		return 0
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Printf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}
