// Benchmark tool for replaying labeled PaySim fraud data against FraudSentry.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// Each row is sent to POST /analyze. A FRAUDULENT verdict (or SUSPICIOUS with
// -suspicious) counts as a positive and is compared with the isFraud label.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

// baseTime anchors PaySim steps (hours since the start of the simulation).
var baseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// LabeledTransaction is one CSV row ready to send.
type LabeledTransaction struct {
	Request domain.TransactionRequest
	IsFraud bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func (m *Metrics) record(predicted, actual bool) {
	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Precision is the share of alerts that were fraud.
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is the share of fraud that raised an alert.
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "FraudSentry base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent requests")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	suspicious := flag.Bool("suspicious", false, "Count SUSPICIOUS verdicts as positives")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: FraudSentry not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	transactions, err := readPaySim(file, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions from %s\n", len(transactions), *csvPath)

	start := time.Now()
	m := run(context.Background(), client, transactions, *baseURL, *tenantID, *workers, *suspicious, *verbose)
	printResults(m, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// paymentMethods maps PaySim transaction types to payment methods.
var paymentMethods = map[string]string{
	"PAYMENT":  "credit_card",
	"DEBIT":    "debit_card",
	"TRANSFER": "bank_transfer",
	"CASH_OUT": "cash",
	"CASH_IN":  "cash",
}

// readPaySim parses a PaySim CSV. Malformed rows are skipped.
func readPaySim(r io.Reader, limit int, fraudOnly bool) ([]LabeledTransaction, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"step", "type", "amount", "nameorig", "namedest", "isfraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var out []LabeledTransaction
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(record) < len(header) {
			continue
		}

		isFraud := record[col["isfraud"]] == "1"
		if fraudOnly && !isFraud {
			continue
		}

		amount, err := strconv.ParseFloat(record[col["amount"]], 64)
		if err != nil || amount <= 0 {
			continue
		}
		step, _ := strconv.Atoi(record[col["step"]])
		ts := baseTime.Add(time.Duration(step) * time.Hour)

		txType := strings.ToUpper(record[col["type"]])
		method, ok := paymentMethods[txType]
		if !ok {
			method = strings.ToLower(txType)
		}

		out = append(out, LabeledTransaction{
			Request: domain.TransactionRequest{
				Amount:        amount,
				Source:        strings.ToLower(txType),
				MerchantID:    record[col["namedest"]],
				PaymentMethod: method,
				Location:      "paysim",
				UserID:        record[col["nameorig"]],
				Timestamp:     &ts,
			},
			IsFraud: isFraud,
		})

		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func run(ctx context.Context, client *http.Client, transactions []LabeledTransaction, baseURL, tenantID string, workers int, suspicious, verbose bool) *Metrics {
	m := &Metrics{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for _, tx := range transactions {
		g.Go(func() error {
			start := time.Now()
			resp, err := analyze(ctx, client, baseURL, tenantID, tx.Request)
			atomic.AddInt64(&m.ProcessingTimeMs, time.Since(start).Milliseconds())
			atomic.AddInt64(&m.TotalProcessed, 1)

			if err != nil {
				atomic.AddInt64(&m.TotalErrors, 1)
				if verbose {
					fmt.Printf("ERROR: %s -> %v\n", tx.Request.UserID, err)
				}
				return nil
			}

			predicted := resp.RiskLevel == domain.RiskFraudulent ||
				(suspicious && resp.RiskLevel == domain.RiskSuspicious)
			m.record(predicted, tx.IsFraud)

			if verbose {
				fmt.Printf("%-12s | %-13s | $%12.2f | fraud=%-5v | %-10s %3d\n",
					tx.Request.UserID, tx.Request.PaymentMethod, tx.Request.Amount,
					tx.IsFraud, resp.RiskLevel, resp.RiskScore)
			}
			return nil
		})
	}
	_ = g.Wait()

	return m
}

func analyze(ctx context.Context, client *http.Client, baseURL, tenantID string, req domain.TransactionRequest) (*domain.AnalysisResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.AnalysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Println("\nCONFUSION MATRIX (rows: actual, columns: predicted)")
	fmt.Println("                 ALERT    NO ALERT")
	fmt.Printf("   Fraud      %8d  %8d\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   Not fraud  %8d  %8d\n", m.FalsePositives, m.TrueNegatives)

	fmt.Println("\nDETECTION METRICS")
	fmt.Printf("   Precision:  %.4f\n", m.Precision())
	fmt.Printf("   Recall:     %.4f\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())

	fmt.Println("\nPERFORMANCE")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
