package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/arcade-trade-api/internal/auth"
	"github.com/ksred/arcade-trade-api/internal/database"
	"github.com/ksred/arcade-trade-api/internal/dealing"
	"github.com/ksred/arcade-trade-api/internal/directory"
	"github.com/ksred/arcade-trade-api/internal/ledger"
	"github.com/ksred/arcade-trade-api/internal/negotiation"
	"github.com/ksred/arcade-trade-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minTrades     = 10
	maxTrades     = 60
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	machines = []string{"Street Racer DX", "Puzzle Panic II", "Mecha Strike", "Rhythm Master", "Crane King"}
	makers   = []string{"Taiyo Amusement", "Hoshi Games", "Kaminari Denki"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean, median, 95th and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// statsMu guards the route stats shared by the seller and buyer clients
var statsMu sync.Mutex

// apiClient drives the trade API as one marketplace user
type apiClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newAPIClient(apiKey, apiSecret string, stats map[string]*routeStats) (*apiClient, error) {
	c := &apiClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats:   stats,
	}

	token, err := c.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	c.authToken = token
	return c, nil
}

func (c *apiClient) record(route string, start time.Time, failed bool) {
	statsMu.Lock()
	defer statsMu.Unlock()
	rs := c.stats[route]
	rs.addDuration(time.Since(start))
	if failed {
		rs.failures++
	}
}

// authenticate exchanges API credentials for a JWT token
func (c *apiClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	failed := false
	defer func() { c.record("auth", start, failed) }()

	body, err := json.Marshal(map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	})
	if err != nil {
		failed = true
		return "", err
	}

	resp, err := c.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", c.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		failed = true
		return "", err
	}

	return result.Data.Token, nil
}

// call performs an authenticated request and decodes the data envelope into out
func (c *apiClient) call(route, method, path string, payload interface{}, out interface{}) error {
	start := time.Now()
	failed := false
	defer func() { c.record(route, start, failed) }()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			failed = true
			return err
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		failed = true
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		failed = true
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return fmt.Errorf("%s failed with status %d: %s", route, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		failed = true
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// runTrade drives one negotiation through its whole lifecycle:
// create -> attach shipping -> approve -> payment -> confirm -> complete
func runTrade(seller, buyer *apiClient, tradeNum int) error {
	machine := machines[rand.Intn(len(machines))]
	maker := makers[rand.Intn(len(makers))]
	price := int64(rand.Intn(900)+100) * 1000

	var created struct {
		NaviID string `json:"navi_id"`
	}
	err := seller.call("create", "POST", "/api/v1/negotiations", map[string]interface{}{
		"navi_type":     "ONLINE_INQUIRY",
		"buyer_user_id": auth.TestBuyerUserID,
		"send":          true,
		"payload": map[string]interface{}{
			"itemName": machine,
			"makerName": maker,
			"lineItems": []map[string]interface{}{
				{"name": machine, "unitPriceYen": price, "quantity": 1},
			},
			"taxRate": 0.10,
		},
	}, &created)
	if err != nil {
		return fmt.Errorf("create negotiation: %w", err)
	}

	err = buyer.call("payload", "PUT", "/api/v1/negotiations/"+created.NaviID+"/payload", map[string]interface{}{
		"address":    fmt.Sprintf("1-%d-%d Chuo, Osaka", tradeNum%9+1, tradeNum%20+1),
		"personName": "Kimura",
		"phone":      "06-0000-0000",
	}, nil)
	if err != nil {
		return fmt.Errorf("attach shipping: %w", err)
	}

	var approved struct {
		DealingID string `json:"dealing_id"`
	}
	err = buyer.call("approve", "PUT", "/api/v1/negotiations/"+created.NaviID+"/status",
		map[string]string{"status": "APPROVED"}, &approved)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	if approved.DealingID == "" {
		return fmt.Errorf("no dealing ID after approval of %s", created.NaviID)
	}

	steps := []struct {
		client *apiClient
		status string
	}{
		{seller, "PAYMENT_REQUIRED"},
		{buyer, "CONFIRM_REQUIRED"},
		{buyer, "COMPLETED"},
	}
	for _, step := range steps {
		err = step.client.call("transition", "PUT", "/api/v1/dealings/"+approved.DealingID+"/status",
			map[string]string{"status": step.status}, nil)
		if err != nil {
			return fmt.Errorf("transition to %s: %w", step.status, err)
		}
	}

	log.Info().
		Str("navi_id", created.NaviID).
		Str("dealing_id", approved.DealingID).
		Str("machine", machine).
		Int64("price_yen", price).
		Msg("Trade completed")
	return nil
}

// startServer wires and runs the API server in-process for the simulation
func startServer() error {
	gin.SetMode(gin.ReleaseMode)

	db, err := database.NewDatabase()
	if err != nil {
		return err
	}

	authService := auth.NewService("arcade-secret-key")
	authService.RegisterAPICredentials(auth.TestSellerAPIKey, auth.TestSellerAPISecret, auth.TestSellerUserID)
	authService.RegisterAPICredentials(auth.TestBuyerAPIKey, auth.TestBuyerAPISecret, auth.TestBuyerUserID)
	if err := directory.Register(db, auth.TestSellerUserID, "Demo Seller KK"); err != nil {
		return err
	}
	if err := directory.Register(db, auth.TestBuyerUserID, "Demo Buyer KK"); err != nil {
		return err
	}

	authHandlers := auth.NewGinHandlers(authService)
	negotiationHandlers := negotiation.NewGinHandlers(negotiation.NewService(db))
	dealingHandlers := dealing.NewGinHandlers(dealing.NewService(db))
	ledgerHandlers := ledger.NewGinHandlers(ledger.NewService(db))

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.POST("/auth/token", authHandlers.GenerateTokenHandler())

	protected := v1.Group("")
	protected.Use(middleware.JWTAuth())
	protected.POST("/negotiations", negotiationHandlers.CreateHandler())
	protected.GET("/negotiations/:navi_id", negotiationHandlers.GetHandler())
	protected.PUT("/negotiations/:navi_id/payload", negotiationHandlers.UpdatePayloadHandler())
	protected.PUT("/negotiations/:navi_id/status", negotiationHandlers.UpdateStatusHandler())
	protected.GET("/dealings/:dealing_id", dealingHandlers.GetHandler())
	protected.GET("/dealings/:dealing_id/todo", dealingHandlers.TodoHandler())
	protected.PUT("/dealings/:dealing_id/status", dealingHandlers.TransitionHandler())
	protected.GET("/ledger", ledgerHandlers.ListEntriesHandler())

	return router.Run(":8080")
}

func printPerformanceStats(stats map[string]*routeStats) {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, rs := range stats {
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			rs.name,
			rs.totalCalls,
			rs.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the trade simulation: it starts the API in-process and drives
// concurrent full-lifecycle trades between the demo seller and buyer
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	stats := map[string]*routeStats{
		"auth":       {name: "Authentication"},
		"create":     {name: "Create Negotiation"},
		"payload":    {name: "Attach Shipping"},
		"approve":    {name: "Approve"},
		"transition": {name: "Transition Dealing"},
		"ledger":     {name: "List Ledger"},
	}

	seller, err := newAPIClient(auth.TestSellerAPIKey, auth.TestSellerAPISecret, stats)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize seller client")
	}
	buyer, err := newAPIClient(auth.TestBuyerAPIKey, auth.TestBuyerAPISecret, stats)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize buyer client")
	}

	targetTrades := rand.Intn(maxTrades-minTrades) + minTrades
	log.Info().Int("target_trades", targetTrades).Msg("Starting simulation")

	var (
		wg        sync.WaitGroup
		completed int
		failed    int
		countMu   sync.Mutex
	)
	tradeNums := make(chan int, targetTrades)
	for i := 0; i < targetTrades; i++ {
		tradeNums <- i
	}
	close(tradeNums)

	startTime := time.Now()
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range tradeNums {
				err := runTrade(seller, buyer, n)
				countMu.Lock()
				if err != nil {
					log.Error().Err(err).Int("trade_num", n).Msg("Trade failed")
					failed++
				} else {
					completed++
				}
				countMu.Unlock()
			}
		}()
	}
	wg.Wait()

	var sellerEntries, buyerEntries []map[string]interface{}
	if err := seller.call("ledger", "GET", "/api/v1/ledger", nil, &sellerEntries); err != nil {
		log.Error().Err(err).Msg("Failed to fetch seller ledger")
	}
	if err := buyer.call("ledger", "GET", "/api/v1/ledger", nil, &buyerEntries); err != nil {
		log.Error().Err(err).Msg("Failed to fetch buyer ledger")
	}

	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("TRADE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Trade Statistics
----------------
Target Trades:   %d
Completed:       %d
Failed:          %d
Seller Entries:  %d
Buyer Entries:   %d
Duration:        %s
`, targetTrades, completed, failed, len(sellerEntries), len(buyerEntries), duration.Round(time.Millisecond))

	printPerformanceStats(stats)
}
