package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	RatesTimeout             = 10 * time.Second
	OptimizerTimeout         = 30 * time.Second
	StoreTimeout             = 30 * time.Second
	ImmediateOptimizeTimeout = 60 * time.Second
	UploadTimeout            = 30 * time.Second
	SummaryTimeout           = 30 * time.Second
)

const (
	EndpointCalculateRates  = "calculate-rates"
	EndpointSavePreferences = "save-preferences"
	EndpointSensorData      = "sensor-data"
	EndpointDailySummary    = "daily-summary"
	EndpointGenerate        = "generate_schedule"
)

// StatusError is returned when an endpoint answers with a status code we do not accept.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned StatusCode: %d body: %s", e.Endpoint, e.StatusCode, e.Body)
}

func onlyOK(code int) bool {
	return code == http.StatusOK
}

func any2xx(code int) bool {
	return code >= 200 && code < 300
}

func postJSON(ctx context.Context, client *http.Client, endpoint, u string, body interface{}, accept func(int) bool) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading %s response: %w", endpoint, err)
	}

	if !accept(resp.StatusCode) {
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// Optimizer calls the remote schedule optimizer.
type Optimizer struct {
	baseURL string
	client  *http.Client
}

func NewOptimizer(baseURL string, client *http.Client) *Optimizer {
	if client == nil {
		client = &http.Client{}
	}
	return &Optimizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (o *Optimizer) GenerateSchedule(ctx context.Context, r *OptimizeRequest) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, OptimizerTimeout)
	defer cancel()

	b, err := postJSON(ctx, o.client, EndpointGenerate, o.baseURL+"/"+EndpointGenerate, r, any2xx)
	if err != nil {
		return nil, err
	}
	return ParseResult(b)
}

// Store calls the remote data store functions.
type Store struct {
	baseURL string
	userID  string
	client  *http.Client
}

// NewStore returns a Store sending apiKey as bearer token on every request.
func NewStore(baseURL, apiKey, userID string) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/") + "/functions/v1/",
		userID:  userID,
		client: &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"}),
				Base:   http.DefaultTransport,
			},
		},
	}
}

func (s *Store) UserID() string {
	return s.userID
}

type calculateRatesResponse struct {
	Success      bool          `json:"success"`
	ThermalRates *ThermalRates `json:"thermal_rates"`
}

// CalculateRates asks the store to learn thermal rates from uploaded history.
// It returns nil without error when the store has nothing learned yet.
func (s *Store) CalculateRates(ctx context.Context) (*ThermalRates, error) {
	ctx, cancel := context.WithTimeout(ctx, RatesTimeout)
	defer cancel()

	body := map[string]string{"anonymous_id": s.userID}
	b, err := postJSON(ctx, s.client, EndpointCalculateRates, s.baseURL+EndpointCalculateRates, body, onlyOK)
	if err != nil {
		return nil, err
	}

	resp := &calculateRatesResponse{}
	if err := json.Unmarshal(b, resp); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	if !resp.Success || resp.ThermalRates.Empty() {
		logrus.WithFields(logrus.Fields{"endpoint": EndpointCalculateRates, "success": resp.Success}).Debug("no thermal rates available")
		return nil, nil
	}
	return resp.ThermalRates, nil
}

func (s *Store) SavePreferences(ctx context.Context, r *SavePreferencesRequest, timeout time.Duration) (*SavePreferencesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b, err := postJSON(ctx, s.client, EndpointSavePreferences, s.baseURL+EndpointSavePreferences, r, any2xx)
	if err != nil {
		return nil, err
	}
	resp := &SavePreferencesResponse{}
	if err := json.Unmarshal(b, resp); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	return resp, nil
}

type sensorDataRequest struct {
	UserID   string    `json:"user_id"`
	Readings []Reading `json:"readings"`
}

func (s *Store) SendSensorData(ctx context.Context, readings []Reading) error {
	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	body := &sensorDataRequest{UserID: s.userID, Readings: readings}
	_, err := postJSON(ctx, s.client, EndpointSensorData, s.baseURL+EndpointSensorData, body, onlyOK)
	return err
}

type dailySummaryResponse struct {
	ThermalRates *ThermalRates `json:"thermal_rates"`
}

// SendDailySummary uploads the rollup. The returned rates are nil when the store
// did not include any.
func (s *Store) SendDailySummary(ctx context.Context, summary *DailySummary) (*ThermalRates, error) {
	ctx, cancel := context.WithTimeout(ctx, SummaryTimeout)
	defer cancel()

	b, err := postJSON(ctx, s.client, EndpointDailySummary, s.baseURL+EndpointDailySummary, summary, onlyOK)
	if err != nil {
		return nil, err
	}
	resp := &dailySummaryResponse{}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(b, resp); err != nil {
		logrus.WithField("endpoint", EndpointDailySummary).Warnf("ignoring unparsable response: %s", err)
		return nil, nil
	}
	if resp.ThermalRates.Empty() {
		return nil, nil
	}
	return resp.ThermalRates, nil
}
