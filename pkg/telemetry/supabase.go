package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattwatch/wattwatch/pkg/common"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// Supabase reads readings from a Supabase table through PostgREST and
// receives inserts through the Realtime websocket.
type Supabase struct {
	url    string
	key    string
	schema string
	table  string
	client *http.Client

	heartbeat time.Duration
}

func configuredSupabase(timeout *time.Duration) *Supabase {
	s := &Supabase{
		heartbeat: 25 * time.Second,
	}
	u := lflag.String("supabase-url", "", "Supabase project URL (e.g. https://xyz.supabase.co)")
	key := lflag.String("supabase-key", "", "Supabase anon or service key")
	schema := lflag.String("supabase-schema", "public", "Postgres schema holding the readings table")
	table := lflag.String("supabase-table", "energy_readings", "Table holding the readings")

	lflag.Do(func() {
		s.url = strings.TrimRight(*u, "/")
		s.key = *key
		s.schema = *schema
		s.table = *table
		s.client = common.HTTPClient(*timeout)
	})

	return s
}

// NewSupabase returns a Supabase client for the given project.
func NewSupabase(projectURL, key, table string, timeout time.Duration) *Supabase {
	return &Supabase{
		url:       strings.TrimRight(projectURL, "/"),
		key:       key,
		schema:    "public",
		table:     table,
		client:    common.HTTPClient(timeout),
		heartbeat: 25 * time.Second,
	}
}

// Validate ensures the configuration is valid.
func (s *Supabase) Validate() error {
	if s.url == "" {
		return errors.New("supabase-url is required")
	}
	u, err := url.Parse(s.url)
	if err != nil {
		return fmt.Errorf("failed to parse supabase url (%s): %w", s.url, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("supabase url must be http or https: %s", s.url)
	}
	if s.key == "" {
		return errors.New("supabase-key is required")
	}
	if s.table == "" {
		return errors.New("supabase-table is required")
	}
	return nil
}

func (s *Supabase) Name() string {
	return "supabase"
}

// row is a reading as stored upstream.
type row struct {
	ID          json.RawMessage `json:"id,omitempty"`
	CreatedAt   string          `json:"created_at"`
	PotenciaW   *float64        `json:"potencia_w"`
	CorrienteA  *float64        `json:"corriente_a,omitempty"`
	VoltajeV    *float64        `json:"voltaje_v,omitempty"`
	Temperatura *float64        `json:"temperatura,omitempty"`
	Humedad     *float64        `json:"humedad,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %q", s)
}

func (r row) reading() (types.Reading, error) {
	if r.PotenciaW == nil {
		return types.Reading{}, errors.New("missing potencia_w")
	}
	ts, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return types.Reading{}, err
	}
	id := strings.Trim(string(r.ID), `"`)
	if id == "null" {
		id = ""
	}
	return types.Reading{
		ID:           id,
		Timestamp:    ts,
		PowerW:       *r.PotenciaW,
		CurrentA:     r.CorrienteA,
		VoltageV:     r.VoltajeV,
		TemperatureC: r.Temperatura,
		HumidityPct:  r.Humedad,
	}, nil
}

func fromReading(r types.Reading) row {
	p := r.PowerW
	return row{
		CreatedAt:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		PotenciaW:   &p,
		CorrienteA:  r.CurrentA,
		VoltajeV:    r.VoltageV,
		Temperatura: r.TemperatureC,
		Humedad:     r.HumidityPct,
	}
}

func (s *Supabase) newRequest(ctx context.Context, method string, u *url.URL, body []byte) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	if s.schema != "" && s.schema != "public" {
		if method == http.MethodGet {
			req.Header.Set("Accept-Profile", s.schema)
		} else {
			req.Header.Set("Content-Profile", s.schema)
		}
	}
	return req, nil
}

func (s *Supabase) tableURL() (*url.URL, error) {
	u, err := url.Parse(s.url + "/rest/v1/" + url.PathEscape(s.table))
	if err != nil {
		return nil, fmt.Errorf("invalid supabase url: %w", err)
	}
	return u, nil
}

// Recent implements Store.
func (s *Supabase) Recent(ctx context.Context, since time.Time, limit int) ([]types.Reading, error) {
	u, err := s.tableURL()
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("select", "*")
	params.Set("created_at", "gte."+since.UTC().Format(time.RFC3339Nano))
	params.Set("order", "created_at.desc")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = params.Encode()

	req, err := s.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching readings from supabase", slog.Time("since", since), slog.Int("limit", limit))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch readings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supabase returned status: %d", resp.StatusCode)
	}

	var rows []row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	readings := make([]types.Reading, 0, len(rows))
	for _, r := range rows {
		reading, err := r.reading()
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping invalid reading", slog.String("id", string(r.ID)), slog.Any("error", err))
			continue
		}
		readings = append(readings, reading)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched readings", slog.Int("count", len(readings)))
	return readings, nil
}

// Insert implements Writer.
func (s *Supabase) Insert(ctx context.Context, r types.Reading) error {
	u, err := s.tableURL()
	if err != nil {
		return err
	}
	b, err := json.Marshal(fromReading(r))
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPost, u, b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("supabase returned status: %d", resp.StatusCode)
	}
	return nil
}
