package devicehttp

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BearBump/LiveTrack/internal/integrations/geosource"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/pkg/errors"
)

// Client talks to the positioning daemon running on the courier device.
type Client struct {
	baseURL      string
	highAccuracy bool
	httpc        *http.Client
	streamc      *http.Client
}

func New(baseURL string, highAccuracy bool) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8947"
	}
	return &Client{
		baseURL:      baseURL,
		highAccuracy: highAccuracy,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
		// stream stays open for the whole session, ctx closes it
		streamc: &http.Client{},
	}
}

type respPosition struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
}

func (r respPosition) toModel() models.Position {
	return models.Position{
		Lat:       r.Lat,
		Lng:       r.Lng,
		Timestamp: r.Timestamp,
		Accuracy:  r.Accuracy,
		Speed:     r.Speed,
		Heading:   r.Heading,
		Altitude:  r.Altitude,
	}
}

func (c *Client) url(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u = u.JoinPath(path)
	q := u.Query()
	q.Set("highAccuracy", strconv.FormatBool(c.highAccuracy))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) Current(ctx context.Context) (models.Position, error) {
	u, err := c.url("/v1/position")
	if err != nil {
		return models.Position{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Position{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return models.Position{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if err := statusErr(resp.StatusCode); err != nil {
		return models.Position{}, err
	}

	var rb respPosition
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return models.Position{}, errors.Wrap(err, "decode")
	}
	p := rb.toModel()
	if !valid(p) {
		return models.Position{}, errors.Wrapf(geosource.ErrUnavailable, "bad fix %f,%f", p.Lat, p.Lng)
	}
	return p, nil
}

// Watch opens the daemon's NDJSON stream. Lines that fail to decode are
// skipped.
func (c *Client) Watch(ctx context.Context) (<-chan models.Position, error) {
	u, err := c.url("/v1/position/stream")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.streamc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	if err := statusErr(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := make(chan models.Position)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var rb respPosition
			if err := json.Unmarshal(line, &rb); err != nil {
				slog.Warn("devicehttp: skip malformed position", "err", err)
				continue
			}
			p := rb.toModel()
			if !valid(p) {
				continue
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func statusErr(code int) error {
	switch {
	case code == http.StatusForbidden:
		return errors.Wrap(geosource.ErrUnavailable, "permission denied")
	case code == http.StatusServiceUnavailable || code == http.StatusNotFound:
		return errors.Wrap(geosource.ErrUnavailable, "no fix")
	case code/100 != 2:
		return errors.Errorf("device positioning http %d", code)
	}
	return nil
}

func valid(p models.Position) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
