package trackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/pkg/errors"
)

// Client pushes courier positions to the track-api.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type locationBody struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type errBody struct {
	Error string `json:"error"`
}

func (c *Client) PushLocation(ctx context.Context, orderID string, p models.Position) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u = u.JoinPath("api", "location", url.PathEscape(orderID))

	b, err := json.Marshal(locationBody{Latitude: p.Lat, Longitude: p.Lng, Timestamp: p.Timestamp})
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return nil
	}
	var eb errBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	msg := eb.Error
	if msg == "" {
		msg = fmt.Sprintf("track-api http %d", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Wrap(models.ErrNotAuthorized, msg)
	case http.StatusNotFound:
		return errors.Wrap(models.ErrNotFound, msg)
	case http.StatusConflict:
		return errors.Wrap(models.ErrStaleState, msg)
	case http.StatusBadRequest:
		return errors.Wrap(models.ErrInvalidInput, msg)
	}
	return errors.New(msg)
}
