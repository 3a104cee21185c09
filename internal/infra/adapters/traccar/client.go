package traccar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"fleet-billing/internal/domain/ports/adapter"
)

var _ adapter.TrackingPlatform = (*Client)(nil)

var validate = validator.New()

type recordRef struct {
	ID int64 `validate:"gt=0"`
}

type recordWrite struct {
	ID     int64          `validate:"gt=0"`
	Record map[string]any `validate:"required"`
}

// Credentials select the auth scheme. A non-empty Token wins over basic auth.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Client talks to the tracking platform REST API.
type Client struct {
	base  string
	creds Credentials
	http  *http.Client
}

func NewClient(baseURL string, creds Credentials, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("traccar base url empty")
	}
	if err := validate.Var(baseURL, "url"); err != nil {
		return nil, fmt.Errorf("traccar base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		creds: creds,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) GetDevice(ctx context.Context, id int64) (adapter.DeviceRecord, error) {
	if err := validate.Struct(recordRef{ID: id}); err != nil {
		return nil, &adapter.TrackingError{Op: "get_device", Err: err}
	}
	var rec adapter.DeviceRecord
	if err := c.do(ctx, "get_device", http.MethodGet, fmt.Sprintf("/devices/%d", id), nil, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &adapter.TrackingError{Op: "get_device", Err: errors.New("empty device record")}
	}
	return rec, nil
}

// UpdateDevice replaces the full device record.
func (c *Client) UpdateDevice(ctx context.Context, id int64, rec adapter.DeviceRecord) error {
	if err := validate.Struct(recordWrite{ID: id, Record: rec}); err != nil {
		return &adapter.TrackingError{Op: "update_device", Err: err}
	}
	return c.do(ctx, "update_device", http.MethodPut, fmt.Sprintf("/devices/%d", id), rec, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]adapter.TrackingUser, error) {
	var raw []map[string]any
	if err := c.do(ctx, "list_users", http.MethodGet, "/users", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]adapter.TrackingUser, 0, len(raw))
	for _, m := range raw {
		out = append(out, userFromMap(m))
	}
	return out, nil
}

func (c *Client) GetUser(ctx context.Context, id int64) (map[string]any, error) {
	if err := validate.Struct(recordRef{ID: id}); err != nil {
		return nil, &adapter.TrackingError{Op: "get_user", Err: err}
	}
	var rec map[string]any
	if err := c.do(ctx, "get_user", http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &adapter.TrackingError{Op: "get_user", Err: errors.New("empty user record")}
	}
	return rec, nil
}

func (c *Client) UpdateUser(ctx context.Context, id int64, rec map[string]any) error {
	if err := validate.Struct(recordWrite{ID: id, Record: rec}); err != nil {
		return &adapter.TrackingError{Op: "update_user", Err: err}
	}
	return c.do(ctx, "update_user", http.MethodPut, fmt.Sprintf("/users/%d", id), rec, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &adapter.TrackingError{Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &adapter.TrackingError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.Token)
	} else if c.creds.Username != "" {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &adapter.TrackingError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &adapter.TrackingError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(snippet)))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &adapter.TrackingError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func userFromMap(m map[string]any) adapter.TrackingUser {
	u := adapter.TrackingUser{
		ID:            cast.ToInt64(m["id"]),
		Name:          cast.ToString(m["name"]),
		Email:         cast.ToString(m["email"]),
		Phone:         cast.ToString(m["phone"]),
		Administrator: cast.ToBool(m["administrator"]),
		Disabled:      cast.ToBool(m["disabled"]),
		DeviceLimit:   cast.ToInt(m["deviceLimit"]),
		UserLimit:     cast.ToInt(m["userLimit"]),
		Raw:           m,
	}
	u.ExpirationTime = ParseExpiration(m["expirationTime"])
	return u
}

// ParseExpiration reads an expirationTime field. nil and unparsable values
// mean "never expires".
func ParseExpiration(v any) *time.Time {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if t, err = cast.ToTimeE(s); err != nil {
			return nil
		}
	}
	return &t
}
