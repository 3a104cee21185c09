package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"fleet-billing/internal/domain/ports/adapter"
)

var _ adapter.SMSProvider = (*Kavenegar)(nil)

var validate = validator.New()

type lookupRequest struct {
	Receptor string `validate:"required,e164|numeric"`
	Template string `validate:"required"`
	Token    string `validate:"required,max=100"`
}

type sendRequest struct {
	Receptor string `validate:"required,e164|numeric"`
	Message  string `validate:"required"`
}

// Kavenegar is a client for the verify/lookup and sms/send endpoints.
type Kavenegar struct {
	apiKey string
	sender string
	base   string
	http   *http.Client
}

func NewKavenegar(apiKey, sender string, timeout time.Duration) (*Kavenegar, error) {
	if apiKey == "" {
		return nil, errors.New("kavenegar api key empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Kavenegar{
		apiKey: apiKey,
		sender: sender,
		base:   "https://api.kavenegar.com/v1",
		http:   &http.Client{Timeout: timeout},
	}, nil
}

// SetBaseURL points the client at another host.
func (k *Kavenegar) SetBaseURL(base string) { k.base = strings.TrimRight(base, "/") }

func (k *Kavenegar) SendTemplate(ctx context.Context, receptor, template, token string) error {
	req := lookupRequest{Receptor: receptor, Template: template, Token: token}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("kavenegar lookup: %w", err)
	}
	form := url.Values{}
	form.Set("receptor", receptor)
	form.Set("template", template)
	form.Set("token", token)
	return k.call(ctx, "verify/lookup.json", form)
}

func (k *Kavenegar) Send(ctx context.Context, receptor, message string) error {
	req := sendRequest{Receptor: receptor, Message: message}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("kavenegar send: %w", err)
	}
	form := url.Values{}
	form.Set("receptor", receptor)
	form.Set("message", message)
	if k.sender != "" {
		form.Set("sender", k.sender)
	}
	return k.call(ctx, "sms/send.json", form)
}

type kvResponse struct {
	Return struct {
		Status  any    `json:"status"`
		Message string `json:"message"`
	} `json:"return"`
}

func (k *Kavenegar) call(ctx context.Context, path string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/%s/%s", k.base, url.PathEscape(k.apiKey), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := k.http.Do(req)
	if err != nil {
		return fmt.Errorf("kavenegar %s: %w", path, err)
	}
	defer resp.Body.Close()

	var out kvResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &out); err != nil {
		return &adapter.SMSError{Status: resp.StatusCode, Message: "undecodable response"}
	}
	status := cast.ToInt(out.Return.Status)
	if status == 0 {
		status = resp.StatusCode
	}
	if status != http.StatusOK {
		return &adapter.SMSError{Status: status, Message: out.Return.Message}
	}
	return nil
}
