// Package slip verifies payment-slip images against the SlipOK API.
package slip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// Verification is the validated payment a slip image proves.
type Verification struct {
	Amount          float64
	Ref             string
	Date            string
	Time            string
	SenderName      string
	SenderAccount   string
	ReceiverName    string
	ReceiverAccount string
}

// RejectedError means the service was reached and examined the slip but
// refused it (wrong receiver, reused slip, unreadable image). Transport and
// protocol failures are plain errors, distinct from this.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "slip rejected: " + e.Reason
}

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
}

// SupportedType reports whether an attachment content type can be verified.
// Callers check this before fetching the image, so unsupported files never
// reach the API.
func SupportedType(contentType string) bool {
	return supportedTypes[contentType]
}

const slipOKURLFormat = "https://api.slipok.com/api/line/apikey/%s"

type Verifier struct {
	apiURL string
	apiKey string
	client *http.Client
}

func NewVerifier(apiID, apiKey string) *Verifier {
	return newVerifier(fmt.Sprintf(slipOKURLFormat, apiID), apiKey)
}

func newVerifier(apiURL, apiKey string) *Verifier {
	return &Verifier{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    *apiData `json:"data"`
}

type apiData struct {
	Amount    float64 `json:"amount"`
	TransRef  string  `json:"transRef"`
	TransDate string  `json:"transDate"`
	TransTime string  `json:"transTime"`
	Sender    apiPart `json:"sender"`
	Receiver  apiPart `json:"receiver"`
}

type apiPart struct {
	DisplayName string `json:"displayName"`
	Account     struct {
		Value string `json:"value"`
	} `json:"account"`
}

// Verify posts the image to the verification service and returns the
// validated payment. A *RejectedError means the slip itself was refused;
// any other error is a transport or protocol failure and is retryable.
func (v *Verifier) Verify(ctx context.Context, image []byte, filename, contentType string) (*Verification, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.WriteField("log", "true"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-authorization", v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("verification service returned unreadable response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification service returned status %d: %s", resp.StatusCode, parsed.Message)
	}
	if !parsed.Success {
		reason := parsed.Message
		if reason == "" {
			reason = "slip could not be verified"
		}
		return nil, &RejectedError{Reason: reason}
	}
	if parsed.Data == nil {
		return nil, fmt.Errorf("verification service returned success without data")
	}

	d := parsed.Data
	return &Verification{
		Amount:          d.Amount,
		Ref:             d.TransRef,
		Date:            d.TransDate,
		Time:            d.TransTime,
		SenderName:      d.Sender.DisplayName,
		SenderAccount:   d.Sender.Account.Value,
		ReceiverName:    d.Receiver.DisplayName,
		ReceiverAccount: d.Receiver.Account.Value,
	}, nil
}
