// Package vivagym is the booking provider client. It talks to the chain's
// member API: authenticate, search a day's class participations, create and
// cancel bookings.
package vivagym

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const DefaultBaseURL = "https://gimnasios.vivagym.es"

const (
	loginPath         = "/api/user/authenticate"
	searchBookingPath = "/api/classes/search-booking-participations"
	createBookingPath = "/api/booking/create-booking"
	cancelBookingPath = "/api/booking/cancel-booking"
)

// ErrClassNotFound means the provider listed no class matching the requested
// name and start time for that day. Distinct from transport errors so callers
// can tell "no slot" apart from "call failed".
var ErrClassNotFound = errors.New("vivagym: class not found")

type Client struct {
	hc      *http.Client
	baseURL string
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Session holds the token and member identity captured by Authenticate. All
// booking calls require one.
type Session struct {
	c        *Client
	token    string
	userID   int64
	centerID int64
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		UserID   int64 `json:"userId"`
		CenterID int64 `json:"centerId"`
	} `json:"user"`
}

func (c *Client) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]any{
		"email":                  email,
		"password":               password,
		"sessionTimeoutOneMonth": false,
	}
	status, raw, err := c.do(ctx, loginPath, "", body)
	if err != nil {
		return nil, fmt.Errorf("vivagym authenticate: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("vivagym authenticate failed (status=%d)", status)
	}
	var res authResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("vivagym authenticate: decode: %w", err)
	}
	if res.Token == "" || res.User.UserID == 0 {
		return nil, errors.New("vivagym authenticate: missing token or user data")
	}
	return &Session{c: c, token: res.Token, userID: res.User.UserID, centerID: res.User.CenterID}, nil
}

type participation struct {
	Booking struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		StartTime string `json:"startTime"`
	} `json:"booking"`
}

// CreateBooking books className at classTime on classDate's day in the given
// center and returns the provider's participation id. Returns ErrClassNotFound
// when the day's listing has no matching class.
func (s *Session) CreateBooking(ctx context.Context, center string, classDate time.Time, classTime, className string) (int64, error) {
	centerCode, err := strconv.ParseInt(center, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("vivagym: invalid center code %q", center)
	}

	bookingID, err := s.findBookingID(ctx, centerCode, classDate, classTime, className)
	if err != nil {
		return 0, err
	}

	body := map[string]any{
		"selectedUserId":       s.userID,
		"selectedUserCenterId": centerCode,
		"bookingCenterId":      s.centerID,
		"bookingId":            bookingID,
	}
	status, raw, err := s.c.do(ctx, createBookingPath, s.token, body)
	if err != nil {
		return 0, fmt.Errorf("vivagym create booking: %w", err)
	}
	if status >= 400 {
		return 0, fmt.Errorf("vivagym create booking failed (status=%d)", status)
	}
	var res struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("vivagym create booking: decode: %w", err)
	}
	return res.ID, nil
}

// CancelBooking cancels a previously created participation.
func (s *Session) CancelBooking(ctx context.Context, center string, participationID int64) error {
	centerCode, err := strconv.ParseInt(center, 10, 64)
	if err != nil {
		return fmt.Errorf("vivagym: invalid center code %q", center)
	}
	body := map[string]any{
		"selectedUserId":        s.userID,
		"selectedUserCenterId":  centerCode,
		"participationCenterId": s.centerID,
		"participationId":       participationID,
	}
	status, _, err := s.c.do(ctx, cancelBookingPath, s.token, body)
	if err != nil {
		return fmt.Errorf("vivagym cancel booking: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("vivagym cancel booking failed (status=%d)", status)
	}
	return nil
}

func (s *Session) findBookingID(ctx context.Context, centerCode int64, classDate time.Time, classTime, className string) (int64, error) {
	day := classDate.Format("2006-01-02")
	body := map[string]any{
		"centers":  []int64{centerCode},
		"dateFrom": day,
		"dateTo":   day,
	}
	status, raw, err := s.c.do(ctx, searchBookingPath, s.token, body)
	if err != nil {
		return 0, fmt.Errorf("vivagym search bookings: %w", err)
	}
	if status >= 400 {
		return 0, fmt.Errorf("vivagym search bookings failed (status=%d)", status)
	}
	var entries []participation
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("vivagym search bookings: decode: %w", err)
	}
	for _, e := range entries {
		if e.Booking.Name == className && e.Booking.StartTime == classTime {
			return e.Booking.ID, nil
		}
	}
	return 0, ErrClassNotFound
}

func (c *Client) do(ctx context.Context, path, token string, body any) (int, []byte, error) {
	jb, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jb))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, raw, nil
}
