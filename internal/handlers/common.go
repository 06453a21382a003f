package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/platform/auth"
	"github.com/bazaarhub/api/internal/services"
)

const (
	// SessionHeader carries the client-held guest cart identifier.
	SessionHeader = "X-Session-Id"

	maxBodySize = 64 * 1024

	maxPageSize     = 200
	defaultPageSize = 50
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
	errNoOwner      = errors.New("authentication or session id required")
)

// ownerFromRequest resolves the cart owner: a signed-in user wins, a guest
// falls back to the session header.
func ownerFromRequest(r *http.Request) (domain.CartOwner, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.UID) != "" {
		return domain.CartOwner{UserID: strings.TrimSpace(identity.UID)}, nil
	}
	if session := strings.TrimSpace(r.Header.Get(SessionHeader)); session != "" {
		return domain.CartOwner{SessionID: session}, nil
	}
	return domain.CartOwner{}, errNoOwner
}

// actorFromIdentity maps an authenticated identity onto the service-layer actor.
func actorFromIdentity(identity *auth.Identity) services.Actor {
	actor := services.Actor{}
	if identity == nil {
		return actor
	}
	actor.UserID = strings.TrimSpace(identity.UID)
	actor.SellerID = strings.TrimSpace(identity.SellerID)
	actor.Admin = identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin)
	return actor
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	data, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func paginationFromQuery(r *http.Request) domain.Pagination {
	p := domain.Pagination{
		PageSize:  defaultPageSize,
		PageToken: strings.TrimSpace(r.URL.Query().Get("pageToken")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("pageSize")); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			if size > maxPageSize {
				size = maxPageSize
			}
			p.PageSize = size
		}
	}
	return p
}

func statusFilterFromQuery(r *http.Request) []string {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func parseRFC3339(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func valueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// addressPayload is the wire form of a postal address.
type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      p.Line2,
		City:       strings.TrimSpace(p.City),
		State:      p.State,
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.TrimSpace(p.Country),
		Phone:      p.Phone,
	}
}
