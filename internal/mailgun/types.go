package mailgun

import (
	"errors"
	"fmt"
	"net/http"
)

// ListsPage is one page of GET /v3/lists/pages
type ListsPage struct {
	Items  []MailingList `json:"items"`
	Paging Paging        `json:"paging"`
}

// MailingList is a single list entry as returned by the lists API
type MailingList struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	AccessLevel  string `json:"access_level"`
	MembersCount int    `json:"members_count"`
	CreatedAt    string `json:"created_at"`
}

// Paging holds the provider's continuation links. Only Next is followed.
type Paging struct {
	First    string `json:"first"`
	Last     string `json:"last"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
}

// Member is a mailing list member
type Member struct {
	Address    string                 `json:"address"`
	Name       string                 `json:"name"`
	Subscribed bool                   `json:"subscribed"`
	Vars       map[string]interface{} `json:"vars,omitempty"`
}

// MemberResponse wraps the member endpoints (get, upsert, delete)
type MemberResponse struct {
	Member  *Member `json:"member"`
	Message string  `json:"message"`
}

// Outcome classifies the result of a single member call.
type Outcome int

const (
	// OutcomeConfirmed means the response proved the expected membership state.
	OutcomeConfirmed Outcome = iota
	// OutcomeNotFound means the provider answered 404, or the member did not match.
	OutcomeNotFound
	// OutcomeRejected means a 2xx response whose payload did not confirm the change.
	OutcomeRejected
	// OutcomeTransient covers transport errors, non-2xx/404 statuses and bad payloads.
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransient:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ProbeResult is the outcome of checking one (address, identifier) pair.
type ProbeResult struct {
	Address string
	Outcome Outcome
	Err     error
}

// Subscribed reports whether the identifier is an active subscribed member.
func (r ProbeResult) Subscribed() bool {
	return r.Outcome == OutcomeConfirmed
}

// MutationResult is the outcome of an add or remove call.
type MutationResult struct {
	Address string
	Outcome Outcome
	Err     error
}

// OK is true only when the response confirmed the mutation.
func (r MutationResult) OK() bool {
	return r.Outcome == OutcomeConfirmed
}

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the Mailgun API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
