package mailgun

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ignite/mailgun-dsr-connector/internal/pkg/logger"
)

// ProbeMember checks whether identifier is an active, subscribed member of the
// list at address. A 404 is the common negative and is not logged.
func (c *Client) ProbeMember(ctx context.Context, address, identifier string) ProbeResult {
	resp, err := c.memberCall(ctx, http.MethodGet, c.memberURL(address, identifier))
	if err != nil {
		if IsNotFound(err) {
			return ProbeResult{Address: address, Outcome: OutcomeNotFound}
		}
		logger.Warn("mailgun: membership probe failed",
			"list", address, "identifier", identifier, "error", err)
		return ProbeResult{Address: address, Outcome: OutcomeTransient, Err: err}
	}

	if matches(resp, identifier) && resp.Member.Subscribed {
		return ProbeResult{Address: address, Outcome: OutcomeConfirmed}
	}
	return ProbeResult{Address: address, Outcome: OutcomeNotFound}
}

// AddMember upserts identifier onto the list at address. Calling it again for
// the same pair leaves the membership unchanged.
func (c *Client) AddMember(ctx context.Context, address, identifier string) MutationResult {
	params := url.Values{}
	params.Set("address", identifier)
	params.Set("upsert", "yes")
	rawURL := c.listsURL() + "/" + url.PathEscape(address) + "/members?" + params.Encode()

	resp, err := c.memberCall(ctx, http.MethodPost, rawURL)
	if err != nil {
		logger.Warn("mailgun: add member failed",
			"list", address, "identifier", identifier, "error", err)
		return MutationResult{Address: address, Outcome: failureOutcome(err), Err: err}
	}

	if matches(resp, identifier) && resp.Member.Subscribed {
		return MutationResult{Address: address, Outcome: OutcomeConfirmed}
	}
	logger.Warn("mailgun: add member not confirmed",
		"list", address, "identifier", identifier, "message", resp.Message)
	return MutationResult{Address: address, Outcome: OutcomeRejected}
}

// RemoveMember deletes identifier from the list at address. Removing a member
// that is already gone yields OutcomeNotFound with no error.
func (c *Client) RemoveMember(ctx context.Context, address, identifier string) MutationResult {
	resp, err := c.memberCall(ctx, http.MethodDelete, c.memberURL(address, identifier))
	if err != nil {
		if IsNotFound(err) {
			logger.Info("mailgun: member already absent", "list", address, "identifier", identifier)
			return MutationResult{Address: address, Outcome: OutcomeNotFound}
		}
		logger.Warn("mailgun: remove member failed",
			"list", address, "identifier", identifier, "error", err)
		return MutationResult{Address: address, Outcome: OutcomeTransient, Err: err}
	}

	if matches(resp, identifier) {
		return MutationResult{Address: address, Outcome: OutcomeConfirmed}
	}
	logger.Warn("mailgun: remove member not confirmed",
		"list", address, "identifier", identifier, "message", resp.Message)
	return MutationResult{Address: address, Outcome: OutcomeRejected}
}

func matches(resp *MemberResponse, identifier string) bool {
	return resp != nil && resp.Member != nil && resp.Member.Address == identifier
}

func failureOutcome(err error) Outcome {
	if IsNotFound(err) {
		return OutcomeNotFound
	}
	return OutcomeTransient
}
