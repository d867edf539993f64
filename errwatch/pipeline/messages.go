package pipeline

import "net/http"

// Catalog keys of the banners
const (
	ScriptMessageKey    = "banner.script_error"
	RejectionMessageKey = "banner.rejection_error"
	NetworkMessageKey   = "banner.network_error"
	GenericMessageKey   = "banner.http.generic"
)

// StatusMessageKey maps a failed response's status onto the banner shown for it
func StatusMessageKey(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "banner.http.bad_request"
	case http.StatusUnauthorized:
		return "banner.http.unauthorized"
	case http.StatusForbidden:
		return "banner.http.forbidden"
	case http.StatusNotFound:
		return "banner.http.not_found"
	case http.StatusTooManyRequests:
		return "banner.http.too_many_requests"
	case http.StatusInternalServerError:
		return "banner.http.internal_error"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "banner.http.unavailable"
	default:
		return GenericMessageKey
	}
}

// StatusMessage is the localized banner text for a failed response's status
func (p *Pipeline) StatusMessage(status int) string {
	return p.text(StatusMessageKey(status))
}
