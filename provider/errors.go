package provider

import (
	"errors"
	"net/url"

	"github.com/sashabaranov/go-openai"

	"github.com/rivermint/chatforge/internal/apperror"
)

// normalizeError implements spec §4.5's error taxonomy: a provider's
// `code: "content_filter"` body becomes ContentFilter with filter details
// preserved verbatim; any other non-2xx becomes ProviderError{description,
// status}, whether its body parsed (*openai.APIError) or not
// (*openai.RequestError); transport failures from the HTTP client
// (*url.Error) become ProviderError with no status; anything else becomes
// InternalError.
func normalizeError(err error) *apperror.Error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "content_filter" {
			return apperror.ContentFilter(apiErr.Message, map[string]any{
				"code":  apiErr.Code,
				"type":  apiErr.Type,
				"param": apiErr.Param,
			})
		}
		return apperror.ProviderError(apiErr.Message, apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperror.ProviderError(reqErr.Error(), reqErr.HTTPStatusCode, reqErr.Err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apperror.ProviderError(urlErr.Error(), 0, err)
	}

	return apperror.InternalError(err.Error(), err)
}
