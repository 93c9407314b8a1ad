package http

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL appends path to baseURL and sets the given query parameters.
func BuildURL(baseURL, path string, queryParams url.Values) (string, error) {
	// Parse the base URL
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("error parsing base URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("base URL %q is not absolute", baseURL)
	}

	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/") + "/" + strings.TrimLeft(path, "/")

	if len(queryParams) > 0 {
		parsedURL.RawQuery = queryParams.Encode()
	} else {
		parsedURL.RawQuery = ""
	}

	return parsedURL.String(), nil
}

// redactURL drops userinfo and the query string before a URL is logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
