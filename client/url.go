package client

import (
	"net"
	"net/url"
	"strconv"
)

// URL assembles an absolute URL for [NewRequest].
//
//	u := client.URL("https", "api.example.com", "/v1/items", client.WithPort(8443))
//	req, err := client.NewRequest(http.MethodGet, u.String())
func URL(scheme, host, path string, opts ...URLOption) *url.URL {
	var settings urlOpts
	for _, opt := range opts {
		opt(&settings)
	}

	if settings.port != nil {
		host = net.JoinHostPort(host, strconv.Itoa(*settings.port))
	}

	endpoint := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   path,
	}

	if settings.queryStrings != nil {
		queryParams := url.Values{}
		for k, v := range settings.queryStrings {
			queryParams.Add(k, v)
		}

		endpoint.RawQuery = queryParams.Encode()
	}

	return &endpoint
}
