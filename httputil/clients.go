package httputil

import (
	"net/http"
	"net/url"
	"time"

	"realty_ingest/config"
)

type Clients struct {
	Feed *http.Client // feed downloads, proxied when configured
}

func NewClients(cfg *config.HTTPConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Clients{
		Feed: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}
