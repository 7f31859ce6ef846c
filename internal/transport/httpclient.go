package transport

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient возвращает http.Client для стриминговых запросов.
// Общий Timeout не выставляется: он оборвал бы длинный поток ответа.
// Вместо него ограничено ожидание заголовков ответа.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// NewAPIClient возвращает http.Client с общим таймаутом для коротких запросов (Telegram).
func NewAPIClient(timeout time.Duration) *http.Client {
	client := NewHTTPClient(timeout)
	client.Timeout = timeout
	return client
}
