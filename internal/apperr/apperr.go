// Package apperr defines the error taxonomy shared by the reconciliation sweep
// and its collaborators.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError reports a missing or invalid setting. Fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: %s is required", e.Key)
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// UpstreamHTTPError is a non-2xx answer from the gateway or the verification endpoint.
type UpstreamHTTPError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Service, e.StatusCode, truncate(e.Body, 200))
}

// UpstreamNetworkError is a transport level failure (dial, reset, timeout).
type UpstreamNetworkError struct {
	Service string
	Err     error
}

func (e *UpstreamNetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Service, e.Err)
}

func (e *UpstreamNetworkError) Unwrap() error { return e.Err }

// DataError marks a malformed payment or order record.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string { return "data: " + e.Reason }

// OrderStoreError wraps a failed query or update against the order store.
type OrderStoreError struct {
	Op  string
	Err error
}

func (e *OrderStoreError) Error() string {
	return fmt.Sprintf("order store: %s: %v", e.Op, e.Err)
}

func (e *OrderStoreError) Unwrap() error { return e.Err }

func NewOrderStoreError(op string, err error) error {
	return &OrderStoreError{Op: op, Err: errors.WithStack(err)}
}

func IsNotFound(err error) bool {
	var httpErr *UpstreamHTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}

func IsNetwork(err error) bool {
	var netErr *UpstreamNetworkError
	return errors.As(err, &netErr)
}

func IsHTTP(err error) bool {
	var httpErr *UpstreamHTTPError
	return errors.As(err, &httpErr)
}

func IsOrderStore(err error) bool {
	var storeErr *OrderStoreError
	return errors.As(err, &storeErr)
}

func IsData(err error) bool {
	var dataErr *DataError
	return errors.As(err, &dataErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
