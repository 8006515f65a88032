package provisioner

import (
	"fmt"
	"net/url"

	"github.com/linkbroker/linkbroker/internal/storage"
)

// allowedSchemes are the broker URI schemes spec.md §4.5 validates
// Application/Network host URIs against.
var allowedSchemes = map[string]bool{
	"amqp":  true,
	"amqps": true,
	"mqtt":  true,
	"mqtts": true,
}

// ValidateHostURI parses hostURI and rejects anything whose scheme is not
// one of amqp/amqps/mqtt/mqtts.
func ValidateHostURI(hostURI string) error {
	u, err := url.Parse(hostURI)
	if err != nil {
		return fmt.Errorf("%w: invalid host_uri: %v", storage.ErrInvalidArgument, err)
	}
	if !allowedSchemes[u.Scheme] {
		return fmt.Errorf("%w: host_uri scheme %q must be one of amqp, amqps, mqtt, mqtts", storage.ErrInvalidArgument, u.Scheme)
	}
	return nil
}

// HostKey truncates a host URI down to "scheme://host:port", dropping any
// path/query. Application/Network update compares this truncated form to
// decide whether a host actually changed (spec.md §4.5).
func HostKey(hostURI string) string {
	u, err := url.Parse(hostURI)
	if err != nil {
		return hostURI
	}
	return u.Scheme + "://" + u.Host
}

// DriverFor picks the driver family ("amqp" or "mqtt") implied by a host
// URI's scheme.
func DriverFor(hostURI string) string {
	u, err := url.Parse(hostURI)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "amqp", "amqps":
		return "amqp"
	case "mqtt", "mqtts":
		return "mqtt"
	default:
		return ""
	}
}
