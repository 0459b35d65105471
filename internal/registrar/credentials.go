package registrar

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// CloudflareCredentials authenticate the Token-REST variant.
type CloudflareCredentials struct {
	APIToken string `json:"api_token"`
	ZoneID   string `json:"zone_id"`
}

// Route53Credentials authenticate the Signed-REST variant.
type Route53Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	HostedZoneID    string `json:"hosted_zone_id"`
	Region          string `json:"region"`
}

// NamecheapCredentials authenticate the Query-API variant. ClientIP must be
// on the account's API allow-list.
type NamecheapCredentials struct {
	APIKey   string `json:"api_key"`
	APIUser  string `json:"api_user"`
	Username string `json:"username"`
	ClientIP string `json:"client_ip"`
}

// ParseCredentials decodes the JSON credential document for tag and checks
// that every required field is present. The returned value is one of the
// *XxxCredentials types.
func ParseCredentials(tag Tag, raw []byte) (any, error) {
	switch tag {
	case Cloudflare:
		var c CloudflareCredentials
		if err := decodeCredentials(raw, &c); err != nil {
			return nil, err
		}
		if err := requireFields(map[string]string{"api_token": c.APIToken, "zone_id": c.ZoneID}); err != nil {
			return nil, err
		}
		return &c, nil
	case Route53:
		var c Route53Credentials
		if err := decodeCredentials(raw, &c); err != nil {
			return nil, err
		}
		if c.Region == "" {
			c.Region = "us-east-1"
		}
		if err := requireFields(map[string]string{
			"access_key_id":     c.AccessKeyID,
			"secret_access_key": c.SecretAccessKey,
			"hosted_zone_id":    c.HostedZoneID,
		}); err != nil {
			return nil, err
		}
		return &c, nil
	case Namecheap:
		var c NamecheapCredentials
		if err := decodeCredentials(raw, &c); err != nil {
			return nil, err
		}
		if c.Username == "" {
			c.Username = c.APIUser
		}
		if err := requireFields(map[string]string{
			"api_key":   c.APIKey,
			"api_user":  c.APIUser,
			"client_ip": c.ClientIP,
		}); err != nil {
			return nil, err
		}
		return &c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRegistrar, tag)
	}
}

// CredentialsFromMap builds the JSON credential document for tag from flat
// key/value pairs, validating it on the way.
func CredentialsFromMap(tag Tag, kv map[string]string) ([]byte, error) {
	raw, err := json.Marshal(kv)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	if _, err := ParseCredentials(tag, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeCredentials(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidCredentials, strings.Join(missing, ", "))
	}
	return nil
}
