package registrar

import (
	"context"
	"fmt"

	"github.com/cloudflare/cloudflare-go/v2"
	"github.com/cloudflare/cloudflare-go/v2/dns"
	"github.com/cloudflare/cloudflare-go/v2/option"
)

// CloudflareClient is the Token-REST variant: bearer token auth against a
// single zone.
type CloudflareClient struct {
	api    *cloudflare.Client
	zoneID string
	domain string
}

// NewCloudflareClient builds a client scoped to one zone. The zone id comes
// from the credentials, so no zone lookup is made.
func NewCloudflareClient(creds *CloudflareCredentials, domain string, opts Options) *CloudflareClient {
	reqOpts := []option.RequestOption{
		option.WithAPIToken(creds.APIToken),
		option.WithMaxRetries(0),
		option.WithHTTPClient(opts.httpClient()),
	}
	if opts.CloudflareBaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.CloudflareBaseURL))
	}
	return &CloudflareClient{
		api:    cloudflare.NewClient(reqOpts...),
		zoneID: creds.ZoneID,
		domain: CanonicalName(domain),
	}
}

// ListRecords implements Client.
func (c *CloudflareClient) ListRecords(ctx context.Context, kind RecordType) ([]Record, error) {
	params := dns.RecordListParams{ZoneID: cloudflare.F(c.zoneID)}
	if kind != "" {
		params.Type = cloudflare.F(dns.RecordListParamsType(kind))
	}

	var records []Record
	pager := c.api.DNS.Records.ListAutoPaging(ctx, params)
	for pager.Next() {
		r := pager.Current()
		content := ""
		if s, ok := r.Content.(string); ok {
			content = s
		}
		records = append(records, Record{
			ID:       r.ID,
			Type:     RecordType(r.Type),
			Name:     CanonicalName(r.Name),
			Value:    content,
			TTL:      int(r.TTL),
			Priority: int(r.Priority),
		})
	}
	if err := pager.Err(); err != nil {
		return nil, fmt.Errorf("cloudflare: list records: %w", err)
	}
	return records, nil
}

// CreateRecord implements Client.
func (c *CloudflareClient) CreateRecord(ctx context.Context, in RecordInput) (string, error) {
	priority := 0
	if in.Priority != nil {
		priority = *in.Priority
	}
	res, err := c.api.DNS.Records.New(ctx, dns.RecordNewParams{
		ZoneID: cloudflare.F(c.zoneID),
		Record: cloudflareRecordParam(in.Type, CanonicalName(in.Name), in.Value, ttlOrDefault(in.TTL), priority),
	})
	if err != nil {
		return "", fmt.Errorf("cloudflare: create record: %w", err)
	}
	return res.ID, nil
}

// DeleteRecord implements Client.
func (c *CloudflareClient) DeleteRecord(ctx context.Context, recordID string) error {
	_, err := c.api.DNS.Records.Delete(ctx, recordID, dns.RecordDeleteParams{
		ZoneID: cloudflare.F(c.zoneID),
	})
	if err != nil {
		return fmt.Errorf("cloudflare: delete record %s: %w", recordID, err)
	}
	return nil
}

// UpdateRecord implements Client. The current record is read first so the
// unchanged fields can be sent back alongside the patch.
func (c *CloudflareClient) UpdateRecord(ctx context.Context, recordID string, patch RecordPatch) error {
	current, err := c.find(ctx, recordID)
	if err != nil {
		return err
	}

	value, ttl, priority := current.Value, current.TTL, current.Priority
	if patch.Value != nil {
		value = *patch.Value
	}
	if patch.TTL != nil {
		ttl = *patch.TTL
	}
	if patch.Priority != nil {
		priority = *patch.Priority
	}

	_, err = c.api.DNS.Records.Edit(ctx, recordID, dns.RecordEditParams{
		ZoneID: cloudflare.F(c.zoneID),
		Record: cloudflareRecordParam(current.Type, current.Name, value, ttlOrDefault(ttl), priority),
	})
	if err != nil {
		return fmt.Errorf("cloudflare: update record %s: %w", recordID, err)
	}
	return nil
}

// VerifyOwnership implements Client.
func (c *CloudflareClient) VerifyOwnership(ctx context.Context, token string) (*Verification, error) {
	return verifyTXT(ctx, c, c.domain, token)
}

func (c *CloudflareClient) find(ctx context.Context, recordID string) (*Record, error) {
	records, err := c.ListRecords(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == recordID {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("cloudflare: %w: %s", ErrRecordNotFound, recordID)
}

func cloudflareRecordParam(kind RecordType, name, value string, ttl, priority int) dns.RecordUnionParam {
	switch kind {
	case TypeAAAA:
		return dns.AAAARecordParam{
			Name:    cloudflare.F(name),
			Type:    cloudflare.F(dns.AAAARecordTypeAAAA),
			Content: cloudflare.F(value),
			TTL:     cloudflare.F(dns.TTL(ttl)),
		}
	case TypeCNAME:
		return dns.CNAMERecordParam{
			Name:    cloudflare.F(name),
			Type:    cloudflare.F(dns.CNAMERecordTypeCNAME),
			Content: cloudflare.F[interface{}](value),
			TTL:     cloudflare.F(dns.TTL(ttl)),
		}
	case TypeTXT:
		return dns.TXTRecordParam{
			Name:    cloudflare.F(name),
			Type:    cloudflare.F(dns.TXTRecordTypeTXT),
			Content: cloudflare.F(value),
			TTL:     cloudflare.F(dns.TTL(ttl)),
		}
	case TypeMX:
		return dns.MXRecordParam{
			Name:     cloudflare.F(name),
			Type:     cloudflare.F(dns.MXRecordTypeMX),
			Content:  cloudflare.F(value),
			TTL:      cloudflare.F(dns.TTL(ttl)),
			Priority: cloudflare.F(float64(priority)),
		}
	case TypeNS:
		return dns.NSRecordParam{
			Name:    cloudflare.F(name),
			Type:    cloudflare.F(dns.NSRecordTypeNS),
			Content: cloudflare.F(value),
			TTL:     cloudflare.F(dns.TTL(ttl)),
		}
	default:
		return dns.ARecordParam{
			Name:    cloudflare.F(name),
			Type:    cloudflare.F(dns.ARecordTypeA),
			Content: cloudflare.F(value),
			TTL:     cloudflare.F(dns.TTL(ttl)),
		}
	}
}
