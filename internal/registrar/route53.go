package registrar

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/route53"
)

const route53IDSeparator = "|"

// Route53Client is the Signed-REST variant. Route53 has no per-record id, so
// record ids handed out by this client are a name|type composite that
// identifies a record set.
type Route53Client struct {
	api    *route53.Route53
	zoneID string
	domain string
}

// NewRoute53Client builds a SigV4-signing client for one hosted zone.
func NewRoute53Client(creds *Route53Credentials, domain string, opts Options) (*Route53Client, error) {
	cfg := &aws.Config{
		Region:      aws.String(creds.Region),
		Credentials: credentials.NewStaticCredentials(creds.AccessKeyID, creds.SecretAccessKey, ""),
		HTTPClient:  opts.httpClient(),
		MaxRetries:  aws.Int(0),
	}
	if opts.Route53Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Route53Endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("route53: new session: %w", err)
	}
	return &Route53Client{
		api:    route53.New(sess),
		zoneID: creds.HostedZoneID,
		domain: CanonicalName(domain),
	}, nil
}

// Route53RecordID returns the composite id for a record set.
func Route53RecordID(name string, kind RecordType) string {
	return CanonicalName(name) + route53IDSeparator + string(kind)
}

func parseRoute53RecordID(id string) (string, RecordType, error) {
	i := strings.LastIndex(id, route53IDSeparator)
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("route53: malformed record id %q", id)
	}
	return id[:i], RecordType(id[i+1:]), nil
}

// ListRecords implements Client. Route53 cannot filter by type alone, so the
// whole zone is read and filtered here.
func (c *Route53Client) ListRecords(ctx context.Context, kind RecordType) ([]Record, error) {
	var records []Record
	input := &route53.ListResourceRecordSetsInput{HostedZoneId: aws.String(c.zoneID)}
	err := c.api.ListResourceRecordSetsPagesWithContext(ctx, input,
		func(page *route53.ListResourceRecordSetsOutput, _ bool) bool {
			for _, set := range page.ResourceRecordSets {
				if kind != "" && RecordType(aws.StringValue(set.Type)) != kind {
					continue
				}
				records = append(records, recordsFromSet(set)...)
			}
			return true
		})
	if err != nil {
		return nil, route53Error("list records", err)
	}
	return records, nil
}

// CreateRecord implements Client.
func (c *Route53Client) CreateRecord(ctx context.Context, in RecordInput) (string, error) {
	name := CanonicalName(in.Name)
	set := &route53.ResourceRecordSet{
		Name: aws.String(name + "."),
		Type: aws.String(string(in.Type)),
		TTL:  aws.Int64(int64(ttlOrDefault(in.TTL))),
		ResourceRecords: []*route53.ResourceRecord{
			{Value: aws.String(route53Value(in.Type, in.Value, in.Priority))},
		},
	}
	if err := c.change(ctx, &route53.Change{Action: aws.String(route53.ChangeActionCreate), ResourceRecordSet: set}); err != nil {
		return "", route53Error("create record", err)
	}
	return Route53RecordID(name, in.Type), nil
}

// DeleteRecord implements Client. The live record set is fetched first
// because Route53 only deletes a set when given its exact current contents.
func (c *Route53Client) DeleteRecord(ctx context.Context, recordID string) error {
	set, err := c.fetchSet(ctx, recordID)
	if err != nil {
		return err
	}
	if err := c.change(ctx, &route53.Change{Action: aws.String(route53.ChangeActionDelete), ResourceRecordSet: set}); err != nil {
		return route53Error("delete record", err)
	}
	return nil
}

// UpdateRecord implements Client as a delete and re-create of the record
// set inside a single change batch.
func (c *Route53Client) UpdateRecord(ctx context.Context, recordID string, patch RecordPatch) error {
	current, err := c.fetchSet(ctx, recordID)
	if err != nil {
		return err
	}

	kind := RecordType(aws.StringValue(current.Type))
	next := &route53.ResourceRecordSet{
		Name:            current.Name,
		Type:            current.Type,
		TTL:             current.TTL,
		ResourceRecords: current.ResourceRecords,
	}
	if patch.TTL != nil {
		next.TTL = aws.Int64(int64(ttlOrDefault(*patch.TTL)))
	}
	if patch.Value != nil || patch.Priority != nil {
		existing := recordsFromSet(current)
		value, priority := "", 0
		if len(existing) > 0 {
			value, priority = existing[0].Value, existing[0].Priority
		}
		if patch.Value != nil {
			value = *patch.Value
		}
		if patch.Priority != nil {
			priority = *patch.Priority
		}
		next.ResourceRecords = []*route53.ResourceRecord{
			{Value: aws.String(route53Value(kind, value, &priority))},
		}
	}

	err = c.change(ctx,
		&route53.Change{Action: aws.String(route53.ChangeActionDelete), ResourceRecordSet: current},
		&route53.Change{Action: aws.String(route53.ChangeActionCreate), ResourceRecordSet: next},
	)
	if err != nil {
		return route53Error("update record", err)
	}
	return nil
}

// VerifyOwnership implements Client.
func (c *Route53Client) VerifyOwnership(ctx context.Context, token string) (*Verification, error) {
	return verifyTXT(ctx, c, c.domain, token)
}

func (c *Route53Client) change(ctx context.Context, changes ...*route53.Change) error {
	_, err := c.api.ChangeResourceRecordSetsWithContext(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(c.zoneID),
		ChangeBatch:  &route53.ChangeBatch{Changes: changes},
	})
	return err
}

func (c *Route53Client) fetchSet(ctx context.Context, recordID string) (*route53.ResourceRecordSet, error) {
	name, kind, err := parseRoute53RecordID(recordID)
	if err != nil {
		return nil, err
	}
	out, err := c.api.ListResourceRecordSetsWithContext(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(c.zoneID),
		StartRecordName: aws.String(name + "."),
		StartRecordType: aws.String(string(kind)),
		MaxItems:        aws.String("1"),
	})
	if err != nil {
		return nil, route53Error("fetch record set", err)
	}
	for _, set := range out.ResourceRecordSets {
		if CanonicalName(aws.StringValue(set.Name)) == name && RecordType(aws.StringValue(set.Type)) == kind {
			return set, nil
		}
	}
	return nil, fmt.Errorf("route53: %w: %s", ErrRecordNotFound, recordID)
}

func recordsFromSet(set *route53.ResourceRecordSet) []Record {
	kind := RecordType(aws.StringValue(set.Type))
	name := CanonicalName(unescapeRoute53Name(aws.StringValue(set.Name)))
	id := Route53RecordID(name, kind)

	out := make([]Record, 0, len(set.ResourceRecords))
	for _, rr := range set.ResourceRecords {
		r := Record{
			ID:    id,
			Type:  kind,
			Name:  name,
			Value: aws.StringValue(rr.Value),
			TTL:   int(aws.Int64Value(set.TTL)),
		}
		switch kind {
		case TypeTXT:
			r.Value = unquoteTXT(r.Value)
		case TypeMX:
			if prio, host, ok := strings.Cut(r.Value, " "); ok {
				if p, err := strconv.Atoi(prio); err == nil {
					r.Priority, r.Value = p, host
				}
			}
		}
		out = append(out, r)
	}
	return out
}

func route53Value(kind RecordType, value string, priority *int) string {
	switch kind {
	case TypeTXT:
		return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
	case TypeMX:
		p := 10
		if priority != nil {
			p = *priority
		}
		return fmt.Sprintf("%d %s", p, value)
	default:
		return value
	}
}

// unescapeRoute53Name reverses the octal escaping Route53 applies to
// characters such as '*' (\052).
func unescapeRoute53Name(name string) string {
	if !strings.Contains(name, `\`) {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '\\' && i+3 < len(name) {
			if v, err := strconv.ParseUint(name[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

func route53Error(op string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return fmt.Errorf("route53: %s: %w", op, &APIError{Registrar: Route53, Code: aerr.Code(), Message: aerr.Message()})
	}
	return fmt.Errorf("route53: %s: %w", op, err)
}
