package registrar

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const (
	// NamecheapProductionURL is the production XML API endpoint.
	NamecheapProductionURL = "https://api.namecheap.com/xml.response"
	// NamecheapSandboxURL is the sandbox XML API endpoint.
	NamecheapSandboxURL = "https://api.sandbox.namecheap.com/xml.response"

	cmdGetHosts = "namecheap.domains.dns.getHosts"
	cmdSetHosts = "namecheap.domains.dns.setHosts"
)

// NamecheapClient is the Query-API variant. The API only exposes the full
// host list of a domain, so writes are read-modify-write and calls need the
// domain split into its second-level and public-suffix parts.
type NamecheapClient struct {
	http    *http.Client
	baseURL string
	creds   NamecheapCredentials
	domain  string
	apex    string
	sld     string
	tld     string
}

// NewNamecheapClient builds a client for domain. It fails when domain has no
// registrable part under the public suffix list.
func NewNamecheapClient(creds *NamecheapCredentials, domain string, opts Options) (*NamecheapClient, error) {
	domain = CanonicalName(domain)
	apex, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return nil, fmt.Errorf("namecheap: split domain %q: %w", domain, err)
	}
	tld, _ := publicsuffix.PublicSuffix(apex)
	sld := strings.TrimSuffix(apex, "."+tld)

	baseURL := opts.NamecheapBaseURL
	if baseURL == "" {
		baseURL = NamecheapProductionURL
	}
	return &NamecheapClient{
		http:    opts.httpClient(),
		baseURL: baseURL,
		creds:   *creds,
		domain:  domain,
		apex:    apex,
		sld:     sld,
		tld:     tld,
	}, nil
}

type namecheapResponse struct {
	XMLName xml.Name `xml:"ApiResponse"`
	Status  string   `xml:"Status,attr"`
	Errors  []struct {
		Number  string `xml:"Number,attr"`
		Message string `xml:",chardata"`
	} `xml:"Errors>Error"`
	GetHosts struct {
		Hosts []namecheapHost `xml:"host"`
	} `xml:"CommandResponse>DomainDNSGetHostsResult"`
	SetHosts struct {
		IsSuccess bool `xml:"IsSuccess,attr"`
	} `xml:"CommandResponse>DomainDNSSetHostsResult"`
}

type namecheapHost struct {
	HostID  string `xml:"HostId,attr"`
	Name    string `xml:"Name,attr"`
	Type    string `xml:"Type,attr"`
	Address string `xml:"Address,attr"`
	MXPref  string `xml:"MXPref,attr"`
	TTL     string `xml:"TTL,attr"`
}

// ListRecords implements Client.
func (c *NamecheapClient) ListRecords(ctx context.Context, kind RecordType) ([]Record, error) {
	hosts, err := c.getHosts(ctx)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, h := range hosts {
		if kind != "" && RecordType(strings.ToUpper(h.Type)) != kind {
			continue
		}
		records = append(records, c.toRecord(h))
	}
	return records, nil
}

// CreateRecord implements Client by reading every host, appending the new
// one and writing the whole list back.
func (c *NamecheapClient) CreateRecord(ctx context.Context, in RecordInput) (string, error) {
	hosts, err := c.getHosts(ctx)
	if err != nil {
		return "", err
	}

	mxPref := ""
	if in.Type == TypeMX {
		p := 10
		if in.Priority != nil {
			p = *in.Priority
		}
		mxPref = strconv.Itoa(p)
	}
	added := namecheapHost{
		Name:    c.relativeName(in.Name),
		Type:    string(in.Type),
		Address: in.Value,
		MXPref:  mxPref,
		TTL:     strconv.Itoa(ttlOrDefault(in.TTL)),
	}
	if err := c.setHosts(ctx, append(hosts, added)); err != nil {
		return "", err
	}

	// setHosts does not return ids; read back to find the one assigned.
	after, err := c.getHosts(ctx)
	if err != nil {
		return "", err
	}
	for _, h := range after {
		if strings.EqualFold(h.Name, added.Name) && strings.EqualFold(h.Type, added.Type) && h.Address == added.Address {
			return h.HostID, nil
		}
	}
	return "", fmt.Errorf("namecheap: created host %s not found on read-back", added.Name)
}

// DeleteRecord is not supported by this variant.
func (c *NamecheapClient) DeleteRecord(_ context.Context, recordID string) error {
	return fmt.Errorf("namecheap: delete record %s: %w", recordID, ErrUnsupportedOperation)
}

// UpdateRecord is not supported by this variant.
func (c *NamecheapClient) UpdateRecord(_ context.Context, recordID string, _ RecordPatch) error {
	return fmt.Errorf("namecheap: update record %s: %w", recordID, ErrUnsupportedOperation)
}

// VerifyOwnership implements Client.
func (c *NamecheapClient) VerifyOwnership(ctx context.Context, token string) (*Verification, error) {
	return verifyTXT(ctx, c, c.domain, token)
}

func (c *NamecheapClient) toRecord(h namecheapHost) Record {
	ttl, _ := strconv.Atoi(h.TTL)
	r := Record{
		ID:    h.HostID,
		Type:  RecordType(strings.ToUpper(h.Type)),
		Name:  FQDN(h.Name, c.apex),
		Value: h.Address,
		TTL:   ttl,
	}
	if r.Type == TypeMX {
		r.Priority, _ = strconv.Atoi(h.MXPref)
	}
	return r
}

// relativeName turns a fully-qualified name into the host label the API
// expects, relative to the registrable domain.
func (c *NamecheapClient) relativeName(fqdn string) string {
	fqdn = CanonicalName(fqdn)
	if fqdn == c.apex {
		return "@"
	}
	return strings.TrimSuffix(fqdn, "."+c.apex)
}

func (c *NamecheapClient) baseParams(command string) url.Values {
	v := url.Values{}
	v.Set("ApiUser", c.creds.APIUser)
	v.Set("ApiKey", c.creds.APIKey)
	v.Set("UserName", c.creds.Username)
	v.Set("ClientIp", c.creds.ClientIP)
	v.Set("Command", command)
	v.Set("SLD", c.sld)
	v.Set("TLD", c.tld)
	return v
}

func (c *NamecheapClient) getHosts(ctx context.Context) ([]namecheapHost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+c.baseParams(cmdGetHosts).Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("namecheap: build request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("namecheap: get hosts: %w", err)
	}
	return resp.GetHosts.Hosts, nil
}

func (c *NamecheapClient) setHosts(ctx context.Context, hosts []namecheapHost) error {
	form := c.baseParams(cmdSetHosts)
	hasMX := false
	for i, h := range hosts {
		n := strconv.Itoa(i + 1)
		form.Set("HostName"+n, h.Name)
		form.Set("RecordType"+n, h.Type)
		form.Set("Address"+n, h.Address)
		if h.TTL != "" {
			form.Set("TTL"+n, h.TTL)
		}
		if strings.EqualFold(h.Type, string(TypeMX)) {
			hasMX = true
			form.Set("MXPref"+n, h.MXPref)
		}
	}
	if hasMX {
		form.Set("EmailType", "MX")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("namecheap: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("namecheap: set hosts: %w", err)
	}
	if !resp.SetHosts.IsSuccess {
		return fmt.Errorf("namecheap: set hosts: %w", &APIError{Registrar: Namecheap, Message: "setHosts reported IsSuccess=false"})
	}
	return nil
}

func (c *NamecheapClient) do(req *http.Request) (*namecheapResponse, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &APIError{Registrar: Namecheap, Code: strconv.Itoa(res.StatusCode), Message: http.StatusText(res.StatusCode)}
	}

	var out namecheapResponse
	if err := xml.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !strings.EqualFold(out.Status, "OK") {
		apiErr := &APIError{Registrar: Namecheap, Message: "request failed"}
		if len(out.Errors) > 0 {
			apiErr.Code = out.Errors[0].Number
			apiErr.Message = strings.TrimSpace(out.Errors[0].Message)
		}
		return nil, apiErr
	}
	return &out, nil
}
