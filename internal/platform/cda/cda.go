// Package cda delivers HL7v3 CDA documents to a Mirth Connect channel
// over its SOAP web service listener. Mirth advertises its endpoint in
// the WSDL using whatever address it binds locally, which is rarely
// reachable from outside the cluster, so the advertised endpoint is
// rewritten onto the configured host before use.
package cda

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const mirthNamespace = "http://ws.connectors.connect.mirth.com/"

// Client posts CDA documents to a Mirth web service listener.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// New builds a Mirth client. baseURL is the channel listener URL; the
// WSDL is fetched from it on each send.
func New(baseURL, username, password string) *Client {
	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether a Mirth host has been set up. Deployments
// without a CDA flow leave it unset.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// AcceptMessage submits a CDA document to the channel's acceptMessage
// operation and returns Mirth's response text.
func (c *Client) AcceptMessage(ctx context.Context, document string) (string, error) {
	endpoint, err := c.resolveEndpoint(ctx)
	if err != nil {
		return "", err
	}

	var envelope bytes.Buffer
	envelope.WriteString(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ws="` + mirthNamespace + `">`)
	envelope.WriteString(`<soapenv:Header/><soapenv:Body><ws:acceptMessage><arg0>`)
	if err := xml.EscapeText(&envelope, []byte(document)); err != nil {
		return "", fmt.Errorf("cda: escape document: %w", err)
	}
	envelope.WriteString(`</arg0></ws:acceptMessage></soapenv:Body></soapenv:Envelope>`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &envelope)
	if err != nil {
		return "", fmt.Errorf("cda: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cda: post to mirth: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("cda: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cda: mirth returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	result := parseAcceptMessageResponse(body)
	log.Debug().Str("response", result).Msg("mirth accepted CDA message")
	return result, nil
}

// resolveEndpoint fetches the WSDL and returns the advertised service
// address, with its scheme and host replaced by the configured base so
// Mirth's internal bind address is never dialled directly.
func (c *Client) resolveEndpoint(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?wsdl", nil)
	if err != nil {
		return "", fmt.Errorf("cda: build wsdl request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cda: fetch wsdl: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cda: wsdl fetch returned HTTP %d", resp.StatusCode)
	}

	location, err := wsdlServiceAddress(resp.Body)
	if err != nil {
		return "", err
	}
	return c.overrideHost(location)
}

// wsdlServiceAddress pulls the soap:address location out of a WSDL.
func wsdlServiceAddress(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return "", fmt.Errorf("cda: no service address in wsdl")
		}
		if err != nil {
			return "", fmt.Errorf("cda: parse wsdl: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "address" {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "location" && attr.Value != "" {
				return attr.Value, nil
			}
		}
	}
}

func (c *Client) overrideHost(location string) (string, error) {
	advertised, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("cda: parse advertised endpoint: %w", err)
	}
	if advertised.Scheme != "http" && advertised.Scheme != "https" {
		return location, nil
	}
	configured, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("cda: parse configured mirth url: %w", err)
	}
	advertised.Scheme = configured.Scheme
	advertised.Host = configured.Host
	return advertised.String(), nil
}

// parseAcceptMessageResponse extracts the return element text from a
// SOAP response; if the shape is unexpected the raw body is returned for
// logging.
func parseAcceptMessageResponse(body []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	inReturn := false
	for {
		token, err := decoder.Token()
		if err != nil {
			return strings.TrimSpace(string(body))
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "return" {
				inReturn = true
			}
		case xml.CharData:
			if inReturn {
				return string(bytes.TrimSpace(t))
			}
		case xml.EndElement:
			if t.Name.Local == "return" {
				return ""
			}
		}
	}
}
