package cda

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const responseEnvelope = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body><ns2:acceptMessageResponse xmlns:ns2="http://ws.connectors.connect.mirth.com/">
<return>MESSAGE ACCEPTED</return>
</ns2:acceptMessageResponse></soap:Body></soap:Envelope>`

// wsdl advertises Mirth's internal bind address, which the client must
// rewrite onto the configured host.
func wsdlFor(path string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<definitions xmlns="http://schemas.xmlsoap.org/wsdl/" xmlns:soap="http://schemas.xmlsoap.org/wsdl/soap/">
  <service name="MirthService">
    <port name="MirthPort">
      <soap:address location="http://mirth-internal:8081%s"/>
    </port>
  </service>
</definitions>`, path)
}

func TestAcceptMessage(t *testing.T) {
	const document = `<ClinicalDocument><title>Discharge & summary</title></ClinicalDocument>`

	var soapBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Error("missing basic auth")
		}
		switch {
		case r.Method == http.MethodGet && r.URL.RawQuery == "wsdl":
			io.WriteString(w, wsdlFor("/services/cda"))
		case r.Method == http.MethodPost && r.URL.Path == "/services/cda":
			body, _ := io.ReadAll(r.Body)
			soapBody = string(body)
			io.WriteString(w, responseEnvelope)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := New(srv.URL+"/services/cda", "admin", "secret")
	got, err := client.AcceptMessage(context.Background(), document)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "MESSAGE ACCEPTED" {
		t.Errorf("response = %q", got)
	}
	if !strings.Contains(soapBody, "acceptMessage") {
		t.Errorf("missing acceptMessage operation in %q", soapBody)
	}
	// XML special characters in the document must arrive escaped.
	if !strings.Contains(soapBody, "Discharge &amp; summary") {
		t.Errorf("document not escaped in %q", soapBody)
	}
}

func TestAcceptMessage_WSDLFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(srv.URL, "admin", "wrong")
	if _, err := client.AcceptMessage(context.Background(), "<doc/>"); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfigured(t *testing.T) {
	if New("", "", "").Configured() {
		t.Error("empty base URL should not be configured")
	}
	if !New("http://mirth:8081/cda", "u", "p").Configured() {
		t.Error("expected configured client")
	}
	var nilClient *Client
	if nilClient.Configured() {
		t.Error("nil client should not be configured")
	}
}

func TestWSDLServiceAddress_Missing(t *testing.T) {
	_, err := wsdlServiceAddress(strings.NewReader(`<definitions></definitions>`))
	if err == nil {
		t.Fatal("expected error for wsdl without address")
	}
}
