package trustomer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const configJSON = `{
	"send_config": {
		"generate_oru_messages": true,
		"oxygen_masks": [
			{"code": "RA", "name": "Room Air"},
			{"code": "V{mask_percent}", "name": "Venturi"}
		]
	},
	"hl7_config": {
		"outgoing_receiving_application": "TRUST_TIE_ADT",
		"outgoing_receiving_facility": "TRUST",
		"outgoing_sending_application": "DHOS",
		"outgoing_sending_facility": "SENSYNE",
		"outgoing_processing_id": "P",
		"outgoing_timestamp_format": "%Y%m%d%H%M%S.%L%z"
	}
}`

func TestGet_FetchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/dhos/v1/trustomer/test" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Trustomer") != "test" {
			t.Errorf("missing X-Trustomer header")
		}
		if r.Header.Get("Authorization") != "secret" {
			t.Errorf("missing Authorization header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(configJSON))
	}))
	defer srv.Close()

	client := New(srv.URL, "test", "secret", time.Hour)

	cfg, err := client.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.SendConfig.GenerateORUMessages {
		t.Error("expected generate_oru_messages true")
	}
	if cfg.HL7Config.OutgoingSendingApplication != "DHOS" {
		t.Errorf("sending application = %q", cfg.HL7Config.OutgoingSendingApplication)
	}
	if len(cfg.SendConfig.OxygenMasks) != 2 {
		t.Errorf("expected 2 oxygen masks, got %d", len(cfg.SendConfig.OxygenMasks))
	}

	if _, err := client.Get(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single upstream fetch, got %d", got)
	}
}

func TestGet_ServesStaleOnError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(configJSON))
	}))
	defer srv.Close()

	client := New(srv.URL, "test", "secret", 0)

	if _, err := client.Get(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fail.Store(true)
	cfg, err := client.Get(context.Background())
	if err != nil {
		t.Fatalf("expected stale config, got error: %v", err)
	}
	if cfg.HL7Config.OutgoingReceivingFacility != "TRUST" {
		t.Errorf("unexpected stale config %+v", cfg)
	}
}

func TestGet_ErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(srv.URL, "test", "secret", time.Hour)
	if _, err := client.Get(context.Background()); err == nil {
		t.Fatal("expected error when no cached config exists")
	}
}
