package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func decodeUA(t *testing.T, body []byte) UserAgentInfo {
	t.Helper()
	var info UserAgentInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return info
}

func TestUserAgent_Get(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(http.MethodGet, "/v1/user-agent", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	info := decodeUA(t, rec.Body.Bytes())

	if !strings.Contains(info.UserAgent, "Chrome/141.0.7390.122 Mobile Safari/537.36") {
		t.Errorf("user_agent = %q, want mobile Chrome UA", info.UserAgent)
	}
	if strings.Contains(info.DesktopUserAgent, "Mobile") {
		t.Errorf("desktop_user_agent = %q, want no Mobile token", info.DesktopUserAgent)
	}
	if info.MajorVersion != "141" || info.Platform != "Android" {
		t.Errorf("major/platform = %s/%s, want 141/Android", info.MajorVersion, info.Platform)
	}
	if len(info.Brands) == 0 || len(info.ReducedBrands) >= len(info.Brands) {
		t.Errorf("brands = %v reduced = %v, want reduced list shorter", info.Brands, info.ReducedBrands)
	}
}

func TestUserAgent_Override(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(http.MethodPut, "/v1/user-agent/override", `{"user_agent":"CustomAgent/2.0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d", rec.Code, http.StatusOK)
	}
	if info := decodeUA(t, rec.Body.Bytes()); info.UserAgent != "CustomAgent/2.0" || info.Override != "CustomAgent/2.0" {
		t.Errorf("after PUT user_agent = %q override = %q", info.UserAgent, info.Override)
	}
	if s.backend.recreates != 1 {
		t.Errorf("recreates = %d, want 1", s.backend.recreates)
	}

	rec = s.do(http.MethodDelete, "/v1/user-agent/override", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d, want %d", rec.Code, http.StatusOK)
	}
	if info := decodeUA(t, rec.Body.Bytes()); info.Override != "" || info.UserAgent == "CustomAgent/2.0" {
		t.Errorf("after DELETE user_agent = %q override = %q", info.UserAgent, info.Override)
	}
	if s.backend.recreates != 2 {
		t.Errorf("recreates = %d, want 2", s.backend.recreates)
	}
}

func TestUserAgent_OverrideValidation(t *testing.T) {
	s := newTestStack(t)

	for _, body := range []string{`{"user_agent":"   "}`, `{"user_agent":`} {
		rec := s.do(http.MethodPut, "/v1/user-agent/override", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
	if s.backend.recreates != 0 {
		t.Errorf("recreates = %d, want 0", s.backend.recreates)
	}
}

func TestUserAgent_RecreateFailure(t *testing.T) {
	s := newTestStack(t)
	s.backend.recreateErr = errors.New("no backend")

	rec := s.do(http.MethodPut, "/v1/user-agent/override", `{"user_agent":"UA/1"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
