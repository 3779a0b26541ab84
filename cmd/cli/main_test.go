package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /create-site", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"Unauthorized"}`))
			return
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		seen = append(seen, body["businessName"], body["blueprint"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"siteId":5,"siteUrl":"https://n/acme/","adminUrl":"https://n/acme/wp-admin/","message":"Site created successfully"}`))
	})
	mux.HandleFunc("GET /site-status/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"siteId":5,"slug":"acme","status":"completed","siteUrl":"https://n/acme/","blueprint":"default","businessMeta":{"businessName":"Acme"},"updatedAt":"2026-01-02T03:04:05Z"}`))
	})
	mux.HandleFunc("GET /templates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"templates":[{"id":"default","name":"Default","description":"Home, About, Contact"}]}`))
	})
	mux.HandleFunc("DELETE /api/admin/blocklist/{ip}", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.PathValue("ip"))
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"ip not blocked"}`))
	})
	mux.HandleFunc("GET /api/admin/audit/recent", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"records":[{"action":"ip_blocked"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestSiteCreate(t *testing.T) {
	srv, seen := fakeAPI(t)
	var out bytes.Buffer

	err := run(context.Background(), newAPIClient(srv.URL, "tok"), &out, "site",
		[]string{"create", "-name", "Acme", "-email", "a@acme.test", "-template", "cpa-onepage"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "site 5")
	assert.Contains(t, out.String(), "https://n/acme/wp-admin/")
	assert.Equal(t, []string{"Acme", "cpa-onepage"}, *seen)
}

func TestSiteCreateUnauthorized(t *testing.T) {
	srv, _ := fakeAPI(t)
	err := run(context.Background(), newAPIClient(srv.URL, "bad"), &bytes.Buffer{}, "site",
		[]string{"create", "-name", "Acme", "-email", "a@acme.test"})

	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Unauthorized", apiErr.Message)
}

func TestSiteCreateRequiresFlags(t *testing.T) {
	err := run(context.Background(), newAPIClient("http://unused", ""), &bytes.Buffer{}, "site", []string{"create", "-name", "Acme"})
	assert.EqualError(t, err, "name and email are required")
}

func TestSiteStatusAndTemplates(t *testing.T) {
	srv, _ := fakeAPI(t)
	c := newAPIClient(srv.URL, "")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, &out, "site", []string{"status", "5"}))
	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, out.String(), "Acme")

	assert.Error(t, run(context.Background(), c, &out, "site", []string{"status", "five"}))

	out.Reset()
	require.NoError(t, run(context.Background(), c, &out, "templates", nil))
	assert.Contains(t, out.String(), "default")
	assert.Contains(t, out.String(), "Home, About, Contact")
}

func TestAdminCommands(t *testing.T) {
	srv, seen := fakeAPI(t)
	c := newAPIClient(srv.URL, "tok")

	err := run(context.Background(), c, &bytes.Buffer{}, "admin", []string{"unblock", "198.51.100.7"})
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, &out, "admin", []string{"audit", "-limit", "5"}))
	assert.Contains(t, out.String(), "ip_blocked")
	assert.Equal(t, []string{"198.51.100.7", "5"}, *seen)
}
