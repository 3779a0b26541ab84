package handler

import "net/http"

// Routes bundles the handlers served by the API
type Routes struct {
	CreateSite *CreateSiteHandler
	SiteStatus *SiteStatusHandler
	Templates  *TemplatesHandler
	Health     *HealthHandler
	Security   *SecurityHandler
	Audit      *AuditHandler

	// Admin wraps every /api/admin route; Body wraps routes that read a body.
	Admin func(http.Handler) http.Handler
	Body  func(http.Handler) http.Handler
}

// Register mounts the routes on mux
func (rt Routes) Register(mux *http.ServeMux) {
	admin, body := rt.Admin, rt.Body
	if admin == nil {
		admin = passthrough
	}
	if body == nil {
		body = passthrough
	}

	mux.Handle("POST /create-site", body(rt.CreateSite))
	mux.Handle("GET /site-status/{siteId}", rt.SiteStatus)
	mux.Handle("GET /templates", rt.Templates)
	mux.HandleFunc("GET /healthz", rt.Health.Health)
	mux.HandleFunc("GET /readyz", rt.Health.Ready)

	mux.Handle("POST /api/admin/blocklist", admin(body(http.HandlerFunc(rt.Security.Block))))
	mux.Handle("DELETE /api/admin/blocklist/{ip}", admin(http.HandlerFunc(rt.Security.Unblock)))
	mux.Handle("GET /api/admin/security/stats", admin(http.HandlerFunc(rt.Security.Stats)))
	mux.Handle("GET /api/admin/audit/recent", admin(http.HandlerFunc(rt.Audit.Recent)))
	mux.Handle("GET /api/admin/audit/stream", admin(http.HandlerFunc(rt.Audit.Stream)))
}

func passthrough(next http.Handler) http.Handler { return next }
